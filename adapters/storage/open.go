package storage

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/Skryldev/image-variants/config"
	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// Open returns the adapter for target: "s3://bucket/prefix",
// "gs://bucket/prefix", or a local directory path.  The returned closer is
// never nil.
func Open(ctx context.Context, target string, cfg config.Config) (core.StorageAdapter, io.Closer, error) {
	switch {
	case strings.HasPrefix(target, "s3://"):
		bucket, prefix := splitBucket(strings.TrimPrefix(target, "s3://"))
		s, err := NewS3(NewS3Client(cfg.S3), bucket, prefix)
		if err != nil {
			return nil, nopCloser{}, apperrors.New(apperrors.CategoryConfig, "storage.open", err)
		}
		return s, nopCloser{}, nil

	case strings.HasPrefix(target, "gs://"):
		bucket, prefix := splitBucket(strings.TrimPrefix(target, "gs://"))
		g, err := NewGCS(ctx, cfg.GCS, bucket, prefix)
		if err != nil {
			return nil, nopCloser{}, apperrors.New(apperrors.CategoryConfig, "storage.open", err)
		}
		return g, g, nil

	default:
		l, err := NewLocal(target, 0)
		if err != nil {
			return nil, nopCloser{}, apperrors.New(apperrors.CategoryConfig, "storage.open", err)
		}
		return l, nopCloser{}, nil
	}
}

func splitBucket(s string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(s, "/")
	return bucket, strings.Trim(prefix, "/")
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".avif":
		return "image/avif"
	case ".webp":
		return "image/webp"
	case ".jpeg", ".jpg":
		return "image/jpeg"
	}
	return ""
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
