package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/Skryldev/image-variants/config"
	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// GCS is the StorageAdapter backed by Google Cloud Storage.
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS opens a client for bucket.  Without a credentials file the client
// uses application default credentials.
func NewGCS(ctx context.Context, cfg config.GCSConfig, bucket, prefix string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage: bucket must not be empty")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage: new client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCS) objectName(key core.StorageKey) string {
	return path.Join(g.prefix, key.Path)
}

func (g *GCS) Location(key core.StorageKey) string {
	return "gs://" + g.bucket + "/" + g.objectName(key)
}

// Put streams r into the object.  The object only becomes visible when the
// writer is closed successfully.
func (g *GCS) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "gcs.put", err)
	}
	wc := g.client.Bucket(g.bucket).Object(g.objectName(key)).NewWriter(ctx)
	wc.ContentType = contentType(key.Path)
	wc.Metadata = meta

	if _, err := io.Copy(wc, r); err != nil {
		wc.Close()
		return apperrors.Transient("gcs.put.copy", err)
	}
	if err := wc.Close(); err != nil {
		return apperrors.Transient("gcs.put.close", err)
	}
	return nil
}

func (g *GCS) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "gcs.exists", err)
	}
	_, err := g.client.Bucket(g.bucket).Object(g.objectName(key)).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	return false, apperrors.Transient("gcs.exists", err)
}

// Close releases the underlying client.
func (g *GCS) Close() error { return g.client.Close() }

var _ core.StorageAdapter = (*GCS)(nil)
