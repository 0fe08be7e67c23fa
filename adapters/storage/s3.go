package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Skryldev/image-variants/config"
	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// S3API is the subset of *s3.Client the adapter needs besides the uploader.
type S3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 is the StorageAdapter backed by AWS S3 (or S3-compatible stores).
// Variant keys are placed under prefix inside bucket.
type S3 struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Client builds an *s3.Client from static credentials.  An empty key
// pair leaves Credentials nil so the SDK falls back to anonymous access.
func NewS3Client(cfg config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// NewS3 creates an S3 adapter.  client must not be nil.
func NewS3(client S3API, bucket, prefix string) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 storage: client must not be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket must not be empty")
	}
	return &S3{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

func (s *S3) objectKey(key core.StorageKey) string {
	return path.Join(s.prefix, key.Path)
}

func (s *S3) Location(key core.StorageKey) string {
	return "s3://" + s.bucket + "/" + s.objectKey(key)
}

func (s *S3) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	in := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(key)),
		Body:     r,
		Metadata: meta,
	}
	if ct := contentType(key.Path); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return apperrors.Transient("s3.put", fmt.Errorf("upload %s: %w", s.Location(key), err))
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, apperrors.Transient("s3.exists", err)
}

var _ core.StorageAdapter = (*S3)(nil)
