package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds the connection settings of an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3Sink stores results in an S3 bucket through minio-go.
type S3Sink struct {
	client *minio.Client
	bucket string
}

// NewS3Client creates a minio client for cfg.
func NewS3Client(cfg S3Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return client, nil
}

// NewS3Sink wraps client for bucket.
func NewS3Sink(client *minio.Client, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *S3Sink) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket exists '%s': %w", s.bucket, err)
	}

	if exists {
		return nil
	}

	makeErr := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region, ObjectLocking: false})
	if makeErr != nil {
		return fmt.Errorf("s3 make bucket '%s': %w", s.bucket, makeErr)
	}

	return nil
}

// Save uploads data under name and returns its s3:// location.
func (s *S3Sink) Save(ctx context.Context, name string, data []byte) (string, error) {
	validateErr := validateKey(name)
	if validateErr != nil {
		return "", validateErr
	}

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		name,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentTypeWAV,
		},
	)
	if err != nil {
		return "", fmt.Errorf("s3 put object '%s': %w", name, err)
	}

	return objectLocation(schemeS3, s.bucket, name), nil
}

// Open streams a saved result.
func (s *S3Sink) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	key, keyErr := objectKey(location, schemeS3, s.bucket)
	if keyErr != nil {
		return nil, keyErr
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object '%s': %w", key, err)
	}

	return obj, nil
}

// Delete removes a saved result.
func (s *S3Sink) Delete(ctx context.Context, location string) error {
	key, keyErr := objectKey(location, schemeS3, s.bucket)
	if keyErr != nil {
		return keyErr
	}

	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("s3 remove object '%s': %w", key, err)
	}

	return nil
}
