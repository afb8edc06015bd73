// Package storage keeps sales order attachments in an S3 compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectPrefix = "sales-orders/"

// ErrInvalidRef indicates a file reference this store did not issue.
var ErrInvalidRef = errors.New("storage: invalid file reference")

// Config describes the MinIO connection.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// File is an upload request.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// MinioStore uploads and removes attachment objects.
type MinioStore struct {
	client *minio.Client
	bucket string
	clock  func() time.Time
}

// NewMinioStore connects a MinIO client for the bucket.
func NewMinioStore(cfg Config) (*MinioStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("storage: endpoint and bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: new client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket, clock: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureBucket creates the bucket when missing.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("storage: bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: make bucket: %w", err)
	}
	return nil
}

// Upload stores the file and returns its reference.
func (s *MinioStore) Upload(ctx context.Context, file File) (string, error) {
	if file.Body == nil {
		return "", errors.New("storage: empty upload")
	}
	ref := ObjectName(s.clock(), file.Name, uuid.New())
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, ref, file.Body, file.Size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-name": path.Base(filepath.ToSlash(file.Name))},
	})
	if err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	return ref, nil
}

// Delete removes the referenced object.
func (s *MinioStore) Delete(ctx context.Context, ref string) error {
	if err := ValidateRef(ref); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remove object: %w", err)
	}
	return nil
}

// ObjectName builds the dated object key for an upload.
func ObjectName(now time.Time, filename string, id uuid.UUID) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return fmt.Sprintf("%s%s/%s%s", objectPrefix, now.Format("2006/01/02"), id.String(), ext)
}

// ValidateRef checks that ref is a key produced by ObjectName.
func ValidateRef(ref string) error {
	if !strings.HasPrefix(ref, objectPrefix) || strings.Contains(ref, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}
