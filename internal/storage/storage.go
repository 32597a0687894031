// Package storage provides S3-compatible object storage for uploaded import
// files, backed by MinIO.
package storage

import (
	"context"
	"io"
)

// Service is the object storage surface the importer needs.
type Service interface {
	// UploadFile stores a file and returns the generated file key.
	UploadFile(ctx context.Context, bucket, folder, fileName, contentType string, reader io.Reader, size int64) (string, error)

	// DownloadFile opens a stored object. The caller closes the reader.
	DownloadFile(ctx context.Context, bucket, fileKey string) (io.ReadCloser, error)

	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// ValidateContentType checks that the upload is a delimited text file.
	ValidateContentType(contentType string) error

	// ValidateFileSize checks the upload size against the configured limit.
	ValidateFileSize(sizeBytes int64) error
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	IsMinIOEnabled() bool
}
