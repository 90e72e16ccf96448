// Package storage archives uploaded documents in object storage.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/storage/minio"
	"github.com/feichai0017/study-ingestor/pkg/storage/s3"
)

type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// UploadPrefix is the key prefix of archived uploads.
const UploadPrefix = "uploads/"

type Storage interface {
	Store(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// CleanupBefore deletes objects under prefix last modified before
	// threshold and returns how many were removed.
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}

// NewStorage creates the backend named by storageType.
func NewStorage(storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		client, err := s3.GetClient(log)
		if err != nil {
			return nil, err
		}
		return client, nil
	case StorageTypeMinio:
		client, err := minio.GetClient(log)
		if err != nil {
			return nil, err
		}
		return client, nil
	case StorageTypeMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ArchiveKey is the object key of an upload: uploads/<type>/<recordID>.pdf.
func ArchiveKey(docType, recordID string) string {
	return fmt.Sprintf("%s%s/%s.pdf", UploadPrefix, docType, recordID)
}

// PendingKey is the object key of an upload queued before its record exists.
func PendingKey(docType, uploadID string) string {
	return fmt.Sprintf("%spending/%s/%s.pdf", UploadPrefix, docType, uploadID)
}
