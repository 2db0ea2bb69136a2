// Package archive moves purged undo snapshots to long-term storage as Parquet
// files. Backends are selected by configuration; the local file system backend
// is the default and a GCS backend is available for durable retention.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

// ObjectStorage uploads finalized archive objects.
type ObjectStorage interface {
	// Upload writes data to the given bucket and object name.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Close releases the backend client.
	Close() error
}

// LocalStorage implements ObjectStorage on the local file system. The bucket
// is treated as a directory under BaseDir.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates a LocalStorage rooted at baseDir, creating it when missing.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local archive storage: base directory must be specified")
	}
	info, err := os.Stat(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("local archive storage: failed to stat '%s': %w", baseDir, err)
		}
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			return nil, fmt.Errorf("local archive storage: failed to create '%s': %w", baseDir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local archive storage: '%s' is not a directory", baseDir)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

func (s *LocalStorage) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath := filepath.Join(s.baseDir, bucket, filepath.FromSlash(objectName))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", fullPath, err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write data to '%s': %w", fullPath, err)
	}
	logger.Debugf("Archived object to '%s' (local storage).", fullPath)
	return nil
}

func (s *LocalStorage) Close() error {
	return nil
}

// GCSStorage implements ObjectStorage on Google Cloud Storage.
type GCSStorage struct {
	client *gcs.Client
}

// NewGCSStorage creates a GCSStorage. When credentialsFile is empty the client
// falls back to application default credentials.
func NewGCSStorage(ctx context.Context, credentialsFile string) (*GCSStorage, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client}, nil
}

func (s *GCSStorage) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := s.client.Bucket(bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object 'gs://%s/%s': %w", bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object 'gs://%s/%s': %w", bucket, objectName, err)
	}
	logger.Debugf("Archived object to 'gs://%s/%s'.", bucket, objectName)
	return nil
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// Verify interfaces
var (
	_ ObjectStorage = (*LocalStorage)(nil)
	_ ObjectStorage = (*GCSStorage)(nil)
)
