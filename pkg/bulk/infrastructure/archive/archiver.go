package archive

import (
	"context"
	"fmt"
	"path"
	"time"

	config "github.com/tigerroll/marlin/pkg/bulk/core/config"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	undo "github.com/tigerroll/marlin/pkg/bulk/engine/undo"
	exception "github.com/tigerroll/marlin/pkg/bulk/support/util/exception"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const moduleName = "archive"

const parquetContentType = "application/vnd.apache.parquet"

// ParquetArchiver implements undo.SnapshotArchiver by writing snapshots to a
// Parquet object per execution.
type ParquetArchiver struct {
	storage ObjectStorage
	bucket  string
	prefix  string
}

// NewParquetArchiver creates a ParquetArchiver writing under bucket/prefix.
func NewParquetArchiver(storage ObjectStorage, bucket, prefix string) *ParquetArchiver {
	return &ParquetArchiver{storage: storage, bucket: bucket, prefix: prefix}
}

// Archive writes all snapshots of one execution as a single Parquet object.
// The object name embeds the purge timestamp so repeated purges never collide.
func (a *ParquetArchiver) Archive(ctx context.Context, executionID string, snapshots []*model.SnapshotRecord) error {
	if len(snapshots) == 0 {
		return nil
	}

	buf, err := encodeParquet(snapshots)
	if err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to encode snapshots of execution '%s'", executionID), err, false, false)
	}

	objectName := path.Join(a.prefix, executionID, fmt.Sprintf("snapshots-%s.parquet", time.Now().UTC().Format("20060102T150405Z")))
	if err := a.storage.Upload(ctx, a.bucket, objectName, buf, parquetContentType); err != nil {
		return exception.NewBulkError(moduleName, fmt.Sprintf("failed to upload snapshot archive '%s'", objectName), err, false, true)
	}

	logger.Infof("Archived %d snapshots of execution '%s' to '%s/%s'", len(snapshots), executionID, a.bucket, objectName)
	return nil
}

// NewArchiverFromConfig builds the configured SnapshotArchiver. It returns nil
// when archival is disabled, which makes the purger delete without archiving.
func NewArchiverFromConfig(ctx context.Context, cfg *config.UndoConfig) (undo.SnapshotArchiver, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}

	var (
		storage ObjectStorage
		err     error
	)
	switch cfg.Archive.Backend {
	case "gcs":
		storage, err = NewGCSStorage(ctx, cfg.Archive.CredentialsFile)
	case "local", "":
		storage, err = NewLocalStorage(cfg.Archive.Path)
	default:
		return nil, fmt.Errorf("unsupported snapshot archive backend: '%s'", cfg.Archive.Backend)
	}
	if err != nil {
		return nil, err
	}

	bucket := cfg.Archive.Bucket
	prefix := ""
	if cfg.Archive.Backend == "gcs" {
		prefix = cfg.Archive.Path
	}
	return NewParquetArchiver(storage, bucket, prefix), nil
}

// Verify interfaces
var _ undo.SnapshotArchiver = (*ParquetArchiver)(nil)
