package archive

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

// snapshotRow is the Parquet row layout for one archived snapshot. Field maps
// are serialized to JSON so the schema stays flat.
type snapshotRow struct {
	ID            string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExecutionID   string `parquet:"name=execution_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntityType    string `parquet:"name=entity_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordID      string `parquet:"name=record_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	UndoOperation string `parquet:"name=undo_operation, type=BYTE_ARRAY, convertedtype=UTF8"`
	Fields        string `parquet:"name=fields, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreateTime    int64  `parquet:"name=create_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// encodeParquet serializes snapshots into a single Parquet file in memory.
func encodeParquet(snapshots []*model.SnapshotRecord) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)

	pw, err := writer.NewParquetWriterFromWriter(buf, new(snapshotRow), int64(len(snapshots)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, s := range snapshots {
		fields, err := json.Marshal(s.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize fields of snapshot '%s': %w", s.ID, err)
		}
		row := snapshotRow{
			ID:            s.ID,
			ExecutionID:   s.ExecutionID,
			EntityType:    s.EntityType,
			RecordID:      s.RecordID,
			UndoOperation: string(s.UndoOperation),
			Fields:        string(fields),
			CreateTime:    s.CreateTime.UnixMilli(),
		}
		if err := pw.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write snapshot '%s' to Parquet: %w", s.ID, err)
		}
	}

	// WriteStop can panic inside the library; convert that to an error.
	if err := stopWriter(pw); err != nil {
		return nil, err
	}
	return buf, nil
}

func stopWriter(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Parquet writer panicked during WriteStop: %v", r)
			logger.Errorf("Snapshot archive: recovered from panic during WriteStop: %v", r)
		}
	}()
	if stopErr := pw.WriteStop(); stopErr != nil {
		err = fmt.Errorf("failed to stop Parquet writer: %w", stopErr)
	}
	return err
}
