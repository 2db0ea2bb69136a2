package gorm

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
)

// gzipPrefix marks a compressed snapshot payload. Plain payloads are raw JSON,
// which can never start with this prefix.
const gzipPrefix = "gzip:"

func fromDomainExecution(e *model.Execution) *ExecutionEntity {
	return &ExecutionEntity{
		ID:               e.ID,
		EntityType:       e.EntityType,
		Filter:           e.Filter,
		Action:           e.Action,
		Params:           e.Params,
		BatchSize:        e.BatchSize,
		TotalRecords:     e.TotalRecords,
		ProcessedRecords: e.ProcessedRecords,
		FailedRecords:    e.FailedRecords,
		TotalBatches:     e.TotalBatches,
		Status:           e.Status,
		FailureReason:    e.FailureReason,
		UndoEnabled:      e.UndoEnabled,
		UndoExpiresAt:    e.UndoExpiresAt,
		UndoneAt:         e.UndoneAt,
		ScheduledAt:      e.ScheduledAt,
		Actor:            e.Actor,
		CreateTime:       e.CreateTime,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		LastUpdated:      e.LastUpdated,
		Version:          e.Version,
	}
}

func toDomainExecution(e *ExecutionEntity) *model.Execution {
	return &model.Execution{
		ID:               e.ID,
		EntityType:       e.EntityType,
		Filter:           e.Filter,
		Action:           e.Action,
		Params:           e.Params,
		BatchSize:        e.BatchSize,
		TotalRecords:     e.TotalRecords,
		ProcessedRecords: e.ProcessedRecords,
		FailedRecords:    e.FailedRecords,
		TotalBatches:     e.TotalBatches,
		Status:           e.Status,
		FailureReason:    e.FailureReason,
		UndoEnabled:      e.UndoEnabled,
		UndoExpiresAt:    e.UndoExpiresAt,
		UndoneAt:         e.UndoneAt,
		ScheduledAt:      e.ScheduledAt,
		Actor:            e.Actor,
		CreateTime:       e.CreateTime,
		StartTime:        e.StartTime,
		EndTime:          e.EndTime,
		LastUpdated:      e.LastUpdated,
		Version:          e.Version,
	}
}

func fromDomainBatch(b *model.Batch) *BatchEntity {
	return &BatchEntity{
		ID:             b.ID,
		ExecutionID:    b.ExecutionID,
		Sequence:       b.Sequence,
		RecordIDs:      b.RecordIDs,
		Size:           b.Size,
		Status:         b.Status,
		ProcessedCount: b.ProcessedCount,
		FailedCount:    b.FailedCount,
		ErrorDetail:    b.ErrorDetail,
		Attempt:        b.Attempt,
		CreateTime:     b.CreateTime,
		StartTime:      b.StartTime,
		EndTime:        b.EndTime,
		LastUpdated:    b.LastUpdated,
	}
}

func toDomainBatch(b *BatchEntity) *model.Batch {
	return &model.Batch{
		ID:             b.ID,
		ExecutionID:    b.ExecutionID,
		Sequence:       b.Sequence,
		RecordIDs:      b.RecordIDs,
		Size:           b.Size,
		Status:         b.Status,
		ProcessedCount: b.ProcessedCount,
		FailedCount:    b.FailedCount,
		ErrorDetail:    b.ErrorDetail,
		Attempt:        b.Attempt,
		CreateTime:     b.CreateTime,
		StartTime:      b.StartTime,
		EndTime:        b.EndTime,
		LastUpdated:    b.LastUpdated,
	}
}

func fromDomainSnapshot(s *model.SnapshotRecord, compressThreshold int) (*SnapshotEntity, error) {
	payload, err := encodeFields(s.Fields, compressThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot fields (ID: %s): %w", s.ID, err)
	}
	return &SnapshotEntity{
		ID:            s.ID,
		ExecutionID:   s.ExecutionID,
		EntityType:    s.EntityType,
		RecordID:      s.RecordID,
		Fields:        payload,
		UndoOperation: s.UndoOperation,
		Undone:        s.Undone,
		UndoneAt:      s.UndoneAt,
		UndoneBy:      s.UndoneBy,
		CreateTime:    s.CreateTime,
	}, nil
}

func toDomainSnapshot(s *SnapshotEntity) (*model.SnapshotRecord, error) {
	fields, err := decodeFields(s.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot fields (ID: %s): %w", s.ID, err)
	}
	return &model.SnapshotRecord{
		ID:            s.ID,
		ExecutionID:   s.ExecutionID,
		EntityType:    s.EntityType,
		RecordID:      s.RecordID,
		Fields:        fields,
		UndoOperation: s.UndoOperation,
		Undone:        s.Undone,
		UndoneAt:      s.UndoneAt,
		UndoneBy:      s.UndoneBy,
		CreateTime:    s.CreateTime,
	}, nil
}

// encodeFields serializes a field map, gzip-compressing payloads larger than
// the threshold. A threshold of zero or below disables compression.
func encodeFields(fields model.FieldMap, compressThreshold int) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	if compressThreshold <= 0 || len(raw) < compressThreshold {
		return string(raw), nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return gzipPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeFields(payload string) (model.FieldMap, error) {
	if payload == "" {
		return model.FieldMap{}, nil
	}
	raw := []byte(payload)
	if strings.HasPrefix(payload, gzipPrefix) {
		compressed, err := base64.StdEncoding.DecodeString(payload[len(gzipPrefix):])
		if err != nil {
			return nil, err
		}
		zr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		raw, err = io.ReadAll(zr)
		if err != nil {
			return nil, err
		}
	}
	var fields model.FieldMap
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
