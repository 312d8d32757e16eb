package repository

import (
	"context"
	"encoding/json"
	"time"

	"agromind-sense/internal/domain"
)

// StatusMerge is the per-sensor status update staged with a batch.
type StatusMerge struct {
	Status      json.RawMessage
	LastReading json.RawMessage
}

// PurgeResult reports one purge pass.
type PurgeResult struct {
	Cutoff  time.Time
	Deleted int
	First   string
	Last    string
	DryRun  bool
}

// ReadingsRepository persists readings, acks and the purge job.
type ReadingsRepository interface {
	// WriteBatch stages every reading upsert plus the per-sensor
	// status merges of one ingest call into a single transaction;
	// no partial write is observable.
	WriteBatch(ctx context.Context, tenantID string, readings []domain.Reading,
		statuses map[string]StatusMerge) error

	// GetReading returns nil when the id is unoccupied (legacy dedup
	// existence check).
	GetReading(ctx context.Context, tenantID, sensorID, readingID string) (*domain.Reading, error)

	// InsertReading writes one legacy reading together with its
	// sensor status merge, atomically.
	InsertReading(ctx context.Context, r *domain.Reading, status json.RawMessage) error

	InsertAck(ctx context.Context, a *domain.Ack, status json.RawMessage) error

	QueryRange(ctx context.Context, tenantID, sensorID string, from, to time.Time, limit int) ([]domain.Reading, error)

	// PurgeOlderThan deletes at most batchSize readings older than
	// cutoff, oldest first.
	PurgeOlderThan(ctx context.Context, cutoff time.Time, batchSize int, dryRun bool) (*PurgeResult, error)
}
