package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agromind-sense/internal/domain"
)

type PostgresReadingsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresReadingsRepo(db *sql.DB, logger *zap.Logger) *PostgresReadingsRepo {
	return &PostgresReadingsRepo{db: db, logger: logger}
}

var _ ReadingsRepository = (*PostgresReadingsRepo)(nil)

const upsertReadingSQL = `
	INSERT INTO readings (tenant_id, sensor_id, reading_id, bucket_start, ts,
	                      "values", hash, payload_raw, meta, expires_at, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
	ON CONFLICT (tenant_id, sensor_id, reading_id)
	DO UPDATE SET "values" = readings."values" || EXCLUDED."values",
	              ts = EXCLUDED.ts,
	              hash = EXCLUDED.hash,
	              payload_raw = EXCLUDED.payload_raw,
	              meta = EXCLUDED.meta,
	              expires_at = EXCLUDED.expires_at,
	              received_at = now()`

func (r *PostgresReadingsRepo) WriteBatch(ctx context.Context, tenantID string, readings []domain.Reading,
	statuses map[string]StatusMerge) error {

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertReadingSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range readings {
		rd := &readings[i]
		values, err := json.Marshal(rd.Values)
		if err != nil {
			return fmt.Errorf("marshal values for %s: %w", rd.ReadingID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			tenantID, rd.SensorID, rd.ReadingID, rd.BucketStart, rd.Ts,
			values, rd.Hash, rd.PayloadRaw, nullableJSON(rd.Meta), rd.ExpiresAt); err != nil {
			return fmt.Errorf("stage reading %s: %w", rd.ReadingID, err)
		}
	}

	for sensorID, merge := range statuses {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sensors
			SET status = COALESCE(status, '{}'::jsonb) || $3::jsonb,
			    last_reading = COALESCE($4::jsonb, last_reading),
			    updated_at = now()
			WHERE tenant_id = $1 AND sensor_id = $2`,
			tenantID, sensorID, []byte(merge.Status), nullableJSON(merge.LastReading)); err != nil {
			return fmt.Errorf("stage status merge for %s: %w", sensorID, err)
		}
	}

	return tx.Commit()
}

func (r *PostgresReadingsRepo) GetReading(ctx context.Context, tenantID, sensorID, readingID string) (*domain.Reading, error) {
	rd, err := scanReading(r.db.QueryRowContext(ctx, `
		SELECT tenant_id::text, sensor_id::text, reading_id, bucket_start, ts,
		       "values", hash, payload_raw, meta, expires_at, received_at
		FROM readings
		WHERE tenant_id = $1 AND sensor_id = $2 AND reading_id = $3`,
		tenantID, sensorID, readingID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rd, err
}

func (r *PostgresReadingsRepo) InsertReading(ctx context.Context, rd *domain.Reading, status json.RawMessage) error {
	values, err := json.Marshal(rd.Values)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertReadingSQL,
		rd.TenantID, rd.SensorID, rd.ReadingID, rd.BucketStart, rd.Ts,
		values, rd.Hash, rd.PayloadRaw, nullableJSON(rd.Meta), rd.ExpiresAt); err != nil {
		return err
	}
	if len(status) > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sensors
			SET status = COALESCE(status, '{}'::jsonb) || $3::jsonb,
			    updated_at = now()
			WHERE tenant_id = $1 AND sensor_id = $2`,
			rd.TenantID, rd.SensorID, []byte(status)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresReadingsRepo) InsertAck(ctx context.Context, a *domain.Ack, status json.RawMessage) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO acks (tenant_id, sensor_id, ack_id, hash, payload_raw, ok, msg, new_ver, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		a.TenantID, a.SensorID, a.AckID, a.Hash, a.PayloadRaw, a.Ok, a.Msg, a.NewVer); err != nil {
		return err
	}
	if len(status) > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE sensors
			SET status = COALESCE(status, '{}'::jsonb) || $3::jsonb,
			    updated_at = now()
			WHERE tenant_id = $1 AND sensor_id = $2`,
			a.TenantID, a.SensorID, []byte(status)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresReadingsRepo) QueryRange(ctx context.Context, tenantID, sensorID string, from, to time.Time, limit int) ([]domain.Reading, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id::text, sensor_id::text, reading_id, bucket_start, ts,
		       "values", hash, payload_raw, meta, expires_at, received_at
		FROM readings
		WHERE tenant_id = $1 AND sensor_id = $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts DESC
		LIMIT $5`,
		tenantID, sensorID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reading
	for rows.Next() {
		rd, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rd)
	}
	return out, rows.Err()
}

func (r *PostgresReadingsRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time, batchSize int, dryRun bool) (*PurgeResult, error) {
	result := &PurgeResult{Cutoff: cutoff, DryRun: dryRun}

	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id::text, sensor_id::text, reading_id
		FROM readings
		WHERE ts < $1
		ORDER BY ts ASC
		LIMIT $2`,
		cutoff, batchSize)
	if err != nil {
		return nil, err
	}
	type key struct{ tenant, sensor, reading string }
	var victims []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.tenant, &k.sensor, &k.reading); err != nil {
			rows.Close()
			return nil, err
		}
		victims = append(victims, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(victims) == 0 {
		return result, nil
	}

	result.First = victims[0].tenant + "/" + victims[0].sensor + "/" + victims[0].reading
	last := victims[len(victims)-1]
	result.Last = last.tenant + "/" + last.sensor + "/" + last.reading

	if dryRun {
		result.Deleted = len(victims)
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, k := range victims {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM readings
			WHERE tenant_id = $1 AND sensor_id = $2 AND reading_id = $3`,
			k.tenant, k.sensor, k.reading); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	result.Deleted = len(victims)
	return result, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (*domain.Reading, error) {
	var (
		rd          domain.Reading
		bucketStart sql.NullInt64
		values      []byte
		payloadRaw  sql.NullString
		meta        []byte
	)
	err := row.Scan(&rd.TenantID, &rd.SensorID, &rd.ReadingID, &bucketStart, &rd.Ts,
		&values, &rd.Hash, &payloadRaw, &meta, &rd.ExpiresAt, &rd.ReceivedAt)
	if err != nil {
		return nil, err
	}
	if bucketStart.Valid {
		rd.BucketStart = &bucketStart.Int64
	}
	if payloadRaw.Valid {
		rd.PayloadRaw = payloadRaw.String
	}
	if len(values) > 0 {
		if err := json.Unmarshal(values, &rd.Values); err != nil {
			return nil, fmt.Errorf("unmarshal reading values: %w", err)
		}
	}
	rd.Meta = meta
	return &rd, nil
}
