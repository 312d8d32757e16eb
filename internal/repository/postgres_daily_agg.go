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

type PostgresDailyAggRepo struct {
	db         *sql.DB
	logger     *zap.Logger
	maxRetries int
}

func NewPostgresDailyAggRepo(db *sql.DB, logger *zap.Logger, maxRetries int) *PostgresDailyAggRepo {
	if maxRetries <= 0 {
		maxRetries = DefaultTxRetries
	}
	return &PostgresDailyAggRepo{db: db, logger: logger, maxRetries: maxRetries}
}

var _ DailyAggRepository = (*PostgresDailyAggRepo)(nil)

// MergeDay is the single write path for daily aggregates: read the
// current document, fold the update set against the seen set, write the
// whole document back, all inside one serializable transaction. A
// conflicting concurrent merge re-runs the closure from the read.
func (r *PostgresDailyAggRepo) MergeDay(ctx context.Context, tenantID, sensorID, day string, dayStart time.Time,
	updates map[string]map[string]float64) error {

	if len(updates) == 0 {
		return nil
	}

	err := runSerializable(ctx, r.db, r.maxRetries, func(tx *sql.Tx) error {
		agg := domain.NewDailyAggregate(tenantID, sensorID, day, dayStart)

		var metricsRaw, seenRaw []byte
		err := tx.QueryRowContext(ctx, `
			SELECT metrics, seen
			FROM daily_agg
			WHERE tenant_id = $1 AND sensor_id = $2 AND day = $3`,
			tenantID, sensorID, day).Scan(&metricsRaw, &seenRaw)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil {
			if err := json.Unmarshal(metricsRaw, &agg.Metrics); err != nil {
				return fmt.Errorf("unmarshal metrics for %s/%s: %w", sensorID, day, err)
			}
			if err := json.Unmarshal(seenRaw, &agg.Seen); err != nil {
				return fmt.Errorf("unmarshal seen set for %s/%s: %w", sensorID, day, err)
			}
		}

		folded := agg.Fold(updates)
		if folded == 0 {
			// Every reading already counted; nothing to write.
			return nil
		}

		metricsOut, err := json.Marshal(agg.Metrics)
		if err != nil {
			return err
		}
		seenOut, err := json.Marshal(agg.Seen)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_agg (tenant_id, sensor_id, day, day_start, metrics, seen, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (tenant_id, sensor_id, day)
			DO UPDATE SET metrics = EXCLUDED.metrics,
			              seen = EXCLUDED.seen,
			              updated_at = now()`,
			tenantID, sensorID, day, dayStart, metricsOut, seenOut)
		return err
	})
	if err != nil {
		r.logger.Error("daily aggregate merge failed",
			zap.String("tenant_id", tenantID),
			zap.String("sensor_id", sensorID),
			zap.String("day", day),
			zap.Error(err))
	}
	return err
}

func (r *PostgresDailyAggRepo) QueryDays(ctx context.Context, tenantID, sensorID string, from time.Time, limit int) ([]domain.DailyAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id::text, sensor_id::text, day, day_start, metrics, seen, updated_at
		FROM daily_agg
		WHERE tenant_id = $1 AND sensor_id = $2 AND day_start >= $3
		ORDER BY day_start ASC
		LIMIT $4`,
		tenantID, sensorID, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DailyAggregate
	for rows.Next() {
		var (
			agg        domain.DailyAggregate
			metricsRaw []byte
			seenRaw    []byte
		)
		if err := rows.Scan(&agg.TenantID, &agg.SensorID, &agg.Day, &agg.DayStart,
			&metricsRaw, &seenRaw, &agg.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metricsRaw, &agg.Metrics); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(seenRaw, &agg.Seen); err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}
