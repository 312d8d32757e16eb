package repository

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"agromind-sense/internal/domain"
)

// StatsRepository backs the tenant statistics rollup job.
type StatsRepository interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
	ComputeTenantStats(ctx context.Context, tenantID string, staleCutoff time.Time, lowBatt float64) (*domain.TenantStats, error)
	UpsertTenantStats(ctx context.Context, stats *domain.TenantStats) error
}

type PostgresStatsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStatsRepo(db *sql.DB, logger *zap.Logger) *PostgresStatsRepo {
	return &PostgresStatsRepo{db: db, logger: logger}
}

var _ StatsRepository = (*PostgresStatsRepo)(nil)

func (r *PostgresStatsRepo) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tenant_id::text FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresStatsRepo) ComputeTenantStats(ctx context.Context, tenantID string, staleCutoff time.Time, lowBatt float64) (*domain.TenantStats, error) {
	stats := &domain.TenantStats{TenantID: tenantID}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE (status->>'last_seen_at')::timestamptz >= $2),
		       COUNT(*) FILTER (WHERE (status->>'battery_pct')::float8 < $3)
		FROM sensors
		WHERE tenant_id = $1`,
		tenantID, staleCutoff, lowBatt).Scan(&stats.SensorsTotal, &stats.SensorsActive, &stats.BatteryLow)
	if err != nil {
		return nil, err
	}
	stats.SensorsStale = stats.SensorsTotal - stats.SensorsActive
	if stats.SensorsStale < 0 {
		stats.SensorsStale = 0
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE severity = 'critical')
		FROM alerts
		WHERE tenant_id = $1 AND status = 'open'`,
		tenantID).Scan(&stats.AlertsOpen, &stats.CriticalOpen)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status <> 'done'),
		       COUNT(*) FILTER (WHERE created_at >= now() - interval '24 hours')
		FROM ai_recommendations
		WHERE tenant_id = $1`,
		tenantID).Scan(&stats.RecsOpen, &stats.RecsLast24h)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *PostgresStatsRepo) UpsertTenantStats(ctx context.Context, stats *domain.TenantStats) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenant_stats (tenant_id, stale_ms, sensors_total, sensors_active, sensors_stale,
		                          battery_low, alerts_open, critical_open, recs_open, recs_last_24h, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (tenant_id)
		DO UPDATE SET stale_ms = EXCLUDED.stale_ms,
		              sensors_total = EXCLUDED.sensors_total,
		              sensors_active = EXCLUDED.sensors_active,
		              sensors_stale = EXCLUDED.sensors_stale,
		              battery_low = EXCLUDED.battery_low,
		              alerts_open = EXCLUDED.alerts_open,
		              critical_open = EXCLUDED.critical_open,
		              recs_open = EXCLUDED.recs_open,
		              recs_last_24h = EXCLUDED.recs_last_24h,
		              updated_at = now()`,
		stats.TenantID, stats.StaleMs, stats.SensorsTotal, stats.SensorsActive, stats.SensorsStale,
		stats.BatteryLow, stats.AlertsOpen, stats.CriticalOpen, stats.RecsOpen, stats.RecsLast24h)
	return err
}
