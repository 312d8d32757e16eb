package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"agromind-sense/internal/domain"
)

type PostgresConfigsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresConfigsRepo(db *sql.DB, logger *zap.Logger) *PostgresConfigsRepo {
	return &PostgresConfigsRepo{db: db, logger: logger}
}

var _ ConfigsRepository = (*PostgresConfigsRepo)(nil)

// PublishNewVersion reads the sensor's current config version, writes
// version current+1 and advances the activeConfig pointer, all in one
// serializable transaction so concurrent publishes can never allocate
// the same version.
func (r *PostgresConfigsRepo) PublishNewVersion(ctx context.Context, tenantID, sensorID, planJSON, crc, createdBy string) (int, error) {
	var newVer int
	err := runSerializable(ctx, r.db, DefaultTxRetries, func(tx *sql.Tx) error {
		var activeCfg []byte
		err := tx.QueryRowContext(ctx, `
			SELECT active_config
			FROM sensors
			WHERE tenant_id = $1 AND sensor_id = $2`,
			tenantID, sensorID).Scan(&activeCfg)
		if err == sql.ErrNoRows {
			return domain.ErrSensorNotFound
		}
		if err != nil {
			return err
		}

		curVer := 0
		if len(activeCfg) > 0 {
			var ac domain.ActiveConfig
			if err := json.Unmarshal(activeCfg, &ac); err == nil {
				curVer = ac.Ver
			}
		}
		newVer = curVer + 1

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sensor_configs (tenant_id, sensor_id, ver, crc, plan_json, created_by, published_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			tenantID, sensorID, newVer, crc, planJSON, createdBy); err != nil {
			return err
		}

		pointer, err := json.Marshal(domain.ActiveConfig{Ver: newVer, CRC: crc, UpdatedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sensors
			SET active_config = $3::jsonb, updated_at = now()
			WHERE tenant_id = $1 AND sensor_id = $2`,
			tenantID, sensorID, pointer)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newVer, nil
}

func (r *PostgresConfigsRepo) GetVersion(ctx context.Context, tenantID, sensorID string, ver int) (*domain.ConfigVersion, error) {
	var (
		cv            domain.ConfigVersion
		createdBy     sql.NullString
		republishedAt sql.NullTime
		republishedBy sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id::text, sensor_id::text, ver, crc, plan_json,
		       created_by, published_at, republished_at, republished_by
		FROM sensor_configs
		WHERE tenant_id = $1 AND sensor_id = $2 AND ver = $3`,
		tenantID, sensorID, ver).Scan(
		&cv.TenantID, &cv.SensorID, &cv.Ver, &cv.CRC, &cv.PlanJSON,
		&createdBy, &cv.PublishedAt, &republishedAt, &republishedBy)
	if err == sql.ErrNoRows {
		return nil, domain.ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	if createdBy.Valid {
		cv.CreatedBy = createdBy.String
	}
	if republishedAt.Valid {
		cv.RepublishedAt = &republishedAt.Time
	}
	if republishedBy.Valid {
		cv.RepublishedBy = &republishedBy.String
	}
	return &cv, nil
}

func (r *PostgresConfigsRepo) MarkRepublished(ctx context.Context, tenantID, sensorID string, ver int, by string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sensor_configs
		SET republished_at = now(), republished_by = $4
		WHERE tenant_id = $1 AND sensor_id = $2 AND ver = $3`,
		tenantID, sensorID, ver, by)
	return err
}
