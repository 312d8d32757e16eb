package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"agromind-sense/internal/domain"
)

// ErrHardwareTaken reports a lost hardware-id claim; the caller probes
// a fresh random id.
var ErrHardwareTaken = errors.New("hardware id already claimed")

type PostgresSensorsRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresSensorsRepo(db *sql.DB, logger *zap.Logger) *PostgresSensorsRepo {
	return &PostgresSensorsRepo{db: db, logger: logger}
}

var _ SensorsRepository = (*PostgresSensorsRepo)(nil)

func (r *PostgresSensorsRepo) FindByDeviceID(ctx context.Context, deviceID string, limit int) ([]SensorRef, error) {
	if limit <= 0 {
		limit = 16
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id::text, sensor_id::text, measurement_type
		FROM sensors
		WHERE device_id = $1 OR hardware_id = $1
		ORDER BY sensor_id
		LIMIT $2`,
		deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []SensorRef
	for rows.Next() {
		var ref SensorRef
		var mt sql.NullInt64
		if err := rows.Scan(&ref.TenantID, &ref.SensorID, &mt); err != nil {
			return nil, err
		}
		if mt.Valid {
			v := int(mt.Int64)
			ref.MeasurementType = &v
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *PostgresSensorsRepo) GetSensor(ctx context.Context, tenantID, sensorID string) (*domain.Sensor, error) {
	var (
		s          domain.Sensor
		fieldID    sql.NullString
		deviceID   sql.NullString
		hardwareID sql.NullString
		mt         sql.NullInt64
		location   []byte
		status     []byte
		lastRead   []byte
		activeCfg  []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id::text, sensor_id::text, name, field_id, device_id, hardware_id,
		       measurement_type, location, status, last_reading, active_config,
		       created_at, updated_at
		FROM sensors
		WHERE tenant_id = $1 AND sensor_id = $2`,
		tenantID, sensorID).Scan(
		&s.TenantID, &s.SensorID, &s.Name, &fieldID, &deviceID, &hardwareID,
		&mt, &location, &status, &lastRead, &activeCfg,
		&s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSensorNotFound
	}
	if err != nil {
		return nil, err
	}

	if fieldID.Valid {
		s.FieldID = &fieldID.String
	}
	if deviceID.Valid {
		s.DeviceID = &deviceID.String
	}
	if hardwareID.Valid {
		s.HardwareID = &hardwareID.String
	}
	if mt.Valid {
		v := int(mt.Int64)
		s.MeasurementType = &v
	}
	s.Location = location
	s.Status = status
	s.LastReading = lastRead
	if len(activeCfg) > 0 {
		var ac domain.ActiveConfig
		if err := json.Unmarshal(activeCfg, &ac); err == nil {
			s.ActiveConfig = &ac
		}
	}
	return &s, nil
}

func (r *PostgresSensorsRepo) CreateSensor(ctx context.Context, s *domain.Sensor, hardwareID string) error {
	return runSerializable(ctx, r.db, DefaultTxRetries, func(tx *sql.Tx) error {
		// Claim the hardware id globally; primary key violation means
		// the random probe lost.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO hardware_index (hardware_id, tenant_id, sensor_id, created_at)
			VALUES ($1, $2, $3, now())`,
			hardwareID, s.TenantID, s.SensorID)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrHardwareTaken
			}
			return err
		}

		activeCfg, _ := json.Marshal(domain.ActiveConfig{Ver: 0, UpdatedAt: time.Now().UTC()})
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sensors (tenant_id, sensor_id, name, field_id, location,
			                     hardware_id, status, active_config, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, '{}'::jsonb, $7, now(), now())`,
			s.TenantID, s.SensorID, s.Name, s.FieldID, nullableJSON(s.Location), hardwareID, activeCfg)
		return err
	})
}

func (r *PostgresSensorsRepo) ResolveHardware(ctx context.Context, hardwareID string) (*domain.HardwareBinding, error) {
	var b domain.HardwareBinding
	err := r.db.QueryRowContext(ctx, `
		SELECT hardware_id, tenant_id::text, sensor_id::text
		FROM hardware_index
		WHERE hardware_id = $1`,
		hardwareID).Scan(&b.HardwareID, &b.TenantID, &b.SensorID)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotRegistered
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PostgresSensorsRepo) MergeStatus(ctx context.Context, tenantID, sensorID string, status json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sensors
		SET status = COALESCE(status, '{}'::jsonb) || $3::jsonb,
		    updated_at = now()
		WHERE tenant_id = $1 AND sensor_id = $2`,
		tenantID, sensorID, []byte(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return domain.ErrSensorNotFound
	}
	return err
}

func (r *PostgresSensorsRepo) GetDeviceIndex(ctx context.Context, deviceID string) (*domain.DeviceIndexEntry, error) {
	var (
		entry     domain.DeviceIndexEntry
		sensorMap []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT device_id, tenant_id::text, sensor_map, updated_at
		FROM device_index
		WHERE device_id = $1`,
		deviceID).Scan(&entry.DeviceID, &entry.TenantID, &sensorMap, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(sensorMap) > 0 {
		if err := json.Unmarshal(sensorMap, &entry.SensorMap); err != nil {
			// A corrupt cache entry is treated as a miss and rebuilt.
			r.logger.Warn("corrupt device_index sensor_map, ignoring",
				zap.String("device_id", deviceID), zap.Error(err))
			return nil, nil
		}
	}
	return &entry, nil
}

func (r *PostgresSensorsRepo) UpsertDeviceIndex(ctx context.Context, entry *domain.DeviceIndexEntry) error {
	var sensorMap interface{}
	if len(entry.SensorMap) > 0 {
		b, err := json.Marshal(entry.SensorMap)
		if err != nil {
			return fmt.Errorf("marshal sensor map: %w", err)
		}
		sensorMap = b
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_index (device_id, tenant_id, sensor_map, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (device_id)
		DO UPDATE SET tenant_id = EXCLUDED.tenant_id,
		              sensor_map = COALESCE(EXCLUDED.sensor_map, device_index.sensor_map),
		              updated_at = now()`,
		entry.DeviceID, entry.TenantID, sensorMap)
	return err
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
