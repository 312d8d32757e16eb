package repository

import (
	"context"
	"encoding/json"
	"time"

	"agromind-sense/internal/domain"
)

// SensorRef is the authoritative resolution result for one sensor
// matching a wire device identifier.
type SensorRef struct {
	TenantID        string
	SensorID        string
	MeasurementType *int
}

// SensorsRepository covers sensor records, the global hardware index
// and the durable device-index mirror.
type SensorsRepository interface {
	// FindByDeviceID returns every sensor whose device or hardware id
	// matches, across tenants (collection-group style query, bounded).
	FindByDeviceID(ctx context.Context, deviceID string, limit int) ([]SensorRef, error)

	GetSensor(ctx context.Context, tenantID, sensorID string) (*domain.Sensor, error)

	// CreateSensor inserts the sensor and claims its hardware id in the
	// global index inside one transaction. A taken hardware id returns
	// ErrHardwareTaken so the caller can probe another.
	CreateSensor(ctx context.Context, s *domain.Sensor, hardwareID string) error

	// ResolveHardware maps a claimed hardware id to its binding.
	ResolveHardware(ctx context.Context, hardwareID string) (*domain.HardwareBinding, error)

	// MergeStatus applies a partial status update outside any batch
	// (ack path).
	MergeStatus(ctx context.Context, tenantID, sensorID string, status json.RawMessage) error

	// Device index mirror: advisory, merge-write, last writer wins.
	GetDeviceIndex(ctx context.Context, deviceID string) (*domain.DeviceIndexEntry, error)
	UpsertDeviceIndex(ctx context.Context, entry *domain.DeviceIndexEntry) error
}

// AuthUser is one authenticated API user.
type AuthUser struct {
	UID       string
	Role      string
	TenantID  string
	TenantIDs []string
}

// AuthRepository resolves bearer tokens to users.
type AuthRepository interface {
	GetUserByToken(ctx context.Context, token string) (*AuthUser, error)
}

// ConfigsRepository covers versioned configuration plans.
type ConfigsRepository interface {
	// PublishNewVersion allocates version current+1, stores the plan
	// and advances the sensor's activeConfig pointer, atomically.
	PublishNewVersion(ctx context.Context, tenantID, sensorID, planJSON, crc, createdBy string) (int, error)

	GetVersion(ctx context.Context, tenantID, sensorID string, ver int) (*domain.ConfigVersion, error)
	MarkRepublished(ctx context.Context, tenantID, sensorID string, ver int, by string) error
}

// DailyAggRepository owns the per-day aggregate documents. MergeDay is
// the only mutation path.
type DailyAggRepository interface {
	// MergeDay folds the update set into one (sensor, day) aggregate
	// inside a serializable transaction with bounded conflict retry.
	MergeDay(ctx context.Context, tenantID, sensorID, day string, dayStart time.Time,
		updates map[string]map[string]float64) error

	QueryDays(ctx context.Context, tenantID, sensorID string, from time.Time, limit int) ([]domain.DailyAggregate, error)
}
