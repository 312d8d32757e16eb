// Package resolver maps wire-level device identifiers to tenant-scoped
// sensor records. The sensors table is authoritative; the Redis entry
// and the device_index mirror are read-through caches that are rebuilt
// on miss and may be stale within a tenant, never across tenants.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/repository"
	"agromind-sense/internal/store"
)

const (
	cacheKeyPrefix = "device-index:"
	cacheTTL       = 30 * time.Minute

	// One more than the plausible sensor count per device, so an
	// over-full result is detectable without an unbounded scan.
	resolveFanoutLimit = 17
)

// Resolution is the identity of one wire device: its tenant plus the
// measurement-type map of the sensors behind it. Primary is set when
// the device backs exactly one sensor.
type Resolution struct {
	TenantID  string           `json:"tenant_id"`
	SensorMap domain.SensorMap `json:"sensor_map,omitempty"`
	Primary   string           `json:"primary_sensor_id,omitempty"`
}

type Resolver struct {
	sensors repository.SensorsRepository
	kv      store.KVStore
	logger  *zap.Logger
}

func New(sensors repository.SensorsRepository, kv store.KVStore, logger *zap.Logger) *Resolver {
	return &Resolver{sensors: sensors, kv: kv, logger: logger}
}

// NormalizeHardwareID canonicalizes a wire hardware identifier.
func NormalizeHardwareID(hw string) string {
	return strings.ToUpper(strings.TrimSpace(hw))
}

// ResolveDevice resolves a device id to its tenant and sensor map.
func (r *Resolver) ResolveDevice(ctx context.Context, deviceID string) (*Resolution, error) {
	if cached := r.fromCache(ctx, deviceID); cached != nil {
		return cached, nil
	}

	res, err := r.rebuild(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	// Advisory writes: resolution stays correct if either is lost.
	r.persist(ctx, deviceID, res)
	return res, nil
}

// ResolveHardware maps a claimed hardware id (legacy ingest path) to
// its tenant-scoped sensor.
func (r *Resolver) ResolveHardware(ctx context.Context, hardwareID string) (*domain.HardwareBinding, error) {
	return r.sensors.ResolveHardware(ctx, NormalizeHardwareID(hardwareID))
}

func (r *Resolver) fromCache(ctx context.Context, deviceID string) *Resolution {
	raw, err := r.kv.Get(ctx, cacheKeyPrefix+deviceID)
	if err == nil {
		var entry domain.DeviceIndexEntry
		if json.Unmarshal([]byte(raw), &entry) == nil && entry.TenantID != "" {
			return resolutionFromEntry(&entry)
		}
	} else if err != store.ErrCacheMiss {
		r.logger.Warn("device index cache read failed", zap.String("device_id", deviceID), zap.Error(err))
	}

	entry, err := r.sensors.GetDeviceIndex(ctx, deviceID)
	if err != nil {
		r.logger.Warn("device index mirror read failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil
	}
	if entry == nil || entry.TenantID == "" || len(entry.SensorMap) == 0 {
		return nil
	}
	r.setKV(ctx, deviceID, entry)
	return resolutionFromEntry(entry)
}

func (r *Resolver) rebuild(ctx context.Context, deviceID string) (*Resolution, error) {
	refs, err := r.sensors.FindByDeviceID(ctx, deviceID, resolveFanoutLimit)
	if err != nil {
		return nil, fmt.Errorf("resolve device %s: %w", deviceID, err)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotRegistered, deviceID)
	}

	tenantID := refs[0].TenantID
	for _, ref := range refs[1:] {
		if ref.TenantID != tenantID {
			// Cross-tenant duplicate registration. Guessing here could
			// attribute one tenant's data to another.
			return nil, fmt.Errorf("%w: %s", domain.ErrAmbiguousDevice, deviceID)
		}
	}

	sensorMap := domain.SensorMap{}
	for _, ref := range refs {
		if ref.MeasurementType == nil {
			continue
		}
		code := *ref.MeasurementType
		if existing, dup := sensorMap[code]; dup {
			return nil, fmt.Errorf("%w: device %s type %d claimed by %s and %s",
				domain.ErrConflictingSensorMap, deviceID, code, existing, ref.SensorID)
		}
		sensorMap[code] = ref.SensorID
	}
	if len(sensorMap) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnresolvableSensorMap, deviceID)
	}

	res := &Resolution{TenantID: tenantID, SensorMap: sensorMap}
	if len(refs) == 1 {
		res.Primary = refs[0].SensorID
	}
	return res, nil
}

func (r *Resolver) persist(ctx context.Context, deviceID string, res *Resolution) {
	entry := &domain.DeviceIndexEntry{
		DeviceID:  deviceID,
		TenantID:  res.TenantID,
		SensorMap: res.SensorMap,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.sensors.UpsertDeviceIndex(ctx, entry); err != nil {
		r.logger.Warn("device index mirror write failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	r.setKV(ctx, deviceID, entry)
}

func (r *Resolver) setKV(ctx context.Context, deviceID string, entry *domain.DeviceIndexEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, cacheKeyPrefix+deviceID, string(raw), cacheTTL); err != nil {
		r.logger.Warn("device index cache write failed", zap.String("device_id", deviceID), zap.Error(err))
	}
}

func resolutionFromEntry(entry *domain.DeviceIndexEntry) *Resolution {
	res := &Resolution{TenantID: entry.TenantID, SensorMap: entry.SensorMap}
	if len(entry.SensorMap) == 1 {
		for _, id := range entry.SensorMap {
			res.Primary = id
		}
	}
	return res
}
