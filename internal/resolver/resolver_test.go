package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/repository"
	"agromind-sense/internal/store"
)

type fakeKV struct {
	data map[string]string
	sets int
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.data[key] = value
	f.sets++
	return nil
}

type fakeSensorsRepo struct {
	refs      []repository.SensorRef
	findErr   error
	index     map[string]*domain.DeviceIndexEntry
	bindings  map[string]*domain.HardwareBinding
	findCalls int
}

func newFakeSensorsRepo() *fakeSensorsRepo {
	return &fakeSensorsRepo{
		index:    map[string]*domain.DeviceIndexEntry{},
		bindings: map[string]*domain.HardwareBinding{},
	}
}

func (f *fakeSensorsRepo) FindByDeviceID(_ context.Context, _ string, _ int) ([]repository.SensorRef, error) {
	f.findCalls++
	return f.refs, f.findErr
}

func (f *fakeSensorsRepo) GetSensor(_ context.Context, _, _ string) (*domain.Sensor, error) {
	return nil, domain.ErrSensorNotFound
}

func (f *fakeSensorsRepo) CreateSensor(_ context.Context, _ *domain.Sensor, _ string) error {
	return nil
}

func (f *fakeSensorsRepo) ResolveHardware(_ context.Context, hw string) (*domain.HardwareBinding, error) {
	b, ok := f.bindings[hw]
	if !ok {
		return nil, domain.ErrNotRegistered
	}
	return b, nil
}

func (f *fakeSensorsRepo) MergeStatus(_ context.Context, _, _ string, _ json.RawMessage) error {
	return nil
}

func (f *fakeSensorsRepo) GetDeviceIndex(_ context.Context, deviceID string) (*domain.DeviceIndexEntry, error) {
	return f.index[deviceID], nil
}

func (f *fakeSensorsRepo) UpsertDeviceIndex(_ context.Context, entry *domain.DeviceIndexEntry) error {
	f.index[entry.DeviceID] = entry
	return nil
}

func intPtr(v int) *int { return &v }

func TestResolveDeviceRebuildsAndCaches(t *testing.T) {
	repo := newFakeSensorsRepo()
	repo.refs = []repository.SensorRef{
		{TenantID: "t1", SensorID: "s-npk", MeasurementType: intPtr(1)},
		{TenantID: "t1", SensorID: "s-soil", MeasurementType: intPtr(2)},
	}
	kv := newFakeKV()
	r := New(repo, kv, zap.NewNop())

	res, err := r.ResolveDevice(context.Background(), "D1")
	require.NoError(t, err)
	require.Equal(t, "t1", res.TenantID)
	require.Equal(t, domain.SensorMap{1: "s-npk", 2: "s-soil"}, res.SensorMap)
	require.Empty(t, res.Primary)

	// The rebuild persists both the KV cache and the durable mirror.
	require.Equal(t, 1, kv.sets)
	require.NotNil(t, repo.index["D1"])

	// Second resolve is served from cache without hitting the table.
	_, err = r.ResolveDevice(context.Background(), "D1")
	require.NoError(t, err)
	require.Equal(t, 1, repo.findCalls)
}

func TestResolveDeviceSingleSensorSetsPrimary(t *testing.T) {
	repo := newFakeSensorsRepo()
	repo.refs = []repository.SensorRef{
		{TenantID: "t1", SensorID: "s-only", MeasurementType: intPtr(4)},
	}
	r := New(repo, newFakeKV(), zap.NewNop())

	res, err := r.ResolveDevice(context.Background(), "D2")
	require.NoError(t, err)
	require.Equal(t, "s-only", res.Primary)
}

func TestResolveDeviceFallsBackToMirror(t *testing.T) {
	repo := newFakeSensorsRepo()
	repo.index["D3"] = &domain.DeviceIndexEntry{
		DeviceID:  "D3",
		TenantID:  "t2",
		SensorMap: domain.SensorMap{2: "s-m"},
	}
	kv := newFakeKV()
	r := New(repo, kv, zap.NewNop())

	res, err := r.ResolveDevice(context.Background(), "D3")
	require.NoError(t, err)
	require.Equal(t, "t2", res.TenantID)
	require.Zero(t, repo.findCalls)
	// Mirror hit refreshes the KV cache.
	require.Equal(t, 1, kv.sets)
}

func TestResolveDeviceNotRegistered(t *testing.T) {
	r := New(newFakeSensorsRepo(), newFakeKV(), zap.NewNop())
	_, err := r.ResolveDevice(context.Background(), "D4")
	require.True(t, errors.Is(err, domain.ErrNotRegistered))
}

func TestResolveDeviceCrossTenantIsAmbiguous(t *testing.T) {
	repo := newFakeSensorsRepo()
	repo.refs = []repository.SensorRef{
		{TenantID: "t1", SensorID: "s1", MeasurementType: intPtr(1)},
		{TenantID: "t2", SensorID: "s2", MeasurementType: intPtr(2)},
	}
	r := New(repo, newFakeKV(), zap.NewNop())

	_, err := r.ResolveDevice(context.Background(), "D5")
	require.True(t, errors.Is(err, domain.ErrAmbiguousDevice))
}

func TestResolveDeviceDuplicateTypeConflicts(t *testing.T) {
	repo := newFakeSensorsRepo()
	repo.refs = []repository.SensorRef{
		{TenantID: "t1", SensorID: "s1", MeasurementType: intPtr(2)},
		{TenantID: "t1", SensorID: "s2", MeasurementType: intPtr(2)},
	}
	r := New(repo, newFakeKV(), zap.NewNop())

	_, err := r.ResolveDevice(context.Background(), "D6")
	require.True(t, errors.Is(err, domain.ErrConflictingSensorMap))
}

func TestResolveDeviceNoTypedSensorsUnresolvable(t *testing.T) {
	repo := newFakeSensorsRepo()
	repo.refs = []repository.SensorRef{
		{TenantID: "t1", SensorID: "s1"},
	}
	r := New(repo, newFakeKV(), zap.NewNop())

	_, err := r.ResolveDevice(context.Background(), "D7")
	require.True(t, errors.Is(err, domain.ErrUnresolvableSensorMap))
}

func TestResolveHardwareNormalizes(t *testing.T) {
	repo := newFakeSensorsRepo()
	repo.bindings["A1B2C3"] = &domain.HardwareBinding{HardwareID: "A1B2C3", TenantID: "t1", SensorID: "s1"}
	r := New(repo, newFakeKV(), zap.NewNop())

	b, err := r.ResolveHardware(context.Background(), "  a1b2c3 ")
	require.NoError(t, err)
	require.Equal(t, "s1", b.SensorID)
}

func TestNormalizeHardwareID(t *testing.T) {
	require.Equal(t, "0AFFEE", NormalizeHardwareID(" 0affee\n"))
}
