package service

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
)

type fakeSensors struct {
	sensors    map[string]*domain.Sensor
	taken      map[string]bool
	takeAll    bool
	created    []string
	claimedHWs []string
}

func newFakeSensors() *fakeSensors {
	return &fakeSensors{sensors: map[string]*domain.Sensor{}, taken: map[string]bool{}}
}

func (f *fakeSensors) FindByDeviceID(_ context.Context, _ string, _ int) ([]repository.SensorRef, error) {
	return nil, nil
}

func (f *fakeSensors) GetSensor(_ context.Context, _, sensorID string) (*domain.Sensor, error) {
	s, ok := f.sensors[sensorID]
	if !ok {
		return nil, domain.ErrSensorNotFound
	}
	return s, nil
}

func (f *fakeSensors) CreateSensor(_ context.Context, s *domain.Sensor, hardwareID string) error {
	if f.takeAll || f.taken[hardwareID] {
		return repository.ErrHardwareTaken
	}
	f.created = append(f.created, s.SensorID)
	f.claimedHWs = append(f.claimedHWs, hardwareID)
	return nil
}

func (f *fakeSensors) ResolveHardware(_ context.Context, _ string) (*domain.HardwareBinding, error) {
	return nil, domain.ErrNotRegistered
}

func (f *fakeSensors) MergeStatus(_ context.Context, _, _ string, _ json.RawMessage) error {
	return nil
}

func (f *fakeSensors) GetDeviceIndex(_ context.Context, _ string) (*domain.DeviceIndexEntry, error) {
	return nil, nil
}

func (f *fakeSensors) UpsertDeviceIndex(_ context.Context, _ *domain.DeviceIndexEntry) error {
	return nil
}

type fakeConfigs struct {
	nextVer     int
	versions    map[int]*domain.ConfigVersion
	republished []int
}

func (f *fakeConfigs) PublishNewVersion(_ context.Context, tenantID, sensorID, planJSON, crc, createdBy string) (int, error) {
	f.nextVer++
	if f.versions == nil {
		f.versions = map[int]*domain.ConfigVersion{}
	}
	f.versions[f.nextVer] = &domain.ConfigVersion{
		TenantID: tenantID, SensorID: sensorID, Ver: f.nextVer,
		CRC: crc, PlanJSON: planJSON, CreatedBy: createdBy,
	}
	return f.nextVer, nil
}

func (f *fakeConfigs) GetVersion(_ context.Context, _, _ string, ver int) (*domain.ConfigVersion, error) {
	cv, ok := f.versions[ver]
	if !ok {
		return nil, domain.ErrConfigNotFound
	}
	return cv, nil
}

func (f *fakeConfigs) MarkRepublished(_ context.Context, _, _ string, ver int, _ string) error {
	f.republished = append(f.republished, ver)
	return nil
}

type publishedMsg struct {
	topic   string
	payload string
}

type fakePublisher struct {
	msgs []publishedMsg
	err  error
}

func (f *fakePublisher) PublishRetained(topic string, _ byte, payload []byte, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, publishedMsg{topic: topic, payload: string(payload)})
	return nil
}

func validPlanJSON() json.RawMessage {
	return json.RawMessage(`{
		"ver": 1,
		"channels": [{"gpio":4},{"gpio":5},{"gpio":6}],
		"fields": ["soil_n"],
		"steps": [{"ch":0,"modbus":{"addr":1,"reg":30001,"count":1},
		           "decode":[{"idx":0,"type":"u16","reg_ofs":0,"scale":0.1}]}]
	}`)
}

func sensorWithHardware(id, hw string) *domain.Sensor {
	return &domain.Sensor{TenantID: "t1", SensorID: id, Name: "field probe", HardwareID: &hw}
}

func TestCreateSensorClaimsHexHardwareID(t *testing.T) {
	sensors := newFakeSensors()
	svc := NewControlPlaneService(sensors, &fakeConfigs{}, &fakePublisher{}, zap.NewNop())

	s, err := svc.CreateSensor(context.Background(), "t1", "north paddock probe", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, s.SensorID)
	require.NotNil(t, s.HardwareID)
	require.Regexp(t, `^[0-9A-F]{6}$`, *s.HardwareID)
	require.Len(t, sensors.created, 1)
}

func TestCreateSensorExhaustsProbes(t *testing.T) {
	sensors := newFakeSensors()
	sensors.takeAll = true
	svc := NewControlPlaneService(sensors, &fakeConfigs{}, &fakePublisher{}, zap.NewNop())

	_, err := svc.CreateSensor(context.Background(), "t1", "probe", nil, nil)
	require.True(t, errors.Is(err, domain.ErrHardwareIDSpace))
}

func TestPublishConfigStoresAndPublishesPair(t *testing.T) {
	sensors := newFakeSensors()
	sensors.sensors["s1"] = sensorWithHardware("s1", "A1B2C3")
	configs := &fakeConfigs{}
	pub := &fakePublisher{}
	svc := NewControlPlaneService(sensors, configs, pub, zap.NewNop())

	out, err := svc.PublishConfig(context.Background(), "t1", "s1", validPlanJSON(), "admin@t1")
	require.NoError(t, err)
	require.Equal(t, 1, out.Ver)
	require.Len(t, out.CRC, 8)
	require.Equal(t, "/sensors/config/A1B2C3", out.ConfigTopic)
	require.Equal(t, "/sensors/config-meta/A1B2C3", out.MetaTopic)

	require.Len(t, pub.msgs, 2)
	require.Equal(t, "/sensors/config/A1B2C3", pub.msgs[0].topic)
	require.Equal(t, "/sensors/config-meta/A1B2C3", pub.msgs[1].topic)

	// Stored plan is the canonical form the CRC was computed over.
	require.Equal(t, configs.versions[1].PlanJSON, pub.msgs[0].payload)

	var meta struct {
		Ver int    `json:"ver"`
		CC  string `json:"cc"`
	}
	require.NoError(t, json.Unmarshal([]byte(pub.msgs[1].payload), &meta))
	require.Equal(t, 1, meta.Ver)
	require.Equal(t, out.CRC, meta.CC)
}

func TestPublishConfigSameContentSameCRC(t *testing.T) {
	sensors := newFakeSensors()
	sensors.sensors["s1"] = sensorWithHardware("s1", "A1B2C3")
	configs := &fakeConfigs{}
	svc := NewControlPlaneService(sensors, configs, &fakePublisher{}, zap.NewNop())

	first, err := svc.PublishConfig(context.Background(), "t1", "s1", validPlanJSON(), "admin@t1")
	require.NoError(t, err)
	second, err := svc.PublishConfig(context.Background(), "t1", "s1", validPlanJSON(), "admin@t1")
	require.NoError(t, err)

	// Versions advance but identical content keeps its checksum.
	require.Equal(t, first.Ver+1, second.Ver)
	require.Equal(t, first.CRC, second.CRC)
}

func TestPublishConfigRejectsInvalidPlan(t *testing.T) {
	sensors := newFakeSensors()
	sensors.sensors["s1"] = sensorWithHardware("s1", "A1B2C3")
	configs := &fakeConfigs{}
	svc := NewControlPlaneService(sensors, configs, &fakePublisher{}, zap.NewNop())

	_, err := svc.PublishConfig(context.Background(), "t1", "s1", json.RawMessage(`{"channels":[]}`), "admin@t1")
	require.True(t, errors.Is(err, domain.ErrPlanInvalid))
	require.Zero(t, configs.nextVer)
}

func TestPublishConfigPropagatesBrokerTimeout(t *testing.T) {
	sensors := newFakeSensors()
	sensors.sensors["s1"] = sensorWithHardware("s1", "A1B2C3")
	pub := &fakePublisher{err: domain.ErrPublishTimeout}
	svc := NewControlPlaneService(sensors, &fakeConfigs{}, pub, zap.NewNop())

	_, err := svc.PublishConfig(context.Background(), "t1", "s1", validPlanJSON(), "admin@t1")
	require.True(t, errors.Is(err, domain.ErrPublishTimeout))
}

func TestRepublishConfigResendsStoredVersion(t *testing.T) {
	sensors := newFakeSensors()
	sensors.sensors["s1"] = sensorWithHardware("s1", "A1B2C3")
	configs := &fakeConfigs{}
	pub := &fakePublisher{}
	svc := NewControlPlaneService(sensors, configs, pub, zap.NewNop())

	first, err := svc.PublishConfig(context.Background(), "t1", "s1", validPlanJSON(), "admin@t1")
	require.NoError(t, err)
	pub.msgs = nil

	out, err := svc.RepublishConfig(context.Background(), "t1", "s1", first.Ver, "tech@t1")
	require.NoError(t, err)
	require.Equal(t, first.Ver, out.Ver)
	require.Equal(t, first.CRC, out.CRC)
	require.Len(t, pub.msgs, 2)
	require.Equal(t, []int{first.Ver}, configs.republished)
}

func TestRepublishConfigUnknownVersion(t *testing.T) {
	sensors := newFakeSensors()
	sensors.sensors["s1"] = sensorWithHardware("s1", "A1B2C3")
	svc := NewControlPlaneService(sensors, &fakeConfigs{}, &fakePublisher{}, zap.NewNop())

	_, err := svc.RepublishConfig(context.Background(), "t1", "s1", 9, "tech@t1")
	require.True(t, errors.Is(err, domain.ErrConfigNotFound))
}
