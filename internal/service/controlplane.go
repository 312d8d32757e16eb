package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/mqtt"
	"agromind-sense/internal/plan"
	"agromind-sense/internal/repository"
	"agromind-sense/internal/resolver"
)

const (
	hardwareIDProbes = 20
	publishTimeout   = 5 * time.Second
	configQoS        = 1
)

var hex6 = regexp.MustCompile(`^[0-9A-F]{6}$`)

// PublishOutcome reports a (re)published config plan.
type PublishOutcome struct {
	Ver         int    `json:"ver"`
	CRC         string `json:"cc"`
	ConfigTopic string `json:"config_topic"`
	MetaTopic   string `json:"meta_topic"`
}

// ControlPlaneService owns sensor provisioning and config-plan
// publishing.
type ControlPlaneService struct {
	sensors   repository.SensorsRepository
	configs   repository.ConfigsRepository
	publisher mqtt.Publisher
	logger    *zap.Logger
}

func NewControlPlaneService(sensors repository.SensorsRepository, configs repository.ConfigsRepository,
	publisher mqtt.Publisher, logger *zap.Logger) *ControlPlaneService {
	return &ControlPlaneService{sensors: sensors, configs: configs, publisher: publisher, logger: logger}
}

// CreateSensor provisions a sensor and claims a globally-unique 6-hex
// hardware id with bounded random probes: acquire-if-absent, retry on
// a taken id, give up after hardwareIDProbes attempts.
func (s *ControlPlaneService) CreateSensor(ctx context.Context, tenantID, name string,
	fieldID *string, location json.RawMessage) (*domain.Sensor, error) {

	sensor := &domain.Sensor{
		TenantID: tenantID,
		SensorID: uuid.NewString(),
		Name:     name,
		FieldID:  fieldID,
		Location: location,
	}

	for attempt := 0; attempt < hardwareIDProbes; attempt++ {
		hw, err := generateHardwareID()
		if err != nil {
			return nil, err
		}
		err = s.sensors.CreateSensor(ctx, sensor, hw)
		if err == repository.ErrHardwareTaken {
			continue
		}
		if err != nil {
			return nil, err
		}
		sensor.HardwareID = &hw
		return sensor, nil
	}
	return nil, domain.ErrHardwareIDSpace
}

// PublishConfig validates the plan, stores it as version current+1 and
// retained-publishes plan and meta for the device to pick up.
func (s *ControlPlaneService) PublishConfig(ctx context.Context, tenantID, sensorID string,
	rawPlan json.RawMessage, by string) (*PublishOutcome, error) {

	if _, err := plan.Validate(rawPlan); err != nil {
		return nil, err
	}

	hw, err := s.sensorHardwareID(ctx, tenantID, sensorID)
	if err != nil {
		return nil, err
	}

	canonical, err := plan.Canonical(rawPlan)
	if err != nil {
		return nil, err
	}
	crc := plan.CRC32Hex(canonical)

	ver, err := s.configs.PublishNewVersion(ctx, tenantID, sensorID, string(canonical), crc, by)
	if err != nil {
		return nil, err
	}

	outcome := &PublishOutcome{
		Ver:         ver,
		CRC:         crc,
		ConfigTopic: configTopic(hw),
		MetaTopic:   metaTopic(hw),
	}
	if err := s.publishPair(outcome, canonical); err != nil {
		return nil, err
	}
	s.logger.Info("config plan published",
		zap.String("tenant_id", tenantID),
		zap.String("sensor_id", sensorID),
		zap.Int("ver", ver),
		zap.String("cc", crc))
	return outcome, nil
}

// RepublishConfig re-sends an already-stored version, for devices that
// lost the retained message or reflashed.
func (s *ControlPlaneService) RepublishConfig(ctx context.Context, tenantID, sensorID string,
	ver int, by string) (*PublishOutcome, error) {

	hw, err := s.sensorHardwareID(ctx, tenantID, sensorID)
	if err != nil {
		return nil, err
	}

	cv, err := s.configs.GetVersion(ctx, tenantID, sensorID, ver)
	if err != nil {
		return nil, err
	}

	outcome := &PublishOutcome{
		Ver:         cv.Ver,
		CRC:         cv.CRC,
		ConfigTopic: configTopic(hw),
		MetaTopic:   metaTopic(hw),
	}
	if err := s.publishPair(outcome, []byte(cv.PlanJSON)); err != nil {
		return nil, err
	}
	if err := s.configs.MarkRepublished(ctx, tenantID, sensorID, ver, by); err != nil {
		s.logger.Warn("failed to mark config republished", zap.Error(err))
	}
	return outcome, nil
}

func (s *ControlPlaneService) sensorHardwareID(ctx context.Context, tenantID, sensorID string) (string, error) {
	sensor, err := s.sensors.GetSensor(ctx, tenantID, sensorID)
	if err != nil {
		return "", err
	}
	if sensor.HardwareID == nil {
		return "", fmt.Errorf("sensor %s has no hardware id", sensorID)
	}
	hw := resolver.NormalizeHardwareID(*sensor.HardwareID)
	if !hex6.MatchString(hw) {
		return "", fmt.Errorf("sensor %s hardware id invalid", sensorID)
	}
	return hw, nil
}

func (s *ControlPlaneService) publishPair(outcome *PublishOutcome, planBytes []byte) error {
	if err := s.publisher.PublishRetained(outcome.ConfigTopic, configQoS, planBytes, publishTimeout); err != nil {
		return err
	}
	meta := fmt.Sprintf(`{"ver":%d,"cc":%q}`, outcome.Ver, outcome.CRC)
	return s.publisher.PublishRetained(outcome.MetaTopic, configQoS, []byte(meta), publishTimeout)
}

func configTopic(hw string) string { return "/sensors/config/" + hw }
func metaTopic(hw string) string   { return "/sensors/config-meta/" + hw }

// generateHardwareID draws a 24-bit random id rendered as 6 uppercase
// hex chars.
func generateHardwareID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<24))
	if err != nil {
		return "", fmt.Errorf("hardware id entropy: %w", err)
	}
	return fmt.Sprintf("%06X", n.Int64()), nil
}
