// Package service orchestrates the ingestion pipeline: identity
// resolution, sample decoding, bucketing, the atomic batch write and
// the per-day aggregate transactions.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/repository"
	"agromind-sense/internal/resolver"
	"agromind-sense/internal/telemetry"
)

// DeviceResolver is the slice of the identity resolver the pipeline
// needs; tests substitute a fake.
type DeviceResolver interface {
	ResolveDevice(ctx context.Context, deviceID string) (*resolver.Resolution, error)
	ResolveHardware(ctx context.Context, hardwareID string) (*domain.HardwareBinding, error)
}

// RejectedItem reports one item group dropped from a batch. Sibling
// items are unaffected.
type RejectedItem struct {
	Index  int    `json:"index"`
	Type   int    `json:"type"`
	Reason string `json:"reason"`
}

// IngestResult summarizes one compact batch ingest.
type IngestResult struct {
	TenantID    string         `json:"tenant_id"`
	Ingested    int            `json:"ingested"`
	Sensors     []string       `json:"sensors"`
	UpdatedDays []string       `json:"updated_days"`
	Rejected    []RejectedItem `json:"rejected,omitempty"`
}

// LegacyResult summarizes one legacy single-payload ingest.
type LegacyResult struct {
	ReadingID string `json:"reading_id"`
	Deduped   bool   `json:"deduped"`
}

type IngestService struct {
	resolver      DeviceResolver
	readings      repository.ReadingsRepository
	aggs          repository.DailyAggRepository
	retentionDays int
	logger        *zap.Logger
	now           func() time.Time
}

func NewIngestService(res DeviceResolver, readings repository.ReadingsRepository,
	aggs repository.DailyAggRepository, retentionDays int, logger *zap.Logger) *IngestService {
	if retentionDays <= 0 {
		retentionDays = 60
	}
	return &IngestService{
		resolver:      res,
		readings:      readings,
		aggs:          aggs,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// SetClock overrides the receipt-time source (tests only).
func (s *IngestService) SetClock(now func() time.Time) { s.now = now }

type sensorDay struct {
	sensorID string
	day      string
}

// IngestCompact runs the full pipeline for one compact batch. The
// batch write is all-or-nothing; the per-day aggregate merges that
// follow are independent transactions, each idempotent, so a failure
// there is safely retryable from the persisted readings.
func (s *IngestService) IngestCompact(ctx context.Context, raw []byte, batch *telemetry.CompactBatch) (*IngestResult, error) {
	if len(batch.Items) == 0 || len(batch.Items) > telemetry.MaxItemGroups {
		return nil, fmt.Errorf("%w: %d item groups", domain.ErrBatchLimit, len(batch.Items))
	}
	for _, item := range batch.Items {
		if len(item.Samples) == 0 || len(item.Samples) > telemetry.MaxSamplesPerItem {
			return nil, fmt.Errorf("%w: %d samples for type %d", domain.ErrBatchLimit, len(item.Samples), item.Type)
		}
	}

	res, err := s.resolver.ResolveDevice(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	receipt := s.now().UTC()
	interval := telemetry.DefaultIntervalSec
	if batch.IntervalSec != nil && *batch.IntervalSec > 0 {
		interval = *batch.IntervalSec
	}

	hash, err := telemetry.Fingerprint(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSample, err)
	}

	result := &IngestResult{TenantID: res.TenantID}
	expiry := time.Duration(s.retentionDays) * 24 * time.Hour

	var staged []domain.Reading
	dayUpdates := map[sensorDay]map[string]map[string]float64{}
	dayStarts := map[sensorDay]time.Time{}
	lastPerSensor := map[string]json.RawMessage{}
	touched := map[string]bool{}

	for idx, item := range batch.Items {
		sensorID, ok := res.SensorMap[item.Type]
		if !ok {
			result.Rejected = append(result.Rejected, RejectedItem{
				Index: idx, Type: item.Type,
				Reason: "no sensor mapped for measurement type",
			})
			continue
		}

		decoded := make([]map[string]float64, len(item.Samples))
		rejected := false
		for i, sample := range item.Samples {
			values, err := telemetry.Decode(item.Type, sample)
			if err != nil {
				result.Rejected = append(result.Rejected, RejectedItem{
					Index: idx, Type: item.Type, Reason: err.Error(),
				})
				rejected = true
				break
			}
			decoded[i] = values
		}
		if rejected {
			continue
		}

		meta, _ := json.Marshal(domain.ReadingMeta{
			DeviceID:    batch.ID,
			Lat:         batch.Lat,
			Lon:         batch.Lon,
			BatteryPct:  batch.BatteryPct,
			SignalDbm:   batch.SignalDbm,
			IntervalSec: interval,
			LastType:    item.Type,
		})

		n := len(item.Samples)
		var lastTs time.Time
		var lastValues map[string]float64
		for i, values := range decoded {
			ts := telemetry.SampleTime(receipt, interval, n, i)
			readingID := telemetry.ReadingID(ts)
			lastTs, lastValues = ts, values

			staged = append(staged, domain.Reading{
				TenantID:   res.TenantID,
				SensorID:   sensorID,
				ReadingID:  readingID,
				Ts:         ts,
				Values:     values,
				Hash:       hash,
				PayloadRaw: string(raw),
				Meta:       meta,
				ExpiresAt:  ts.Add(expiry),
			})

			key := sensorDay{sensorID, telemetry.DayID(ts)}
			if dayUpdates[key] == nil {
				dayUpdates[key] = map[string]map[string]float64{}
				dayStarts[key] = telemetry.DayStart(ts)
			}
			merged := dayUpdates[key][readingID]
			if merged == nil {
				merged = map[string]float64{}
			}
			for k, v := range values {
				merged[k] = v
			}
			dayUpdates[key][readingID] = merged

			result.Ingested++
		}
		touched[sensorID] = true

		lastPerSensor[sensorID], _ = json.Marshal(map[string]interface{}{
			"ts":     lastTs,
			"values": lastValues,
			"type":   telemetry.TypeName(item.Type),
		})
	}

	if len(staged) == 0 {
		// Every item group was rejected; nothing to write.
		return result, nil
	}

	statuses := map[string]repository.StatusMerge{}
	statusJSON, _ := json.Marshal(domain.SensorStatus{
		LastSeenAt: &receipt,
		BatteryPct: batch.BatteryPct,
		SignalDbm:  batch.SignalDbm,
		LastLat:    batch.Lat,
		LastLon:    batch.Lon,
	})
	for sensorID := range touched {
		statuses[sensorID] = repository.StatusMerge{
			Status:      statusJSON,
			LastReading: lastPerSensor[sensorID],
		}
		result.Sensors = append(result.Sensors, sensorID)
	}
	sort.Strings(result.Sensors)

	if err := s.readings.WriteBatch(ctx, res.TenantID, staged, statuses); err != nil {
		return nil, fmt.Errorf("batch write: %w", err)
	}

	days := map[string]bool{}
	for key, updates := range dayUpdates {
		if err := s.aggs.MergeDay(ctx, res.TenantID, key.sensorID, key.day, dayStarts[key], updates); err != nil {
			return nil, fmt.Errorf("aggregate merge for %s/%s: %w", key.sensorID, key.day, err)
		}
		days[key.day] = true
	}
	for day := range days {
		result.UpdatedDays = append(result.UpdatedDays, day)
	}
	sort.Strings(result.UpdatedDays)
	if len(result.UpdatedDays) > telemetry.MaxUpdatedDaysReply {
		result.UpdatedDays = result.UpdatedDays[:telemetry.MaxUpdatedDaysReply]
	}

	return result, nil
}

// IngestLegacy handles the older per-hardware payload: bucket
// inference, pre-write dedup on the content fingerprint, and collision
// diversion to a derived id so divergent content never overwrites.
func (s *IngestService) IngestLegacy(ctx context.Context, hardwareID string, raw []byte, payload *telemetry.LegacyPayload) (*LegacyResult, error) {
	hw := resolver.NormalizeHardwareID(hardwareID)
	if resolver.NormalizeHardwareID(payload.ID) != hw {
		return nil, fmt.Errorf("%w: hardware id mismatch between URL and payload", domain.ErrMalformedSample)
	}

	binding, err := s.resolver.ResolveHardware(ctx, hw)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	bucket, ok := telemetry.LegacyBucketStart(payload.Ts)
	if !ok {
		bucket = telemetry.FallbackBucket(now)
	}

	hash, err := telemetry.Fingerprint(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSample, err)
	}

	readingID := strconv.FormatInt(bucket, 10)
	existing, err := s.readings.GetReading(ctx, binding.TenantID, binding.SensorID, readingID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Hash == hash {
			// Exact device retry: success without rewriting.
			return &LegacyResult{ReadingID: readingID, Deduped: true}, nil
		}
		readingID = telemetry.CollisionID(readingID, hash)
	}

	var lastTs *int64
	if len(payload.Ts) > 0 && payload.Ts[len(payload.Ts)-1] != nil {
		lastTs = payload.Ts[len(payload.Ts)-1]
	}
	meta, _ := json.Marshal(map[string]interface{}{
		"fw": payload.Firmware,
		"cv": payload.ConfigVer,
		"cc": payload.ConfigCRC,
		"last_ts": lastTs,
	})

	ts := time.Unix(bucket, 0).UTC()
	status := legacyStatus(now, payload)

	err = s.readings.InsertReading(ctx, &domain.Reading{
		TenantID:    binding.TenantID,
		SensorID:    binding.SensorID,
		ReadingID:   readingID,
		BucketStart: &bucket,
		Ts:          ts,
		Hash:        hash,
		PayloadRaw:  string(raw),
		Meta:        meta,
		ExpiresAt:   ts.Add(time.Duration(s.retentionDays) * 24 * time.Hour),
	}, status)
	if err != nil {
		return nil, err
	}
	return &LegacyResult{ReadingID: readingID}, nil
}

// IngestAck records a device acknowledgment of a published config.
func (s *IngestService) IngestAck(ctx context.Context, hardwareID string, raw []byte, payload *telemetry.AckPayload) (string, error) {
	hw := resolver.NormalizeHardwareID(hardwareID)
	if resolver.NormalizeHardwareID(payload.ID) != hw {
		return "", fmt.Errorf("%w: hardware id mismatch between URL and payload", domain.ErrMalformedSample)
	}

	binding, err := s.resolver.ResolveHardware(ctx, hw)
	if err != nil {
		return "", err
	}

	hash, err := telemetry.Fingerprint(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedSample, err)
	}

	now := s.now().UTC()
	ackID := fmt.Sprintf("%d-%s", now.Unix(), hash[:8])

	status, _ := json.Marshal(domain.SensorStatus{
		LastAckAt:  &now,
		LastAckOk:  payload.Ok,
		LastAckMsg: payload.Msg,
	})
	err = s.readings.InsertAck(ctx, &domain.Ack{
		TenantID:   binding.TenantID,
		SensorID:   binding.SensorID,
		AckID:      ackID,
		Hash:       hash,
		PayloadRaw: string(raw),
		Ok:         payload.Ok,
		Msg:        payload.Msg,
		NewVer:     payload.NewVer,
	}, status)
	if err != nil {
		return "", err
	}
	return ackID, nil
}

func legacyStatus(now time.Time, p *telemetry.LegacyPayload) json.RawMessage {
	st := domain.SensorStatus{
		LastSeenAt: &now,
		BatteryPct: p.BatteryPct,
		SignalDbm:  p.SignalDbm,
	}
	if p.Lat != nil && p.Lon != nil {
		st.LastLat = p.Lat
		st.LastLon = p.Lon
	}
	out, _ := json.Marshal(st)
	return out
}
