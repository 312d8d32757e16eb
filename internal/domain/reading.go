package domain

import (
	"encoding/json"
	"time"
)

// Reading is one stored sample (or one coalesced duplicate) for one
// sensor at a derived bucket instant. ReadingID is derived from the
// bucket time, never assigned, so a retransmitted batch collides onto
// the same row instead of duplicating it.
type Reading struct {
	TenantID    string             `json:"tenant_id"`
	SensorID    string             `json:"sensor_id"`
	ReadingID   string             `json:"reading_id"`
	BucketStart *int64             `json:"bucket_start,omitempty"`
	Ts          time.Time          `json:"ts"`
	Values      map[string]float64 `json:"values"`
	Hash        string             `json:"hash"`
	PayloadRaw  string             `json:"payload_raw,omitempty"`
	Meta        json.RawMessage    `json:"meta,omitempty"`
	ExpiresAt   time.Time          `json:"expires_at"`
	ReceivedAt  time.Time          `json:"received_at"`
}

// ReadingMeta is echoed alongside every reading of a batch.
type ReadingMeta struct {
	DeviceID    string   `json:"device_id"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
	BatteryPct  *float64 `json:"battery_pct,omitempty"`
	SignalDbm   *float64 `json:"signal_dbm,omitempty"`
	IntervalSec int      `json:"interval_sec"`
	LastType    int      `json:"last_type,omitempty"`
}

// Ack is a device acknowledgment of a published config plan.
type Ack struct {
	TenantID   string    `json:"tenant_id"`
	SensorID   string    `json:"sensor_id"`
	AckID      string    `json:"ack_id"`
	Hash       string    `json:"hash"`
	PayloadRaw string    `json:"payload_raw"`
	Ok         *int      `json:"ok,omitempty"`
	Msg        *string   `json:"msg,omitempty"`
	NewVer     *int      `json:"new_ver,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ConfigVersion is one immutable published configuration plan.
type ConfigVersion struct {
	TenantID      string     `json:"tenant_id"`
	SensorID      string     `json:"sensor_id"`
	Ver           int        `json:"ver"`
	CRC           string     `json:"cc"`
	PlanJSON      string     `json:"plan_json"`
	CreatedBy     string     `json:"created_by,omitempty"`
	PublishedAt   time.Time  `json:"published_at"`
	RepublishedAt *time.Time `json:"republished_at,omitempty"`
	RepublishedBy *string    `json:"republished_by,omitempty"`
}

// TenantStats is the housekeeping rollup for one tenant.
type TenantStats struct {
	TenantID       string    `json:"tenant_id"`
	StaleMs        int64     `json:"stale_ms"`
	SensorsTotal   int       `json:"sensors_total"`
	SensorsActive  int       `json:"sensors_active"`
	SensorsStale   int       `json:"sensors_stale"`
	BatteryLow     int       `json:"battery_low"`
	AlertsOpen     int       `json:"alerts_open"`
	CriticalOpen   int       `json:"critical_open"`
	RecsOpen       int       `json:"recs_open"`
	RecsLast24h    int       `json:"recs_last_24h"`
	UpdatedAt      time.Time `json:"updated_at"`
}
