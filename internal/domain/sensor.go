package domain

import (
	"encoding/json"
	"time"
)

// Sensor belongs to exactly one tenant. Multi-sensor devices share a
// device_id and are told apart by their measurement type code.
type Sensor struct {
	TenantID        string          `json:"tenant_id"`
	SensorID        string          `json:"sensor_id"`
	Name            string          `json:"name"`
	FieldID         *string         `json:"field_id,omitempty"`
	DeviceID        *string         `json:"device_id,omitempty"`
	HardwareID      *string         `json:"hardware_id,omitempty"`
	MeasurementType *int            `json:"measurement_type,omitempty"`
	Location        json.RawMessage `json:"location,omitempty"`
	Status          json.RawMessage `json:"status,omitempty"`
	LastReading     json.RawMessage `json:"last_reading,omitempty"`
	ActiveConfig    *ActiveConfig   `json:"active_config,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ActiveConfig is the sensor's configuration pointer, advanced by the
// control-plane publish.
type ActiveConfig struct {
	Ver       int       `json:"ver"`
	CRC       string    `json:"cc,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SensorStatus is the merge payload applied to a sensor row on every
// successful ingest.
type SensorStatus struct {
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	BatteryPct *float64   `json:"battery_pct,omitempty"`
	SignalDbm  *float64   `json:"signal_dbm,omitempty"`
	LastLat    *float64   `json:"last_lat,omitempty"`
	LastLon    *float64   `json:"last_lon,omitempty"`
	LastAckAt  *time.Time `json:"last_ack_at,omitempty"`
	LastAckOk  *int       `json:"last_ack_ok,omitempty"`
	LastAckMsg *string    `json:"last_ack_msg,omitempty"`
}

// SensorMap maps a device's measurement type code to the sensor
// responsible for that type. At most one sensor per code.
type SensorMap map[int]string

// DeviceIndexEntry is the advisory cache entry for one wire device id.
// It is rebuilt on miss from the sensors table, never trusted across
// tenants, and safe to lose.
type DeviceIndexEntry struct {
	DeviceID  string    `json:"device_id"`
	TenantID  string    `json:"tenant_id"`
	SensorMap SensorMap `json:"sensor_map,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HardwareBinding is one row of the global hardware index: a claimed
// 6-hex hardware id bound to a tenant-scoped sensor.
type HardwareBinding struct {
	HardwareID string `json:"hardware_id"`
	TenantID   string `json:"tenant_id"`
	SensorID   string `json:"sensor_id"`
}
