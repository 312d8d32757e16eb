// Package telemetry implements the device wire protocol: compact batch
// payloads, scale decoding into physical units, deterministic time
// bucketing and content fingerprints.
package telemetry

import "encoding/json"

// Bounds for one compact batch. Exceeding them rejects the whole batch
// (resource guard), unlike a per-item decode error which only rejects
// the offending item.
const (
	MaxItemGroups       = 4
	MaxSamplesPerItem   = 48
	DefaultIntervalSec  = 900
	MaxUpdatedDaysReply = 16
)

// CompactBatch is the primary ingest payload. Samples are chronological
// with the last element most recent; their timestamps are derived from
// the receipt time and the batch interval.
type CompactBatch struct {
	ID          string      `json:"id"`
	BatteryPct  *float64    `json:"b,omitempty"`
	SignalDbm   *float64    `json:"s,omitempty"`
	Lat         *float64    `json:"la,omitempty"`
	Lon         *float64    `json:"lo,omitempty"`
	IntervalSec *int        `json:"iv,omitempty"`
	Items       []ItemGroup `json:"it"`
}

// ItemGroup carries the samples of one measurement type. Each sample is
// either a scaled integer (scalar types) or a fixed-size array of
// scaled integers; both arrive as raw JSON and are shaped by Decode.
type ItemGroup struct {
	Type    int               `json:"t"`
	Samples []json.RawMessage `json:"s"`
}

// LegacyPayload is the older per-hardware telemetry format: an
// irregular timestamp series plus parallel data rows, bucketed by
// interval inference.
type LegacyPayload struct {
	ID         string       `json:"id"`
	Firmware   *int         `json:"fw,omitempty"`
	ConfigVer  *int         `json:"cv,omitempty"`
	ConfigCRC  *string      `json:"cc,omitempty"`
	BatteryPct *float64     `json:"b,omitempty"`
	SignalDbm  *float64     `json:"s,omitempty"`
	Lat        *float64     `json:"la,omitempty"`
	Lon        *float64     `json:"lo,omitempty"`
	GpsAge     *int         `json:"ga,omitempty"`
	Fields     []string     `json:"f,omitempty"`
	Ts         []*int64     `json:"t"`
	Data       [][]*float64 `json:"d"`
}

// AckPayload is a device acknowledgment of a config plan.
type AckPayload struct {
	ID     string  `json:"id"`
	Ok     *int    `json:"ok,omitempty"`
	Msg    *string `json:"m,omitempty"`
	AckVer *int    `json:"av,omitempty"`
	AckCRC *string `json:"ac,omitempty"`
	NewVer *int    `json:"nv,omitempty"`
	NewCRC *string `json:"nc,omitempty"`
}
