// Package plan validates and encodes sensor configuration plans. The
// bounds mirror the firmware constraints; a plan that passes Validate
// can be flashed as-is.
package plan

import (
	"encoding/json"
	"fmt"
	"hash/crc32"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/telemetry"
)

const (
	ChannelCount   = 3
	MaxFields      = 24
	MaxFieldLen    = 32
	MaxSteps       = 16
	MaxDecode      = 10
	MaxRegsPerStep = 32
)

type Channel struct {
	GPIO       int   `json:"gpio"`
	ActiveHigh *bool `json:"active_high,omitempty"`
	WarmupMs   *int  `json:"warmup_ms,omitempty"`
}

type Modbus struct {
	Addr      int `json:"addr"`
	Reg       int `json:"reg"`
	Count     int `json:"count"`
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

type Decode struct {
	Idx    int     `json:"idx"`
	Type   string  `json:"type"`
	RegOfs int     `json:"reg_ofs"`
	Scale  float64 `json:"scale,omitempty"`
	Offset float64 `json:"offset,omitempty"`
}

type Step struct {
	Ch     int      `json:"ch"`
	Modbus Modbus   `json:"modbus"`
	Decode []Decode `json:"decode"`
}

type Plan struct {
	Ver      int       `json:"ver"`
	Channels []Channel `json:"channels"`
	Fields   []string  `json:"fields"`
	Steps    []Step    `json:"steps"`
}

// regsNeeded returns how many registers a decode type consumes, or 0
// for an unknown type.
func regsNeeded(decodeType string) int {
	switch decodeType {
	case "u16", "s16":
		return 1
	case "u32be", "s32be", "f32be":
		return 2
	default:
		return 0
	}
}

// Validate parses and checks a plan document. Every violation wraps
// ErrPlanInvalid with the offending constraint.
func Validate(raw json.RawMessage) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanInvalid, err)
	}

	if len(p.Channels) != ChannelCount {
		return nil, fmt.Errorf("%w: channels must have length %d", domain.ErrPlanInvalid, ChannelCount)
	}
	if len(p.Fields) == 0 {
		return nil, fmt.Errorf("%w: fields empty", domain.ErrPlanInvalid)
	}
	if len(p.Fields) > MaxFields {
		return nil, fmt.Errorf("%w: too many fields", domain.ErrPlanInvalid)
	}
	for _, name := range p.Fields {
		if name == "" || len(name) > MaxFieldLen {
			return nil, fmt.Errorf("%w: invalid field name %q", domain.ErrPlanInvalid, name)
		}
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("%w: steps empty", domain.ErrPlanInvalid)
	}
	if len(p.Steps) > MaxSteps {
		return nil, fmt.Errorf("%w: too many steps", domain.ErrPlanInvalid)
	}

	for i, st := range p.Steps {
		if st.Ch < 0 || st.Ch >= ChannelCount {
			return nil, fmt.Errorf("%w: step %d channel out of range", domain.ErrPlanInvalid, i)
		}
		if st.Modbus.Count <= 0 || st.Modbus.Count > MaxRegsPerStep {
			return nil, fmt.Errorf("%w: step %d modbus count out of range", domain.ErrPlanInvalid, i)
		}
		if len(st.Decode) == 0 || len(st.Decode) > MaxDecode {
			return nil, fmt.Errorf("%w: step %d decode list size out of range", domain.ErrPlanInvalid, i)
		}
		for j, d := range st.Decode {
			need := regsNeeded(d.Type)
			if need == 0 {
				return nil, fmt.Errorf("%w: step %d decode %d unknown type %q", domain.ErrPlanInvalid, i, j, d.Type)
			}
			if d.Idx < 0 || d.Idx >= len(p.Fields) {
				return nil, fmt.Errorf("%w: step %d decode %d field index out of range", domain.ErrPlanInvalid, i, j)
			}
			if d.RegOfs < 0 || d.RegOfs+need > st.Modbus.Count {
				return nil, fmt.Errorf("%w: step %d decode %d register offset out of range", domain.ErrPlanInvalid, i, j)
			}
		}
	}
	return &p, nil
}

// Canonical returns the sorted-key serialization of a plan document;
// the CRC is always computed over this form so devices can verify it.
func Canonical(raw json.RawMessage) ([]byte, error) {
	out, err := telemetry.CanonicalJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlanInvalid, err)
	}
	return out, nil
}

// CRC32Hex is the 8-char lowercase checksum published next to a plan.
func CRC32Hex(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}
