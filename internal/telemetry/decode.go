package telemetry

import (
	"encoding/json"
	"fmt"

	"agromind-sense/internal/domain"
)

// Measurement type codes carried on the wire.
const (
	TypeNPK            = 1
	TypeSoilMoisture   = 2
	TypeFertirrigation = 3
	TypeHygrometer     = 4
	TypeLeafWetness    = 5
	TypeRainGauge      = 6
	TypeThermalStress  = 7
)

type fieldSpec struct {
	name     string
	div      float64 // raw wire int / div = physical value
	boolFlag bool    // decode via non-zero test instead of scaling
	optional bool
}

type typeSpec struct {
	name   string
	scalar bool // sample is a bare number, not an array
	fields []fieldSpec
}

// Closed decode table: fixed arity and fixed scale per field. Unknown
// codes are rejected, never guessed.
var typeSpecs = map[int]typeSpec{
	TypeNPK: {name: "npk", fields: []fieldSpec{
		{name: "nitrogen_mgkg", div: 10},
		{name: "phosphorus_mgkg", div: 10},
		{name: "potassium_mgkg", div: 10},
	}},
	TypeSoilMoisture: {name: "soil_moisture", scalar: true, fields: []fieldSpec{
		{name: "vwc_percent", div: 1},
	}},
	TypeFertirrigation: {name: "fertirrigation", fields: []fieldSpec{
		{name: "ec_mscm", div: 100},
		{name: "solution_temp_c", div: 10, optional: true},
	}},
	TypeHygrometer: {name: "hygrometer", fields: []fieldSpec{
		{name: "air_temp_c", div: 10},
		{name: "rh_percent", div: 10},
	}},
	TypeLeafWetness: {name: "leaf_wetness", fields: []fieldSpec{
		{name: "wet", boolFlag: true},
		{name: "wet_duration_s", div: 1, optional: true},
	}},
	TypeRainGauge: {name: "rain_gauge", fields: []fieldSpec{
		{name: "rainfall_mm", div: 10},
		{name: "intensity_mm_h", div: 10, optional: true},
	}},
	TypeThermalStress: {name: "thermal_stress", scalar: true, fields: []fieldSpec{
		{name: "temperature_c", div: 10},
	}},
}

// TypeName returns the measurement type name for a wire code, or ""
// for an unknown code.
func TypeName(code int) string {
	return typeSpecs[code].name
}

// Decode turns one wire sample of the given measurement type into named
// physical-unit values. Pure: no I/O, no dependency on sibling samples.
func Decode(typeCode int, raw json.RawMessage) (map[string]float64, error) {
	spec, ok := typeSpecs[typeCode]
	if !ok {
		return nil, fmt.Errorf("%w: code %d", domain.ErrUnsupportedType, typeCode)
	}

	var fields []float64
	if spec.scalar {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %s expects a number", domain.ErrMalformedSample, spec.name)
		}
		fields = []float64{v}
	} else {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%w: %s expects an array", domain.ErrMalformedSample, spec.name)
		}
	}

	required := 0
	for _, f := range spec.fields {
		if !f.optional {
			required++
		}
	}
	if len(fields) < required || len(fields) > len(spec.fields) {
		return nil, fmt.Errorf("%w: %s expects %d-%d fields, got %d",
			domain.ErrMalformedSample, spec.name, required, len(spec.fields), len(fields))
	}

	values := make(map[string]float64, len(fields))
	for i, v := range fields {
		f := spec.fields[i]
		if f.boolFlag {
			if v != 0 {
				values[f.name] = 1.0
			} else {
				values[f.name] = 0.0
			}
			continue
		}
		values[f.name] = v / f.div
	}
	return values, nil
}
