package telemetry_test

import (
	"encoding/json"
	"testing"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/telemetry"

	"github.com/stretchr/testify/require"
)

func TestDecode_Hygrometer(t *testing.T) {
	values, err := telemetry.Decode(telemetry.TypeHygrometer, json.RawMessage(`[205, 601]`))
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"air_temp_c": 20.5, "rh_percent": 60.1}, values)
}

func TestDecode_SoilMoistureScalar(t *testing.T) {
	values, err := telemetry.Decode(telemetry.TypeSoilMoisture, json.RawMessage(`41`))
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"vwc_percent": 41.0}, values)
}

func TestDecode_Fertirrigation(t *testing.T) {
	values, err := telemetry.Decode(telemetry.TypeFertirrigation, json.RawMessage(`[120, 215]`))
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"ec_mscm": 1.2, "solution_temp_c": 21.5}, values)

	// Trailing optional field may be omitted.
	values, err = telemetry.Decode(telemetry.TypeFertirrigation, json.RawMessage(`[85]`))
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"ec_mscm": 0.85}, values)
}

func TestDecode_NPK(t *testing.T) {
	values, err := telemetry.Decode(telemetry.TypeNPK, json.RawMessage(`[412, 88, 1560]`))
	require.NoError(t, err)
	require.Equal(t, map[string]float64{
		"nitrogen_mgkg":   41.2,
		"phosphorus_mgkg": 8.8,
		"potassium_mgkg":  156.0,
	}, values)
}

func TestDecode_LeafWetnessFlag(t *testing.T) {
	values, err := telemetry.Decode(telemetry.TypeLeafWetness, json.RawMessage(`[3, 120]`))
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"wet": 1.0, "wet_duration_s": 120.0}, values)

	values, err = telemetry.Decode(telemetry.TypeLeafWetness, json.RawMessage(`[0]`))
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"wet": 0.0}, values)
}

func TestDecode_ArityMismatch(t *testing.T) {
	_, err := telemetry.Decode(telemetry.TypeHygrometer, json.RawMessage(`[205]`))
	require.ErrorIs(t, err, domain.ErrMalformedSample)
	require.Contains(t, err.Error(), "hygrometer")

	_, err = telemetry.Decode(telemetry.TypeNPK, json.RawMessage(`[1, 2, 3, 4]`))
	require.ErrorIs(t, err, domain.ErrMalformedSample)
}

func TestDecode_ShapeMismatch(t *testing.T) {
	// Array where a scalar is expected and vice versa.
	_, err := telemetry.Decode(telemetry.TypeSoilMoisture, json.RawMessage(`[41]`))
	require.ErrorIs(t, err, domain.ErrMalformedSample)

	_, err = telemetry.Decode(telemetry.TypeHygrometer, json.RawMessage(`205`))
	require.ErrorIs(t, err, domain.ErrMalformedSample)
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := telemetry.Decode(42, json.RawMessage(`[1]`))
	require.ErrorIs(t, err, domain.ErrUnsupportedType)
}
