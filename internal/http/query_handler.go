package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"agromind-sense/internal/repository"
	"agromind-sense/internal/resolver"
	"agromind-sense/internal/telemetry"
)

// Named relative time windows for reading queries.
var rangeMap = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1m":  30 * 24 * time.Hour,
	"3m":  90 * 24 * time.Hour,
	"6m":  180 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
}

const (
	defaultReadingLimit = 500
	maxReadingLimit     = 5000
	defaultAggDays      = 365
	maxAggDays          = 3660
)

type QueryHandler struct {
	resolver *resolver.Resolver
	sensors  repository.SensorsRepository
	readings repository.ReadingsRepository
	aggs     repository.DailyAggRepository
	logger   *zap.Logger
}

func NewQueryHandler(res *resolver.Resolver, sensors repository.SensorsRepository,
	readings repository.ReadingsRepository, aggs repository.DailyAggRepository,
	logger *zap.Logger) *QueryHandler {
	return &QueryHandler{resolver: res, sensors: sensors, readings: readings, aggs: aggs, logger: logger}
}

// GetResolve handles GET /devices/{deviceId}/resolve.
func (h *QueryHandler) GetResolve(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")

	res, err := h.resolver.ResolveDevice(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !authorizeTenant(userFrom(r.Context()), res.TenantID, "farmer") {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "not a member of the owning tenant"})
		return
	}

	body := map[string]interface{}{
		"deviceId":  deviceID,
		"tenantId":  res.TenantID,
		"sensorMap": res.SensorMap,
	}
	if res.Primary != "" {
		body["sensorId"] = res.Primary
		if sensor, err := h.sensors.GetSensor(r.Context(), res.TenantID, res.Primary); err == nil {
			body["sensor"] = sensor
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// GetReadings handles GET /tenants/{tenantId}/sensors/{sensorId}/readings.
func (h *QueryHandler) GetReadings(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	sensorID := r.PathValue("sensorId")
	if !authorizeTenant(userFrom(r.Context()), tenantID, "farmer") {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "not a member of the tenant"})
		return
	}

	rangeKey := r.URL.Query().Get("range")
	if rangeKey == "" {
		rangeKey = "1d"
	}
	window, ok := rangeMap[rangeKey]
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_range", Reason: "unknown range " + rangeKey})
		return
	}
	limit := clampQueryInt(r, "limit", defaultReadingLimit, 1, maxReadingLimit)

	end := time.Now().UTC()
	start := end.Add(-window)

	rows, err := h.readings.QueryRange(r.Context(), tenantID, sensorID, start, end, limit)
	if err != nil {
		h.logger.Error("readings query failed", zap.String("sensor_id", sensorID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenantId": tenantID,
		"sensorId": sensorID,
		"range":    rangeKey,
		"items":    rows,
	})
}

// GetDailyAgg handles GET /tenants/{tenantId}/sensors/{sensorId}/daily-agg.
func (h *QueryHandler) GetDailyAgg(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	sensorID := r.PathValue("sensorId")
	if !authorizeTenant(userFrom(r.Context()), tenantID, "farmer") {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "not a member of the tenant"})
		return
	}
	days := clampQueryInt(r, "days", defaultAggDays, 1, maxAggDays)

	from := telemetry.DayStart(time.Now().UTC()).AddDate(0, 0, -(days - 1))
	rows, err := h.aggs.QueryDays(r.Context(), tenantID, sensorID, from, days+10)
	if err != nil {
		h.logger.Error("daily agg query failed", zap.String("sensor_id", sensorID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tenantId": tenantID,
		"sensorId": sensorID,
		"days":     days,
		"items":    rows,
	})
}

// GetDailyAggExport handles GET /tenants/{tenantId}/sensors/{sensorId}/daily-agg/export.
func (h *QueryHandler) GetDailyAggExport(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	sensorID := r.PathValue("sensorId")
	if !authorizeTenant(userFrom(r.Context()), tenantID, "farmer") {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "not a member of the tenant"})
		return
	}
	days := clampQueryInt(r, "days", defaultAggDays, 1, maxAggDays)

	from := telemetry.DayStart(time.Now().UTC()).AddDate(0, 0, -(days - 1))
	rows, err := h.aggs.QueryDays(r.Context(), tenantID, sensorID, from, days+10)
	if err != nil {
		h.logger.Error("daily agg export query failed", zap.String("sensor_id", sensorID), zap.Error(err))
		writeError(w, err)
		return
	}

	blob, err := GenerateDailyAggExport(rows)
	if err != nil {
		h.logger.Error("daily agg export failed", zap.String("sensor_id", sensorID), zap.Error(err))
		writeError(w, err)
		return
	}

	filename := "daily-agg-" + sensorID + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func clampQueryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return def
	}
	if v > max {
		return max
	}
	return v
}
