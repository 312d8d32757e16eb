package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"agromind-sense/internal/service"
)

type AdminHandler struct {
	control     *service.ControlPlaneService
	maintenance *service.MaintenanceService
	logger      *zap.Logger
}

func NewAdminHandler(control *service.ControlPlaneService, maintenance *service.MaintenanceService,
	logger *zap.Logger) *AdminHandler {
	return &AdminHandler{control: control, maintenance: maintenance, logger: logger}
}

type createSensorRequest struct {
	Name     string          `json:"name"`
	FieldID  *string         `json:"fieldId,omitempty"`
	Location json.RawMessage `json:"location,omitempty"`
}

// PostCreateSensor handles POST /tenants/{tenantId}/sensors.
func (h *AdminHandler) PostCreateSensor(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	user := userFrom(r.Context())
	if !authorizeTenant(user, tenantID, "tech") {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "insufficient role for tenant"})
		return
	}

	var req createSensorRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_sample", Reason: "name is required"})
		return
	}

	sensor, err := h.control.CreateSensor(r.Context(), tenantID, req.Name, req.FieldID, req.Location)
	if err != nil {
		h.logger.Error("create sensor failed", zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sensor)
}

type publishConfigRequest struct {
	Plan json.RawMessage `json:"plan"`
}

// PostPublishConfig handles POST /tenants/{tenantId}/sensors/{sensorId}/configs.
func (h *AdminHandler) PostPublishConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	sensorID := r.PathValue("sensorId")
	user := userFrom(r.Context())
	if !authorizeTenant(user, tenantID, "tech") {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "insufficient role for tenant"})
		return
	}

	var req publishConfigRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if len(req.Plan) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_plan", Reason: "plan is required"})
		return
	}

	outcome, err := h.control.PublishConfig(r.Context(), tenantID, sensorID, req.Plan, user.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// PostRepublishConfig handles POST /tenants/{tenantId}/sensors/{sensorId}/configs/{ver}/republish.
func (h *AdminHandler) PostRepublishConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	sensorID := r.PathValue("sensorId")
	user := userFrom(r.Context())
	if !authorizeTenant(user, tenantID, "tech") {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "insufficient role for tenant"})
		return
	}

	ver, err := strconv.Atoi(r.PathValue("ver"))
	if err != nil || ver < 1 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_plan", Reason: "invalid version"})
		return
	}

	outcome, err := h.control.RepublishConfig(r.Context(), tenantID, sensorID, ver, user.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// PostPurgeReadings handles POST /maintenance/purge-readings. Admin
// only; dryRun=true reports the candidate batch without deleting.
func (h *AdminHandler) PostPurgeReadings(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	olderThanDays := clampQueryInt(r, "olderThanDays", 60, 1, 3660)
	batchSize := clampQueryInt(r, "batchSize", 500, 1, 5000)
	dryRun := r.URL.Query().Get("dryRun") == "true"

	result, err := h.maintenance.PurgeReadings(r.Context(), olderThanDays, batchSize, dryRun)
	if err != nil {
		h.logger.Error("purge readings failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostTenantStats handles POST /maintenance/tenant-stats. With a
// tenantId query parameter it rebuilds one tenant, otherwise all.
func (h *AdminHandler) PostTenantStats(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	staleHours := clampQueryInt(r, "staleHours", 24, 1, 24*365)
	lowBatt := 20.0
	if raw := r.URL.Query().Get("lowBatt"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			lowBatt = v
		}
	}

	if tenantID := r.URL.Query().Get("tenantId"); tenantID != "" {
		stats, err := h.maintenance.RecomputeTenantStats(r.Context(), tenantID, staleHours, lowBatt)
		if err != nil {
			h.logger.Error("tenant stats failed", zap.String("tenant_id", tenantID), zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	done, err := h.maintenance.RecomputeAllTenantStats(r.Context(), staleHours, lowBatt)
	if err != nil {
		h.logger.Error("tenant stats sweep failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "tenants": done})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	user := userFrom(r.Context())
	if user == nil || user.Role != "admin" {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Reason: "admin role required"})
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "batch_limit", Reason: "body too large or unreadable"})
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_sample", Reason: "invalid JSON payload"})
		return err
	}
	return nil
}
