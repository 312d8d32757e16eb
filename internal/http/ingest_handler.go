package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/service"
	"agromind-sense/internal/telemetry"
)

// 256 KiB is far above any legitimate batch; the cap is a resource
// guard against misbehaving firmware.
const maxBodyBytes = 256 << 10

type IngestHandler struct {
	svc    *service.IngestService
	logger *zap.Logger
}

func NewIngestHandler(svc *service.IngestService, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{svc: svc, logger: logger}
}

// PostCompact handles POST /sensors/ingest/{deviceId}.
func (h *IngestHandler) PostCompact(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceId")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "batch_limit", Reason: "body too large or unreadable"})
		return
	}

	var batch telemetry.CompactBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_sample", Reason: "invalid JSON payload"})
		return
	}
	if batch.ID == "" {
		batch.ID = deviceID
	}
	if batch.ID != deviceID {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_sample", Reason: "deviceId mismatch (URL vs payload.id)"})
		return
	}

	result, err := h.svc.IngestCompact(r.Context(), raw, &batch)
	if err != nil {
		h.logIngestFailure("compact ingest failed", deviceID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostLegacy handles POST /sensors/telemetry/{hardwareId}.
func (h *IngestHandler) PostLegacy(w http.ResponseWriter, r *http.Request) {
	hardwareID := r.PathValue("hardwareId")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "batch_limit", Reason: "body too large or unreadable"})
		return
	}

	var payload telemetry.LegacyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_sample", Reason: "invalid JSON payload"})
		return
	}

	result, err := h.svc.IngestLegacy(r.Context(), hardwareID, raw, &payload)
	if err != nil {
		h.logIngestFailure("legacy ingest failed", hardwareID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"readingId": result.ReadingID,
		"deduped":   result.Deduped,
	})
}

// PostAck handles POST /sensors/ack/{hardwareId}.
func (h *IngestHandler) PostAck(w http.ResponseWriter, r *http.Request) {
	hardwareID := r.PathValue("hardwareId")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "batch_limit", Reason: "body too large or unreadable"})
		return
	}

	var payload telemetry.AckPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed_sample", Reason: "invalid JSON payload"})
		return
	}

	ackID, err := h.svc.IngestAck(r.Context(), hardwareID, raw, &payload)
	if err != nil {
		h.logIngestFailure("ack ingest failed", hardwareID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "ackId": ackID})
}

func (h *IngestHandler) logIngestFailure(msg, id string, err error) {
	// Caller defects are expected traffic; only store-side failures
	// are interesting at error level.
	status, _ := statusFor(err)
	if status >= 500 {
		h.logger.Error(msg, zap.String("id", id), zap.Error(err))
		return
	}
	if status != http.StatusNotFound || !errors.Is(err, domain.ErrNotRegistered) {
		h.logger.Debug(msg, zap.String("id", id), zap.Error(err))
	}
}
