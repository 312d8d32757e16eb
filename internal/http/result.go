package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"agromind-sense/internal/domain"
	"agromind-sense/internal/repository"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps error categories to stable HTTP statuses and
// machine-readable codes. Every rejection keeps its distinct category;
// only genuinely unexpected failures collapse to "internal".
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotRegistered):
		return http.StatusNotFound, "not_registered"
	case errors.Is(err, domain.ErrSensorNotFound):
		return http.StatusNotFound, "sensor_not_found"
	case errors.Is(err, domain.ErrConfigNotFound):
		return http.StatusNotFound, "config_not_found"
	case errors.Is(err, domain.ErrUnresolvableSensorMap):
		return http.StatusNotFound, "unresolvable_sensor_map"
	case errors.Is(err, domain.ErrAmbiguousDevice):
		return http.StatusConflict, "ambiguous_device"
	case errors.Is(err, domain.ErrConflictingSensorMap):
		return http.StatusConflict, "conflicting_sensor_map"
	case errors.Is(err, domain.ErrMalformedSample):
		return http.StatusBadRequest, "malformed_sample"
	case errors.Is(err, domain.ErrUnsupportedType):
		return http.StatusBadRequest, "unsupported_type"
	case errors.Is(err, domain.ErrBatchLimit):
		return http.StatusBadRequest, "batch_limit"
	case errors.Is(err, domain.ErrPlanInvalid):
		return http.StatusBadRequest, "invalid_plan"
	case errors.Is(err, repository.ErrTokenUnknown):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrPublishTimeout):
		return http.StatusBadGateway, "publish_timeout"
	case errors.Is(err, domain.ErrTxRetryExhausted):
		return http.StatusInternalServerError, "transaction_conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	reason := ""
	if status != http.StatusInternalServerError || code == "transaction_conflict" {
		reason = err.Error()
	}
	writeJSON(w, status, errorBody{Error: code, Reason: reason})
}
