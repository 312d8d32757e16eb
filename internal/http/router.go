package httpapi

import (
	"net/http"

	"agromind-sense/internal/repository"
)

// RouterDeps carries everything the HTTP surface needs.
type RouterDeps struct {
	Ingest    *IngestHandler
	Query     *QueryHandler
	Admin     *AdminHandler
	Auth      repository.AuthRepository
	IngestKey string
}

// NewRouter wires the full route table. Device-facing endpoints are
// guarded by the shared ingest key; operator endpoints by bearer auth.
func NewRouter(deps RouterDeps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Device-facing ingest surface.
	mux.HandleFunc("POST /sensors/ingest/{deviceId}",
		requireIngestKey(deps.IngestKey, deps.Ingest.PostCompact))
	mux.HandleFunc("POST /sensors/telemetry/{hardwareId}",
		requireIngestKey(deps.IngestKey, deps.Ingest.PostLegacy))
	mux.HandleFunc("POST /sensors/ack/{hardwareId}",
		requireIngestKey(deps.IngestKey, deps.Ingest.PostAck))

	// Operator read surface.
	mux.HandleFunc("GET /devices/{deviceId}/resolve",
		requireBearer(deps.Auth, deps.Query.GetResolve))
	mux.HandleFunc("GET /tenants/{tenantId}/sensors/{sensorId}/readings",
		requireBearer(deps.Auth, deps.Query.GetReadings))
	mux.HandleFunc("GET /tenants/{tenantId}/sensors/{sensorId}/daily-agg",
		requireBearer(deps.Auth, deps.Query.GetDailyAgg))
	mux.HandleFunc("GET /tenants/{tenantId}/sensors/{sensorId}/daily-agg/export",
		requireBearer(deps.Auth, deps.Query.GetDailyAggExport))

	// Control plane.
	mux.HandleFunc("POST /tenants/{tenantId}/sensors",
		requireBearer(deps.Auth, deps.Admin.PostCreateSensor))
	mux.HandleFunc("POST /tenants/{tenantId}/sensors/{sensorId}/configs",
		requireBearer(deps.Auth, deps.Admin.PostPublishConfig))
	mux.HandleFunc("POST /tenants/{tenantId}/sensors/{sensorId}/configs/{ver}/republish",
		requireBearer(deps.Auth, deps.Admin.PostRepublishConfig))

	// Maintenance.
	mux.HandleFunc("POST /maintenance/purge-readings",
		requireBearer(deps.Auth, deps.Admin.PostPurgeReadings))
	mux.HandleFunc("POST /maintenance/tenant-stats",
		requireBearer(deps.Auth, deps.Admin.PostTenantStats))

	return mux
}
