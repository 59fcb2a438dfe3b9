package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/driftware/flowengine/internal/api/shared"
	"github.com/driftware/flowengine/internal/health"
	"github.com/driftware/flowengine/internal/store"
)

const (
	defaultMetricsWindow = time.Hour
	maxMetricsRows       = 500
	maxAlertRows         = 200
)

// HealthHandler handles health, metrics and alert endpoints.
type HealthHandler struct {
	health  *health.Service
	metrics store.MetricsStore
	logger  *slog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(svc *health.Service, metrics store.MetricsStore, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		health:  svc,
		metrics: metrics,
		logger:  logger.With("component", "health_handler"),
	}
}

// Get handles GET /health. It serves the last background check when one
// exists and runs a fresh check otherwise. A down system responds 503
// so load balancers can act on the status code alone.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	report := h.health.LastReport()
	if report == nil {
		var err error
		report, err = h.health.Check(r.Context())
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, GetSafeErrorMessage(err), err)
			return
		}
	}

	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, status, report)
}

// GetMetrics handles GET /metrics?since=RFC3339. Without a since
// parameter it returns the last hour of snapshots.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-defaultMetricsWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid since parameter, expected RFC3339", err)
			return
		}
		since = parsed
	}

	snapshots, err := h.metrics.ListSnapshots(r.Context(), since, maxMetricsRows)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, MetricsResponse{Snapshots: snapshots})
}

// ListAlerts handles GET /alerts?active=true.
func (h *HealthHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid active parameter", err)
			return
		}
		activeOnly = parsed
	}

	alerts, err := h.health.ListAlerts(r.Context(), activeOnly, maxAlertRows)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, AlertListResponse{Alerts: alerts})
}

// AcknowledgeAlert handles POST /alerts/{id}/acknowledge.
func (h *HealthHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.health.AcknowledgeAlert(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}

// ResolveAlert handles POST /alerts/{id}/resolve.
func (h *HealthHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.health.ResolveAlert(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}
