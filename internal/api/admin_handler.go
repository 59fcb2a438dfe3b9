package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/driftware/flowengine/internal/api/shared"
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/worker"
)

// AdminHandler handles operator endpoints for pausing and resuming
// queues and individual workers.
type AdminHandler struct {
	queues    *queue.JobQueueSet
	manager   *worker.Manager
	validator *validator.Validate
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(queues *queue.JobQueueSet, manager *worker.Manager, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		queues:    queues,
		manager:   manager,
		validator: validator.New(),
		logger:    logger.With("component", "admin_handler"),
	}
}

// PauseQueues handles POST /admin/queues/pause. A request naming a
// queue pauses just that queue; otherwise every queue is paused.
func (h *AdminHandler) PauseQueues(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePauseRequest(w, r)
	if !ok {
		return
	}

	var err error
	if req.Queue != "" {
		err = h.queues.Pause(r.Context(), req.Queue)
	} else {
		err = h.queues.PauseAll(r.Context(), req.Reason)
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}

// ResumeQueues handles POST /admin/queues/resume.
func (h *AdminHandler) ResumeQueues(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePauseRequest(w, r)
	if !ok {
		return
	}

	var err error
	if req.Queue != "" {
		err = h.queues.Resume(r.Context(), req.Queue)
	} else {
		err = h.queues.ResumeAll(r.Context(), req.Reason)
	}
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}

// PauseWorker handles POST /admin/workers/{name}/pause. The worker
// finishes its in-flight jobs but leases nothing new.
func (h *AdminHandler) PauseWorker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.manager.PauseWorker(name) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Worker not found")
		return
	}

	h.logger.Info("worker paused by operator", "worker", name)
	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}

// ResumeWorker handles POST /admin/workers/{name}/resume.
func (h *AdminHandler) ResumeWorker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.manager.ResumeWorker(name) {
		shared.RespondWithError(w, r, http.StatusNotFound, "Worker not found")
		return
	}

	h.logger.Info("worker resumed by operator", "worker", name)
	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}

// ListWorkers handles GET /admin/workers.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.manager.Health())
}

// decodePauseRequest reads the optional pause body. An empty body is
// treated as the pause-everything request.
func (h *AdminHandler) decodePauseRequest(w http.ResponseWriter, r *http.Request) (PauseRequest, bool) {
	var req PauseRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
			return req, false
		}
		if err := h.validator.Struct(req); err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
			return req, false
		}
	}
	return req, true
}
