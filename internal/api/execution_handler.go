package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/driftware/flowengine/internal/api/shared"
	"github.com/driftware/flowengine/internal/queue"
)

// ExecutionHandler handles workflow execution endpoints.
type ExecutionHandler struct {
	queues    *queue.JobQueueSet
	validator *validator.Validate
	logger    *slog.Logger
}

// NewExecutionHandler creates a new ExecutionHandler.
func NewExecutionHandler(queues *queue.JobQueueSet, logger *slog.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		queues:    queues,
		validator: validator.New(),
		logger:    logger.With("component", "execution_handler"),
	}
}

// Enqueue handles POST /executions. It creates an execution record and
// queues the backing job, returning 201 with the execution ID.
func (h *ExecutionHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueExecutionRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	opts := queue.EnqueueOptions{
		Priority: parsePriority(req.Priority),
		Delay:    time.Duration(req.DelaySecs) * time.Second,
		JobKey:   req.JobKey,
	}
	executionID, err := h.queues.EnqueueWorkflowExecution(r.Context(), req.WorkflowID, req.TriggerData, opts)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, EnqueueExecutionResponse{ExecutionID: executionID})
}

// Get handles GET /executions/{id}.
func (h *ExecutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	record, err := h.queues.GetExecution(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, record)
}

// Cancel handles DELETE /executions/{id}. Cancelling an already
// cancelled execution is a no-op success.
func (h *ExecutionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.queues.CancelExecution(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}
