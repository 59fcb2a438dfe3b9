package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/driftware/flowengine/internal/api/shared"
	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/scheduler"
)

// ScheduleHandler handles schedule trigger endpoints.
type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
	validator *validator.Validate
	logger    *slog.Logger
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(sched *scheduler.Scheduler, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		scheduler: sched,
		validator: validator.New(),
		logger:    logger.With("component", "schedule_handler"),
	}
}

// Create handles POST /schedules. An invalid cron expression, interval
// or past one-shot time maps to 400 without persisting anything.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	cfg := domain.ScheduleConfig{
		Expression: req.Expression,
		Timezone:   req.Timezone,
		Every:      time.Duration(req.EverySecs) * time.Second,
		RunAt:      req.RunAt,
	}
	trigger, err := h.scheduler.Schedule(r.Context(), req.WorkflowID, domain.ScheduleType(req.Type), cfg)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, ScheduleResponse{
		TriggerID:  trigger.ID,
		WorkflowID: trigger.WorkflowID,
		Type:       string(trigger.Type),
		NextRunAt:  trigger.NextRunAt,
	})
}

// Delete handles DELETE /schedules/{id}. The trigger is deactivated
// rather than removed, so its run history stays queryable.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := getPathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.scheduler.Unschedule(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusNoContent, nil)
}
