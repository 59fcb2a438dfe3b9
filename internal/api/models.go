package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/domain"
)

// EnqueueExecutionRequest is the payload for POST /executions.
type EnqueueExecutionRequest struct {
	WorkflowID  uuid.UUID              `json:"workflow_id" validate:"required"`
	TriggerData map[string]interface{} `json:"trigger_data,omitempty"`
	Priority    string                 `json:"priority,omitempty" validate:"omitempty,oneof=critical high default low"`
	DelaySecs   int                    `json:"delay_seconds,omitempty" validate:"gte=0"`
	JobKey      string                 `json:"job_key,omitempty"`
}

// EnqueueExecutionResponse is the payload returned by POST /executions.
type EnqueueExecutionResponse struct {
	ExecutionID uuid.UUID `json:"execution_id"`
}

// ScheduleRequest is the payload for POST /schedules.
type ScheduleRequest struct {
	WorkflowID uuid.UUID `json:"workflow_id" validate:"required"`
	Type       string    `json:"type" validate:"required,oneof=cron interval once"`

	// Expression and Timezone apply to cron schedules.
	Expression string `json:"expression,omitempty"`
	Timezone   string `json:"timezone,omitempty"`

	// EverySecs applies to interval schedules.
	EverySecs int `json:"every_seconds,omitempty" validate:"gte=0"`

	// RunAt applies to one-shot schedules.
	RunAt time.Time `json:"run_at,omitempty"`
}

// ScheduleResponse is the payload returned by POST /schedules.
type ScheduleResponse struct {
	TriggerID  uuid.UUID `json:"trigger_id"`
	WorkflowID uuid.UUID `json:"workflow_id"`
	Type       string    `json:"type"`
	NextRunAt  time.Time `json:"next_run_at"`
}

// PauseRequest is the payload for the admin queue pause/resume
// endpoints. An empty Queue applies the operation to every queue.
type PauseRequest struct {
	Queue  string `json:"queue,omitempty" validate:"omitempty,oneof=standard priority delayed"`
	Reason string `json:"reason,omitempty"`
}

// AlertListResponse wraps GET /alerts.
type AlertListResponse struct {
	Alerts []*domain.Alert `json:"alerts"`
}

// MetricsResponse wraps GET /metrics.
type MetricsResponse struct {
	Snapshots []*domain.MetricsSnapshot `json:"snapshots"`
}
