package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the state of one workflow run.
type ExecutionStatus string

// Possible execution status values
const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next preserves the
// monotonic status invariant: terminal states never transition out.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next.Terminal()
	case ExecutionStatusRunning:
		return next.Terminal()
	}
	return false
}

// ExecutionContext tracks the interpreter's position within the workflow
// graph. The queue core only carries it; the external executor mutates it.
type ExecutionContext struct {
	Variables     map[string]interface{} `json:"variables,omitempty"`
	CurrentNodeID string                 `json:"current_node_id,omitempty"`
	Path          []string               `json:"path,omitempty"`
}

// ExecutionRecord is the persisted status and history of one workflow
// run, correlated with but distinct from its underlying job.
type ExecutionRecord struct {
	ID             uuid.UUID              `json:"id"`
	WorkflowID     uuid.UUID              `json:"workflow_id"`
	OrganizationID uuid.UUID              `json:"organization_id"`

	// JobID and Queue correlate the record with its underlying job so
	// cancellation can find the job without a broker-side index.
	JobID uuid.UUID `json:"job_id,omitempty"`
	Queue string    `json:"queue,omitempty"`

	Status         ExecutionStatus        `json:"status"`
	TriggerData    map[string]interface{} `json:"trigger_data,omitempty"`
	Context        ExecutionContext       `json:"context"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// NewExecutionRecord creates a pending execution record for a workflow run.
func NewExecutionRecord(workflowID, organizationID uuid.UUID, triggerData map[string]interface{}) *ExecutionRecord {
	now := time.Now().UTC()
	return &ExecutionRecord{
		ID:             uuid.New(),
		WorkflowID:     workflowID,
		OrganizationID: organizationID,
		Status:         ExecutionStatusPending,
		TriggerData:    triggerData,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
