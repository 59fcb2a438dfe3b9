package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
// Only active workflows may be enqueued for execution.
type WorkflowStatus string

// Possible workflow status values
const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusPaused   WorkflowStatus = "paused"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Workflow is the definition authored in the UI. The queue core reads it
// only to gate enqueues and to hand it to the external executor; the
// graph itself is opaque here.
type Workflow struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Name           string         `json:"name"`
	Status         WorkflowStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Executable reports whether execution jobs may be enqueued for the
// workflow.
func (w *Workflow) Executable() bool {
	return w.Status == WorkflowStatusActive
}
