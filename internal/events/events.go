// Package events carries job lifecycle notifications between the worker
// loops and observers (health service, notification hooks) without
// hidden callback ordering: workers publish explicitly after each
// terminal step.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened to a job.
type EventType string

// Job lifecycle event types
const (
	EventJobCompleted    EventType = "job_completed"
	EventJobFailed       EventType = "job_failed"
	EventJobStalled      EventType = "job_stalled"
	EventJobDeadLettered EventType = "job_dead_lettered"
)

// JobLifecycleEvent is one observation of a job reaching a lifecycle
// point. Error is set for failed/dead-lettered events.
type JobLifecycleEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	JobID      uuid.UUID `json:"job_id"`
	JobType    string    `json:"job_type"`
	Queue      string    `json:"queue"`
	WorkerName string    `json:"worker_name,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewJobLifecycleEvent creates an event stamped with a fresh ID and the
// current time.
func NewJobLifecycleEvent(eventType EventType, jobID uuid.UUID, jobType, queue string) *JobLifecycleEvent {
	return &JobLifecycleEvent{
		ID:        uuid.New(),
		Type:      eventType,
		JobID:     jobID,
		JobType:   jobType,
		Queue:     queue,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle
// job lifecycle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *JobLifecycleEvent) error
}

// EventEmitter defines an interface for components that publish job
// lifecycle events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *JobLifecycleEvent) error
}
