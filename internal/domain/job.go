package domain

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// JobType identifies which processor handles a job.
type JobType string

// Known job types. The registry is populated with one processor per type
// at process start.
const (
	JobTypeWorkflowExecution JobType = "workflow_execution"
	JobTypeDelayedResume     JobType = "delayed_resume"
	JobTypeScheduleFire      JobType = "schedule_fire"
	JobTypeLeadQualification JobType = "lead_qualification"
	JobTypeEmailSequence     JobType = "email_sequence"
	JobTypeSMSCampaign       JobType = "sms_campaign"
	JobTypeChatMessage       JobType = "chat_message"
	JobTypeDataSync          JobType = "data_sync"
)

// JobStatus represents the current state of a job in its queue.
type JobStatus string

// Possible job status values
const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Priority orders jobs within a single queue. Higher classes are always
// dequeued ahead of lower ones; there is no ordering guarantee across
// queues.
type Priority string

// Priority classes, highest first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityDefault  Priority = "default"
	PriorityLow      Priority = "low"
)

// PriorityClasses returns all priority classes in dequeue order.
func PriorityClasses() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityDefault, PriorityLow}
}

// Valid reports whether p is a known priority class.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityDefault, PriorityLow:
		return true
	}
	return false
}

// BackoffPolicy controls the delay between retry attempts.
type BackoffPolicy struct {
	// Type is either "exponential" or "fixed".
	Type string `json:"type"`

	// Base is the delay before the first retry.
	Base time.Duration `json:"base"`

	// Max caps the delay for exponential policies. Zero means uncapped.
	Max time.Duration `json:"max,omitempty"`
}

// Delay returns the wait before the given retry attempt (1-based).
func (b BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	if b.Type == "exponential" {
		d = time.Duration(float64(b.Base) * math.Pow(2, float64(attempt-1)))
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// RecoveryMetadata tags a job that was re-enqueued by the dead-letter
// pipeline so it is distinguishable from a fresh job in logs and in
// recurrence detection.
type RecoveryMetadata struct {
	OriginalJobID uuid.UUID `json:"original_job_id"`
	Attempt       int       `json:"attempt"`
	Strategy      string    `json:"strategy"`
}

// JobPayload carries the workflow identity and trigger context of a job.
// Type-specific data (sequence steps, message bodies, sync targets) is
// serialized into Data and decoded by the owning processor.
type JobPayload struct {
	WorkflowID     uuid.UUID              `json:"workflow_id,omitempty"`
	OrganizationID uuid.UUID              `json:"organization_id,omitempty"`
	ExecutionID    uuid.UUID              `json:"execution_id,omitempty"`
	TriggerData    map[string]interface{} `json:"trigger_data,omitempty"`
	Data           json.RawMessage        `json:"data,omitempty"`
}

// UnmarshalData decodes the type-specific payload into v.
func (p JobPayload) UnmarshalData(v interface{}) error {
	return json.Unmarshal(p.Data, v)
}

// Job is a single unit of asynchronous work. Jobs are owned by the queue
// set; workers hold a lease, not ownership.
type Job struct {
	ID           uuid.UUID         `json:"id"`
	Type         JobType           `json:"type"`
	Queue        string            `json:"queue"`
	Payload      JobPayload        `json:"payload"`
	Priority     Priority          `json:"priority"`
	JobKey       string            `json:"job_key,omitempty"`
	AttemptsMade int               `json:"attempts_made"`
	MaxAttempts  int               `json:"max_attempts"`
	Backoff      BackoffPolicy     `json:"backoff"`
	StalledCount int               `json:"stalled_count"`
	Recovery     *RecoveryMetadata `json:"recovery,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`

	// NotBefore is the earliest time the job becomes eligible for
	// leasing. Zero means immediately eligible.
	NotBefore time.Time `json:"not_before,omitempty"`
}

// AttemptsExhausted reports whether the job has consumed all of its
// ordinary retry attempts.
func (j *Job) AttemptsExhausted() bool {
	return j.AttemptsMade >= j.MaxAttempts
}
