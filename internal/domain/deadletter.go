package domain

import (
	"time"

	"github.com/google/uuid"
)

// Classification is the taxonomy bucket assigned to a dead-lettered
// failure. It drives the recoverability policy.
type Classification string

// Failure classifications
const (
	ClassificationTransient     Classification = "transient"
	ClassificationConfiguration Classification = "configuration"
	ClassificationData          Classification = "data"
	ClassificationPersistent    Classification = "persistent"
	ClassificationUnknown       Classification = "unknown"
)

// RecoveryAction is the single action chosen for a dead-letter job on
// each processing pass.
type RecoveryAction string

// Possible recovery actions
const (
	ActionApplyWorkaround  RecoveryAction = "apply_workaround"
	ActionDelayRetry       RecoveryAction = "delay_retry"
	ActionRecover          RecoveryAction = "recover"
	ActionCreateManualTask RecoveryAction = "create_manual_task"
	ActionEscalate         RecoveryAction = "escalate"
)

// DeadLetterStatus represents the state of a dead-letter job.
type DeadLetterStatus string

// Possible dead-letter job status values
const (
	DeadLetterStatusPending    DeadLetterStatus = "pending"
	DeadLetterStatusRecovering DeadLetterStatus = "recovering"
	DeadLetterStatusRecovered  DeadLetterStatus = "recovered"
	DeadLetterStatusManualTask DeadLetterStatus = "manual_task"
	DeadLetterStatusEscalated  DeadLetterStatus = "escalated"
)

// JobSnapshot is the immutable copy of the job as it was when it
// exhausted its ordinary retries.
type JobSnapshot struct {
	JobID        uuid.UUID  `json:"job_id"`
	Type         JobType    `json:"type"`
	Queue        string     `json:"queue"`
	Payload      JobPayload `json:"payload"`
	AttemptsMade int        `json:"attempts_made"`
}

// FailureDetail captures the error that exhausted the job.
type FailureDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// FailureContext records where and when the failure happened.
type FailureContext struct {
	Queue         string    `json:"queue"`
	WorkerName    string    `json:"worker_name"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

// RecoveryState tracks automated recovery progress. Attempts never
// exceeds MaxAttempts; the persisted row is the single source of truth
// for the counter.
type RecoveryState struct {
	Classification Classification `json:"classification"`
	Strategy       string         `json:"strategy"`
	IsRecoverable  bool           `json:"is_recoverable"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty"`
	LastAction     RecoveryAction `json:"last_action,omitempty"`
}

// DeadLetterMetadata carries correlation and triage fields.
type DeadLetterMetadata struct {
	OrganizationID uuid.UUID `json:"organization_id,omitempty"`
	WorkflowID     uuid.UUID `json:"workflow_id,omitempty"`
	Priority       int       `json:"priority"`
	Tags           []string  `json:"tags,omitempty"`
}

// DeadLetterJob wraps a job that exhausted its ordinary retries plus the
// diagnostic context needed to decide on further action.
type DeadLetterJob struct {
	ID        uuid.UUID          `json:"id"`
	Original  JobSnapshot        `json:"original"`
	Error     FailureDetail      `json:"error"`
	Context   FailureContext     `json:"context"`
	Recovery  RecoveryState      `json:"recovery"`
	Metadata  DeadLetterMetadata `json:"metadata"`
	Status    DeadLetterStatus   `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ErrorSignature is the key used for recurrence detection: failures of
// the same workflow with the same classification count as recurrences.
func (d *DeadLetterJob) ErrorSignature() string {
	return string(d.Original.Type) + ":" + string(d.Recovery.Classification)
}

// Critical reports whether the entry needs an immediate notification
// independent of the periodic health sweep.
func (d *DeadLetterJob) Critical() bool {
	return d.Recovery.Classification == ClassificationPersistent || !d.Recovery.IsRecoverable
}
