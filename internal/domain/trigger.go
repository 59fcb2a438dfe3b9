package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleType distinguishes recurring and one-shot triggers.
type ScheduleType string

// Possible schedule types
const (
	ScheduleTypeCron     ScheduleType = "cron"
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeOnce     ScheduleType = "once"
)

// ScheduleConfig holds the type-specific schedule parameters. Exactly the
// fields for the trigger's type are set.
type ScheduleConfig struct {
	// Expression is a standard 5-field cron expression (cron type).
	Expression string `json:"expression,omitempty"`

	// Timezone is an IANA zone name the cron expression is evaluated in.
	// Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	// Every is the fixed interval between fires (interval type).
	Every time.Duration `json:"every,omitempty"`

	// RunAt is the single fire time (once type).
	RunAt time.Time `json:"run_at,omitempty"`
}

// ScheduleTrigger is a time-based rule that enqueues workflow executions
// without an external caller. One-shot triggers are deactivated after
// their single fire; cancelled triggers are deactivated, never deleted.
type ScheduleTrigger struct {
	ID         uuid.UUID      `json:"id"`
	WorkflowID uuid.UUID      `json:"workflow_id"`
	Type       ScheduleType   `json:"type"`
	Config     ScheduleConfig `json:"config"`
	NextRunAt  time.Time      `json:"next_run_at"`
	LastRunAt  *time.Time     `json:"last_run_at,omitempty"`
	Active     bool           `json:"active"`
	RunCount   int            `json:"run_count"`
	ErrorCount int            `json:"error_count"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Recurring reports whether the trigger reschedules itself after firing.
func (t *ScheduleTrigger) Recurring() bool {
	return t.Type == ScheduleTypeCron || t.Type == ScheduleTypeInterval
}
