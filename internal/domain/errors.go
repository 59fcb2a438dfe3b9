// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a processor's Validate step fails.
	// A validation failure signals a data problem, not a transient one,
	// so it short-circuits without consuming a retry attempt.
	ErrValidation = errors.New("validation failed")

	// ErrWorkflowNotActive is returned when enqueuing an execution for a
	// workflow that is not in active status.
	ErrWorkflowNotActive = errors.New("workflow is not active")

	// ErrDuplicateJob is returned when a second enqueue with the same
	// job key arrives before the first completes.
	ErrDuplicateJob = errors.New("duplicate job key")

	// ErrNoProcessorFound is returned when no processor is registered
	// for a job's type tag.
	ErrNoProcessorFound = errors.New("no processor found for job type")

	// ErrInvalidSchedule is returned when a schedule config is rejected
	// at activation time.
	ErrInvalidSchedule = errors.New("invalid schedule configuration")

	// ErrInvalidPriority is returned when an enqueue names an unknown
	// priority class.
	ErrInvalidPriority = errors.New("invalid priority class")

	// ErrTerminalStatus is returned when a status update would move an
	// execution record out of a terminal state.
	ErrTerminalStatus = errors.New("execution record is in a terminal state")
)
