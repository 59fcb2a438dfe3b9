package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in
	// the store. This is the generic version of the entity-specific not
	// found errors below.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidEntity is returned when an entity fails validation
	// before being stored.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update operation affects no
	// rows, for example because a conditional update lost a race.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a database transaction fails
	// to commit or when an operation within a transaction fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors

	// ErrWorkflowNotFound indicates that the requested workflow does not exist.
	ErrWorkflowNotFound = fmt.Errorf("%w: workflow", ErrNotFound)

	// ErrExecutionNotFound indicates that the requested execution record does not exist.
	ErrExecutionNotFound = fmt.Errorf("%w: execution", ErrNotFound)

	// ErrTriggerNotFound indicates that the requested schedule trigger does not exist.
	ErrTriggerNotFound = fmt.Errorf("%w: schedule trigger", ErrNotFound)

	// ErrDeadLetterNotFound indicates that the requested dead-letter job does not exist.
	ErrDeadLetterNotFound = fmt.Errorf("%w: dead-letter job", ErrNotFound)

	// ErrAlertNotFound indicates that the requested alert does not exist.
	ErrAlertNotFound = fmt.Errorf("%w: alert", ErrNotFound)

	// ErrLeadNotFound indicates that the requested lead does not exist.
	ErrLeadNotFound = fmt.Errorf("%w: lead", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
