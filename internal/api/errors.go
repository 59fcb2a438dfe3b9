package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/driftware/flowengine/internal/domain"
	"github.com/driftware/flowengine/internal/queue"
	"github.com/driftware/flowengine/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, domain.ErrWorkflowNotActive),
		errors.Is(err, domain.ErrDuplicateJob),
		errors.Is(err, domain.ErrTerminalStatus):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Dependency failures
	case errors.Is(err, queue.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal
// details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, store.ErrWorkflowNotFound):
		return "Workflow not found"

	case errors.Is(err, store.ErrExecutionNotFound):
		return "Execution not found"

	case errors.Is(err, store.ErrTriggerNotFound):
		return "Schedule not found"

	case errors.Is(err, store.ErrAlertNotFound):
		return "Alert not found"

	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, domain.ErrWorkflowNotActive):
		return "Workflow is not active"

	case errors.Is(err, domain.ErrDuplicateJob):
		return "A job with this key is already queued"

	case errors.Is(err, domain.ErrTerminalStatus):
		return "Execution has already finished"

	case errors.Is(err, domain.ErrInvalidSchedule):
		return "Invalid schedule definition"

	case errors.Is(err, domain.ErrInvalidPriority):
		return "Invalid priority"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	case errors.Is(err, queue.ErrBrokerUnavailable):
		return "Queue broker is unavailable"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation
// errors and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		// Example format:
		// "Key: 'ScheduleRequest.Type' Error:Field validation for 'Type' failed on the 'oneof' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}
				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "gt", "gte":
		return "value too small"
	default:
		return "validation failed"
	}
}
