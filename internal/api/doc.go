// Package api contains the HTTP layer: handlers, request/response
// models, and the centralized error-to-status mapping. Handlers decode
// and validate input, call into the queue, scheduler and health
// subsystems, and translate errors through MapErrorToStatusCode and
// GetSafeErrorMessage so internal details never reach clients.
package api
