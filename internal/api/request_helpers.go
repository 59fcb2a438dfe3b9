package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/driftware/flowengine/internal/api/shared"
	"github.com/driftware/flowengine/internal/domain"
)

// getPathUUID parses the named chi URL parameter as a UUID, writing a
// 400 response and returning ok=false when it is missing or malformed.
func getPathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid "+name+" format", err)
		return uuid.Nil, false
	}
	return id, true
}

// parsePriority converts the request field to a domain priority, leaving
// validation of unknown values to the queue layer. An empty string means
// the queue default.
func parsePriority(raw string) domain.Priority {
	return domain.Priority(raw)
}
