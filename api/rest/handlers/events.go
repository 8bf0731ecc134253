package handlers

import (
	"net/http"
	"strconv"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/repository"

	"github.com/gorilla/mux"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventHandler serves the audit log of mirrored events
type EventHandler struct {
	events repository.EventStore
}

// NewEventHandler creates a new event handler
func NewEventHandler(events repository.EventStore) *EventHandler {
	return &EventHandler{events: events}
}

// GetJobEvents handles GET /v1/job/{id}/events
func (h *EventHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("Invalid limit"))
			return
		}
		limit = n
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.events.GetJobEvents(r.Context(), jobID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     jobID,
		"events": events,
	})
}
