package handlers

import (
	"net/http"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/session"

	"github.com/gorilla/mux"
)

// DashboardHandler handles dashboard API requests
type DashboardHandler struct {
	sessions *session.Orchestrator
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(sessions *session.Orchestrator) *DashboardHandler {
	return &DashboardHandler{sessions: sessions}
}

// GetSessionSummary handles GET /v1/session/{id}/summary
func (h *DashboardHandler) GetSessionSummary(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	counts, err := h.sessions.Summary(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	states := make(map[string]int, len(models.AllJobStates))
	total, finished := 0, 0
	for _, state := range models.AllJobStates {
		n := counts[state]
		states[string(state)] = n
		total += n
		if state.IsTerminal() {
			finished += n
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     sessionID,
		"states": states,
		"jobs": map[string]interface{}{
			"total":    total,
			"finished": finished,
			"active":   total - finished,
		},
	})
}
