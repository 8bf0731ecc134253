package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"foqus-orchestrator/core/models"
	"foqus-orchestrator/core/pagination"
	"foqus-orchestrator/core/session"
	"foqus-orchestrator/core/spec"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// UserHeader carries the caller's user name
const UserHeader = "X-Foqus-User"

// DefaultUser is used when a request names no user
const DefaultUser = "anonymous"

// maxDefinitionBytes bounds an append request body
const maxDefinitionBytes = 4 << 20

// SessionHandler handles session-related HTTP requests
type SessionHandler struct {
	sessions *session.Orchestrator
	pages    *pagination.Paginator
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Orchestrator, pages *pagination.Paginator) *SessionHandler {
	return &SessionHandler{sessions: sessions, pages: pages}
}

// CreateSession handles POST /v1/session
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.sessions.Create(r.Context(), userOf(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetSession handles GET /v1/session/{id}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	jobs, err := h.sessions.Jobs(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	state := models.JobState(r.URL.Query().Get("state"))
	items := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		if state != "" && job.State != state {
			continue
		}
		item := map[string]interface{}{
			"id":         job.ID,
			"state":      job.State,
			"simulation": job.Simulation,
			"create":     job.Create,
		}
		if job.State.IsTerminal() {
			item["finished"] = job.Finished
		}
		if job.Message != "" {
			item["message"] = job.Message
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":   sessionID,
		"jobs": items,
	})
}

// AppendJobs handles POST /v1/session/{id}/append
func (h *SessionHandler) AppendJobs(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid request body"))
		return
	}
	defs, err := spec.ParseDefinitions(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid job definitions: "+err.Error()))
		return
	}

	ids, err := h.sessions.Append(r.Context(), userOf(r), sessionID, defs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":   sessionID,
		"jobs": ids,
	})
}

// StartSession handles POST /v1/session/{id}/start
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.Start(r.Context(), userOf(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StopSession handles POST /v1/session/{id}/stop
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.Stop(r.Context(), userOf(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// KillSession handles POST /v1/session/{id}/kill
func (h *SessionHandler) KillSession(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.Terminate(r.Context(), userOf(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RequestResultPage handles POST /v1/session/{id}/result
func (h *SessionHandler) RequestResultPage(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	n, err := h.pages.RequestPage(r.Context(), userOf(r), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":   sessionID,
		"page": n,
	})
}

// GetResultPage handles GET /v1/session/{id}/result/{page}
func (h *SessionHandler) GetResultPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := strconv.Atoi(vars["page"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid page number"))
		return
	}

	page, err := h.pages.GetPage(r.Context(), userOf(r), vars["id"], n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ValidateUser rejects requests whose user header cannot be used as a key segment
func ValidateUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get(UserHeader), "/") {
			writeJSON(w, http.StatusBadRequest, errorBody("Invalid user name"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userOf(r *http.Request) string {
	if user := r.Header.Get(UserHeader); user != "" {
		return user
	}
	return DefaultUser
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

// writeError maps a core error to a status code. Store errors are logged, not echoed.
func writeError(w http.ResponseWriter, err error) {
	var schemaErr *models.SchemaError
	switch {
	case errors.Is(err, pagination.ErrPageNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("Result page not found"))
	case errors.Is(err, session.ErrInvalidDefinition):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.As(err, &schemaErr):
		writeJSON(w, http.StatusBadRequest, errorBody(schemaErr.Error()))
	case errors.Is(err, pagination.ErrPageConflict):
		writeJSON(w, http.StatusConflict, errorBody("Result page is being written by another request, retry"))
	case errors.Is(err, pagination.ErrLedgerInconsistent):
		log.WithError(err).Error("Result ledger inconsistent")
		writeJSON(w, http.StatusInternalServerError, errorBody("Result ledger inconsistent"))
	default:
		log.WithError(err).Error("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal error"))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}
