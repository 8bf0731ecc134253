package routes

import (
	"net/http"

	"foqus-orchestrator/api/rest/handlers"
	"foqus-orchestrator/core/pagination"
	"foqus-orchestrator/core/repository"
	"foqus-orchestrator/core/session"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, sessions *session.Orchestrator, pages *pagination.Paginator, gatherer prometheus.Gatherer) {
	sessionHandler := handlers.NewSessionHandler(sessions, pages)
	dashboardHandler := handlers.NewDashboardHandler(sessions)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(handlers.ValidateUser)

	// Session endpoints
	api.HandleFunc("/session", sessionHandler.CreateSession).Methods("POST")
	api.HandleFunc("/session/{id}", sessionHandler.GetSession).Methods("GET")
	api.HandleFunc("/session/{id}/summary", dashboardHandler.GetSessionSummary).Methods("GET")
	api.HandleFunc("/session/{id}/append", sessionHandler.AppendJobs).Methods("POST")
	api.HandleFunc("/session/{id}/start", sessionHandler.StartSession).Methods("POST")
	api.HandleFunc("/session/{id}/stop", sessionHandler.StopSession).Methods("POST")
	api.HandleFunc("/session/{id}/kill", sessionHandler.KillSession).Methods("POST")

	// Result endpoints
	api.HandleFunc("/session/{id}/result", sessionHandler.RequestResultPage).Methods("POST")
	api.HandleFunc("/session/{id}/result/{page:[0-9]+}", sessionHandler.GetResultPage).Methods("GET")

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// SetupEventRoutes exposes the audit log of mirrored events
func SetupEventRoutes(r *mux.Router, events repository.EventStore) {
	eventHandler := handlers.NewEventHandler(events)
	r.HandleFunc("/v1/job/{id}/events", eventHandler.GetJobEvents).Methods("GET")
}
