package server

import (
	"net/http"
	"strings"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/handlers"
)

// NewRouter constructs a ServeMux with alerting API routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.HealthCheck)

	mux.HandleFunc("/api/v1/alerts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.SearchAlerts(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/v1/incidents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			h.ListIncidents(w, r)
		} else {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Note: simplified path routing. In production, use a proper router like chi or gorilla/mux.
	mux.HandleFunc("/api/v1/incidents/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case strings.HasSuffix(path, "/approve"):
			h.ApproveIncident(w, r)
		case strings.HasSuffix(path, "/resolve"):
			h.ResolveIncident(w, r)
		case r.Method == http.MethodGet:
			h.GetIncident(w, r)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	})

	return mux
}
