// Package handlers is the HTTP surface over the incident service
// layer (spec §1 treats the HTTP/authn surface itself as an external
// collaborator; this is the minimal REST API the rest of the stack's
// gateway fronts).
package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/service"
)

type Handler struct {
	service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{service: svc}
}

// HealthCheck handles health check requests.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// ListIncidents handles GET /api/v1/incidents
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req := &models.ListIncidentsRequest{
		Page:   parseInt(r.URL.Query().Get("page"), 1),
		Limit:  parseInt(r.URL.Query().Get("limit"), 50),
		Status: r.URL.Query().Get("status"),
		RuleID: r.URL.Query().Get("rule_id"),
	}
	if v := r.URL.Query().Get("visible"); v != "" {
		visible := v == "true"
		req.Visible = &visible
	}

	response, err := h.service.ListIncidents(r.Context(), req)
	if err != nil {
		log.Printf("Error listing incidents: %v", err)
		http.Error(w, "Failed to list incidents", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// GetIncident handles GET /api/v1/incidents/:id
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := incidentIDFromPath(r.URL.Path, "")
	if id == "" {
		http.Error(w, "Incident ID required", http.StatusBadRequest)
		return
	}

	incident, err := h.service.GetIncident(r.Context(), id)
	if err != nil {
		log.Printf("Error getting incident: %v", err)
		http.Error(w, "Incident not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(incident)
}

// ApproveIncident handles PUT /api/v1/incidents/:id/approve
func (h *Handler) ApproveIncident(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := incidentIDFromPath(r.URL.Path, "/approve")
	if id == "" {
		http.Error(w, "Incident ID required", http.StatusBadRequest)
		return
	}

	incident, err := h.service.ApproveIncident(r.Context(), id)
	if err != nil {
		log.Printf("Error approving incident: %v", err)
		http.Error(w, "Failed to approve incident", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(incident)
}

// ResolveIncident handles PUT /api/v1/incidents/:id/resolve
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := incidentIDFromPath(r.URL.Path, "/resolve")
	if id == "" {
		http.Error(w, "Incident ID required", http.StatusBadRequest)
		return
	}

	incident, err := h.service.ResolveIncident(r.Context(), id)
	if err != nil {
		log.Printf("Error resolving incident: %v", err)
		http.Error(w, "Failed to resolve incident", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(incident)
}

// SearchAlerts handles GET /api/v1/alerts?cel=...&order_by=...&limit=...,
// the bulk-query counterpart to the correlator's per-alert evaluation:
// it exposes the SQL Provider (spec §4.3) for ad hoc filtering of
// persisted alerts rather than matching a stored rule.
func (h *Handler) SearchAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	celFilter := r.URL.Query().Get("cel")
	if celFilter == "" {
		http.Error(w, "cel query parameter required", http.StatusBadRequest)
		return
	}

	alerts, err := h.service.SearchAlerts(
		r.Context(),
		celFilter,
		r.URL.Query().Get("order_by"),
		parseInt(r.URL.Query().Get("limit"), 100),
	)
	if err != nil {
		log.Printf("Error searching alerts: %v", err)
		http.Error(w, "Failed to search alerts", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"alerts": alerts})
}

// incidentIDFromPath extracts the :id segment from
// /api/v1/incidents/:id[suffix].
func incidentIDFromPath(path, suffix string) string {
	id := strings.TrimPrefix(path, "/api/v1/incidents/")
	if suffix != "" {
		id = strings.TrimSuffix(id, suffix)
	}
	return id
}

func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return defaultVal
}
