// Package service implements the incident service layer named in
// SPEC_FULL.md's package layout: approve, list, get, resolve against
// the Rules Engine Correlator's persisted incidents (spec §3, §4.5).
package service

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/repository"
)

// Service handles the HTTP-facing business logic around incidents.
// The correlator itself (internal/correlation) is the only writer of
// alerts_count/severity/visibility; this layer only exposes read
// access plus the two admin actions spec §3/§4.5 reserve for a human:
// approving a require_approve candidate and force-resolving.
type Service struct {
	repo repository.Repository
}

// NewService creates a new service instance.
func NewService(repo repository.Repository) *Service {
	return &Service{repo: repo}
}

// GetIncident retrieves an incident by ID.
func (s *Service) GetIncident(ctx context.Context, id string) (*models.Incident, error) {
	return s.repo.GetIncidentByID(ctx, id)
}

// ListIncidents retrieves a paginated, filtered list of incidents.
func (s *Service) ListIncidents(ctx context.Context, req *models.ListIncidentsRequest) (*models.ListIncidentsResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = 50
	}

	incidents, total, err := s.repo.ListIncidents(ctx, req)
	if err != nil {
		return nil, err
	}

	totalPages := (total + req.Limit - 1) / req.Limit

	return &models.ListIncidentsResponse{
		Incidents: incidents,
		Pagination: models.Pagination{
			Page:       req.Page,
			Limit:      req.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

// SearchAlerts parses a CEL filter expression (spec §4.1) and runs it
// against the persisted alerts table through the SQL Provider (spec
// §4.3), the bulk-query counterpart to the correlator's per-alert
// in-memory evaluation (spec §4.2). A parse error is returned
// verbatim rather than logged-and-skipped, since this is a direct
// caller-supplied filter rather than a stored rule (spec §4.6 only
// makes rule-level parse errors non-fatal).
func (s *Service) SearchAlerts(ctx context.Context, celFilter, orderBy string, limit int) ([]*models.Alert, error) {
	node, err := cel.Parse(celFilter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return s.repo.SearchAlerts(ctx, node, orderBy, limit)
}

// ApproveIncident clears is_candidate on a require_approve incident
// (spec §4.5: "is_candidate remains true until external approval
// regardless of visibility gating"). Visibility is still governed by
// the correlator's own threshold/grouping check on the next match.
func (s *Service) ApproveIncident(ctx context.Context, id string) (*models.Incident, error) {
	if err := s.repo.ApproveIncident(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetIncidentByID(ctx, id)
}

// ResolveIncident force-resolves an incident regardless of its rule's
// resolve_on policy; an operator closing a false-positive correlation
// doesn't have to wait for the matching alert stream to catch up.
func (s *Service) ResolveIncident(ctx context.Context, id string) (*models.Incident, error) {
	incident, err := s.repo.GetIncidentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if incident.Status == models.IncidentStatusResolved {
		return incident, nil
	}
	if err := s.repo.ResolveIncident(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to resolve incident: %w", err)
	}
	return s.repo.GetIncidentByID(ctx, id)
}
