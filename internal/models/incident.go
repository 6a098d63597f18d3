package models

import "time"

// Incident status, per spec §3.
const (
	IncidentStatusFiring       = "FIRING"
	IncidentStatusResolved     = "RESOLVED"
	IncidentStatusAcknowledged = "ACKNOWLEDGED"
)

// Incident is a correlated group of alerts produced by a single rule
// against a single grouping fingerprint (spec §3).
type Incident struct {
	ID                     string     `json:"id"`
	RuleID                 string     `json:"rule_id"`
	RuleFingerprint        string     `json:"rule_fingerprint"`
	IsCandidate            bool       `json:"is_candidate"`
	IsVisible              bool       `json:"is_visible"`
	AlertsCount            int        `json:"alerts_count"`
	StartTime              time.Time  `json:"start_time"`
	LastSeenTime           time.Time  `json:"last_seen_time"`
	Status                 string     `json:"status"`
	Severity               string     `json:"severity"`
	Assignee               *string    `json:"assignee,omitempty"`
	UserGeneratedName      string     `json:"user_generated_name"`
	SameIncidentInThePastID *string   `json:"same_incident_in_the_past_id,omitempty"`
	CreationTime           time.Time  `json:"creation_time"`
}

// ListIncidentsRequest carries filtering/pagination for the incidents
// list endpoint, mirroring the teacher's ListCasesRequest shape.
type ListIncidentsRequest struct {
	Page     int
	Limit    int
	Status   string
	RuleID   string
	Visible  *bool
}

// ListIncidentsResponse wraps a page of incidents with pagination
// metadata.
type ListIncidentsResponse struct {
	Incidents  []*Incident `json:"incidents"`
	Pagination Pagination  `json:"pagination"`
}

// Pagination mirrors the list-endpoint pagination metadata shape used
// across the service.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
