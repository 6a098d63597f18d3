package models

import "time"

// Alert statuses, per spec §3: resolved alerts never create new
// incidents, only affect existing ones via a rule's ResolveOn policy.
const (
	AlertStatusFiring       = "firing"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
)

// Alert is the persisted record the correlator matches rules against.
// Event is the nested JSON payload (labels, tags, source, ...)
// mirrored by the Properties Metadata registry's JSON field mappings.
type Alert struct {
	ID          string                 `json:"id"`
	Fingerprint string                 `json:"fingerprint"`
	TenantID    string                 `json:"tenant_id"`
	Status      string                 `json:"status"`
	Severity    string                 `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	Event       map[string]interface{} `json:"event"`
}

// severityRank orders severities for the incident-severity derivation
// (max of member-alert severities, spec §3).
var severityRank = map[string]int{
	"info": 0, "low": 1, "medium": 2, "high": 3, "critical": 4,
}

// SeverityRank returns a comparable ordinal for an alert severity
// string; unknown severities rank below "info".
func SeverityRank(sev string) int {
	if r, ok := severityRank[sev]; ok {
		return r
	}
	return -1
}

// IsFiringLike reports whether an alert status should be eligible to
// create or extend an incident (spec §4.5: resolved alerts don't
// create new incidents, only affect existing ones).
func IsFiringLike(status string) bool {
	return status == AlertStatusFiring || status == AlertStatusAcknowledged
}
