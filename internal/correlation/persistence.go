package correlation

import (
	"context"
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

// FingerprintState is one member alert-fingerprint's join time and
// most-recently-received status within an incident, used to evaluate
// the rule's resolve_on policy (spec §4.5).
type FingerprintState struct {
	Fingerprint string
	Status      string
	JoinedAt    time.Time
}

// Persistence is the correlator's transactional storage contract
// (spec §6). It is implemented by internal/repository against
// Postgres; the correlator never issues SQL itself.
type Persistence interface {
	// FindActiveIncident returns the newest Incident for (rule_id,
	// rule_fingerprint) whose last_seen_time is within the rule's
	// timeframe of now, or nil if none exists. Used by the resolution
	// path, which must never create an incident.
	FindActiveIncident(ctx context.Context, ruleID, fingerprint string, timeframeSeconds int) (*models.Incident, error)

	// GetOrCreateCandidate implements candidate selection (spec §4.5):
	// reuse the newest matching incident within the timeframe window,
	// or create a new hidden candidate. created reports which
	// happened.
	GetOrCreateCandidate(ctx context.Context, rule *models.Rule, fingerprint string, alertTimestamp time.Time) (incident *models.Incident, created bool, err error)

	// AppendAlert attaches alert's fingerprint to the incident (a
	// no-op on alerts_count if the fingerprint is already a member),
	// updates last_seen_time and derived severity, and records the
	// fingerprint's latest status for resolve_on evaluation. Returns
	// the incident after the update.
	AppendAlert(ctx context.Context, incidentID string, alert *models.Alert) (*models.Incident, error)

	// MemberEvents returns every distinct member alert's event
	// payload, used to check create_on=ALL disjunct coverage.
	MemberEvents(ctx context.Context, incidentID string) ([]evaluator.Context, error)

	// MemberFingerprintStates returns one entry per distinct member
	// fingerprint, ordered by join time ascending.
	MemberFingerprintStates(ctx context.Context, incidentID string) ([]FingerprintState, error)

	// Promote sets is_visible=true and the rendered user_generated_name.
	Promote(ctx context.Context, incidentID string, name string) error

	// Resolve transitions an incident to RESOLVED.
	Resolve(ctx context.Context, incidentID string) error

	// FindPriorResolved returns the ID of the most recently resolved
	// incident for (rule_id, fingerprint), or nil.
	FindPriorResolved(ctx context.Context, ruleID, fingerprint string) (*string, error)
}
