package repository

import (
	"context"
	"errors"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/correlation"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

var ErrIncidentNotFound = errors.New("incident not found")

// Repository is the alerting service's full persistence surface: the
// correlator's transactional contract (spec §6, satisfied via
// embedding correlation.Persistence) plus the read/admin operations
// the HTTP service layer needs (list, get, approve, manual resolve)
// and the SQL Provider's bulk alert query path (spec §4.3).
type Repository interface {
	correlation.Persistence

	GetIncidentByID(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error)

	// ApproveIncident clears is_candidate on a require_approve
	// incident; visibility promotion still runs through the
	// correlator's threshold/grouping gate (spec §4.5).
	ApproveIncident(ctx context.Context, id string) error

	// ResolveIncident is the admin override of a rule's resolve_on
	// policy: operators can always close an incident by hand.
	ResolveIncident(ctx context.Context, id string) error

	// SearchAlerts translates a parsed CEL predicate into SQL against
	// the persisted alerts table via internal/sqlprovider (spec §4.3)
	// and returns the matching rows. orderBy is a CEL dotted property
	// name or "" for the table's natural order; limit <= 0 means no
	// bound beyond the repository's own hard cap.
	SearchAlerts(ctx context.Context, node cel.Node, orderBy string, limit int) ([]*models.Alert, error)

	Close() error
}
