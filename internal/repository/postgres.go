package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/correlation"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/metadata"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/sqlprovider"
)

// maxSearchAlertsLimit bounds SearchAlerts regardless of the caller's
// requested limit, so an unbounded CEL filter can't pull the whole
// alerts table into memory.
const maxSearchAlertsLimit = 500

// PostgresRepository implements Repository against the incidents /
// incident_members / alerts schema (migrations/*.sql).
type PostgresRepository struct {
	pool           *pgxpool.Pool
	alertsProvider *sqlprovider.Provider
}

// NewPostgresRepository creates a new PostgreSQL repository. lenient
// selects the SQL Provider's UnmappedProperty behavior (spec §4.3/§7):
// true degrades an unmapped CEL property to a constant-false
// predicate, false surfaces it as an error.
func NewPostgresRepository(ctx context.Context, connString string, lenient bool) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	registry := metadata.DefaultAlertRegistry()
	var provider *sqlprovider.Provider
	if lenient {
		provider = sqlprovider.NewLenient(sqlprovider.Postgres{}, registry)
	} else {
		provider = sqlprovider.New(sqlprovider.Postgres{}, registry)
	}

	return &PostgresRepository{pool: pool, alertsProvider: provider}, nil
}

// SearchAlerts implements the SQL Provider's bulk-query path (spec
// §4.3): node is translated into a parameterized WHERE clause against
// the alerts table, optionally ordered by a CEL property's declared-
// type-cast expression (spec §4.3: "ORDER BY contexts ... cast to the
// declared type, so that numeric/temporal ordering is not
// lexicographic").
func (r *PostgresRepository) SearchAlerts(ctx context.Context, node cel.Node, orderBy string, limit int) ([]*models.Alert, error) {
	where, params, err := r.alertsProvider.Translate(node)
	if err != nil {
		return nil, fmt.Errorf("failed to translate alert filter: %w", err)
	}

	if limit <= 0 || limit > maxSearchAlertsLimit {
		limit = maxSearchAlertsLimit
	}

	query := fmt.Sprintf(`
		SELECT id, fingerprint, tenant_id, status, severity, timestamp, event
		FROM alerts
		WHERE %s`, where)

	if orderBy != "" {
		orderExpr, err := r.alertsProvider.OrderExpression(orderBy)
		if err != nil {
			return nil, fmt.Errorf("failed to translate order_by: %w", err)
		}
		query += " ORDER BY " + orderExpr + " DESC"
	}

	query += fmt.Sprintf(" LIMIT %s", r.alertsProvider.Dialect().Placeholder(len(params)+1))
	params = append(params, limit)

	rows, err := r.pool.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to search alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		a := &models.Alert{}
		var raw []byte
		if err := rows.Scan(&a.ID, &a.Fingerprint, &a.TenantID, &a.Status, &a.Severity, &a.Timestamp, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if err := json.Unmarshal(raw, &a.Event); err != nil {
			return nil, fmt.Errorf("failed to decode alert event: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// FindActiveIncident returns the newest incident for (ruleID,
// fingerprint) whose last_seen_time is within timeframeSeconds of now,
// or nil if none. timeframeSeconds <= 0 means no window is ever
// considered active (spec §8: timeframe=0 always creates a new
// incident), so this is used only by the resolution path, which must
// never create one itself.
func (r *PostgresRepository) FindActiveIncident(ctx context.Context, ruleID, fingerprint string, timeframeSeconds int) (*models.Incident, error) {
	if timeframeSeconds <= 0 {
		return nil, nil
	}
	cutoff := time.Now().Add(-time.Duration(timeframeSeconds) * time.Second)
	incident, err := scanIncident(r.pool.QueryRow(ctx, `
		SELECT id, rule_id, rule_fingerprint, is_candidate, is_visible, alerts_count,
		       start_time, last_seen_time, status, severity, assignee, user_generated_name,
		       same_incident_in_the_past_id, creation_time
		FROM incidents
		WHERE rule_id = $1 AND rule_fingerprint = $2 AND last_seen_time >= $3
		ORDER BY start_time DESC
		LIMIT 1
	`, ruleID, fingerprint, cutoff))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active incident: %w", err)
	}
	return incident, nil
}

// GetOrCreateCandidate implements candidate selection (spec §4.5). The
// correlator's per-fingerprint Redis lock is what keeps two workers on
// the same (rule_id, rule_fingerprint) from both observing "none found"
// and inserting twice. The transaction's FOR UPDATE only locks an
// existing candidate row; it does not stop two callers that skip the
// lock from each creating one.
func (r *PostgresRepository) GetOrCreateCandidate(ctx context.Context, rule *models.Rule, fingerprint string, alertTimestamp time.Time) (*models.Incident, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var notBefore time.Time
	if secs := rule.TimeframeSeconds(); secs > 0 {
		notBefore = alertTimestamp.Add(-time.Duration(secs) * time.Second)
	} else {
		// timeframe=0: never reuse an existing incident (spec §8).
		notBefore = alertTimestamp.Add(time.Nanosecond)
	}

	existing, err := scanIncident(tx.QueryRow(ctx, `
		SELECT id, rule_id, rule_fingerprint, is_candidate, is_visible, alerts_count,
		       start_time, last_seen_time, status, severity, assignee, user_generated_name,
		       same_incident_in_the_past_id, creation_time
		FROM incidents
		WHERE rule_id = $1 AND rule_fingerprint = $2 AND last_seen_time >= $3
		ORDER BY start_time DESC
		LIMIT 1
		FOR UPDATE
	`, rule.ID, fingerprint, notBefore))
	if err == nil {
		return existing, false, tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up candidate incident: %w", err)
	}

	var priorResolved *string
	if err := tx.QueryRow(ctx, `
		SELECT id FROM incidents
		WHERE rule_id = $1 AND rule_fingerprint = $2 AND status = $3
		ORDER BY last_seen_time DESC LIMIT 1
	`, rule.ID, fingerprint, models.IncidentStatusResolved).Scan(&priorResolved); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to look up prior resolved incident: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate incident id: %w", err)
	}
	incident := &models.Incident{
		ID:                      id.String(),
		RuleID:                  rule.ID,
		RuleFingerprint:         fingerprint,
		IsCandidate:             rule.RequireApprove,
		IsVisible:               false,
		AlertsCount:             0,
		StartTime:               alertTimestamp,
		LastSeenTime:            alertTimestamp,
		Status:                  models.IncidentStatusFiring,
		UserGeneratedName:       rule.Name,
		SameIncidentInThePastID: priorResolved,
		CreationTime:            time.Now(),
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO incidents (id, rule_id, rule_fingerprint, is_candidate, is_visible, alerts_count,
		                        start_time, last_seen_time, status, severity, assignee, user_generated_name,
		                        same_incident_in_the_past_id, creation_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', NULL, $10, $11, $12)
	`, incident.ID, incident.RuleID, incident.RuleFingerprint, incident.IsCandidate, incident.IsVisible,
		incident.AlertsCount, incident.StartTime, incident.LastSeenTime, incident.Status,
		incident.UserGeneratedName, incident.SameIncidentInThePastID, incident.CreationTime); err != nil {
		return nil, false, fmt.Errorf("failed to create candidate incident: %w", err)
	}

	return incident, true, tx.Commit(ctx)
}

// AppendAlert attaches alert's fingerprint to the incident (deduped:
// a repeat fingerprint updates its latest status but never changes
// alerts_count, spec §8 idempotence), updates last_seen_time and the
// derived max-severity, and returns the incident afterward.
func (r *PostgresRepository) AppendAlert(ctx context.Context, incidentID string, alert *models.Alert) (*models.Incident, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	eventJSON, err := json.Marshal(alert.Event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert event: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO incident_members (incident_id, fingerprint, alert_id, status, event, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (incident_id, fingerprint) DO UPDATE
		SET status = excluded.status, alert_id = excluded.alert_id, event = excluded.event
	`, incidentID, alert.Fingerprint, alert.ID, alert.Status, eventJSON, alert.Timestamp); err != nil {
		return nil, fmt.Errorf("failed to attach alert to incident: %w", err)
	}

	var alertsCount int
	if err := tx.QueryRow(ctx, `SELECT COUNT(DISTINCT fingerprint) FROM incident_members WHERE incident_id = $1`, incidentID).Scan(&alertsCount); err != nil {
		return nil, fmt.Errorf("failed to count incident members: %w", err)
	}

	severity, err := maxMemberSeverity(ctx, tx, incidentID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE incidents
		SET alerts_count = $1,
		    last_seen_time = GREATEST(last_seen_time, $2),
		    severity = $3
		WHERE id = $4
	`, alertsCount, alert.Timestamp, severity, incidentID); err != nil {
		return nil, fmt.Errorf("failed to update incident: %w", err)
	}

	incident, err := scanIncident(tx.QueryRow(ctx, `
		SELECT id, rule_id, rule_fingerprint, is_candidate, is_visible, alerts_count,
		       start_time, last_seen_time, status, severity, assignee, user_generated_name,
		       same_incident_in_the_past_id, creation_time
		FROM incidents WHERE id = $1
	`, incidentID))
	if err != nil {
		return nil, fmt.Errorf("failed to reload incident: %w", err)
	}
	return incident, tx.Commit(ctx)
}

// maxMemberSeverity re-derives the incident's severity as the max over
// every distinct member alert's most recently recorded severity.
func maxMemberSeverity(ctx context.Context, tx pgx.Tx, incidentID string) (string, error) {
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT ON (fingerprint) fingerprint, event->>'severity'
		FROM incident_members
		WHERE incident_id = $1
		ORDER BY fingerprint, joined_at DESC
	`, incidentID)
	if err != nil {
		return "", fmt.Errorf("failed to read member severities: %w", err)
	}
	defer rows.Close()

	best := ""
	bestRank := -1
	for rows.Next() {
		var fp string
		var sev *string
		if err := rows.Scan(&fp, &sev); err != nil {
			return "", fmt.Errorf("failed to scan member severity: %w", err)
		}
		if sev == nil {
			continue
		}
		if rank := models.SeverityRank(*sev); rank > bestRank {
			bestRank = rank
			best = *sev
		}
	}
	return best, rows.Err()
}

// MemberEvents returns every distinct member alert's most recently
// recorded event payload, used to check create_on=ALL disjunct
// coverage (spec §4.5).
func (r *PostgresRepository) MemberEvents(ctx context.Context, incidentID string) ([]evaluator.Context, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (fingerprint) event
		FROM incident_members
		WHERE incident_id = $1
		ORDER BY fingerprint, joined_at DESC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read member events: %w", err)
	}
	defer rows.Close()

	var events []evaluator.Context
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan member event: %w", err)
		}
		var event map[string]interface{}
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("failed to decode member event: %w", err)
		}
		events = append(events, evaluator.Context(event))
	}
	return events, rows.Err()
}

// MemberFingerprintStates returns one entry per distinct member
// fingerprint, ordered by first-join time ascending, used to evaluate
// the rule's resolve_on policy (spec §4.5).
func (r *PostgresRepository) MemberFingerprintStates(ctx context.Context, incidentID string) ([]correlation.FingerprintState, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fingerprint,
		       (ARRAY_AGG(status ORDER BY joined_at DESC))[1] AS latest_status,
		       MIN(joined_at) AS joined_at
		FROM incident_members
		WHERE incident_id = $1
		GROUP BY fingerprint
		ORDER BY joined_at ASC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read member fingerprint states: %w", err)
	}
	defer rows.Close()

	var states []correlation.FingerprintState
	for rows.Next() {
		var s correlation.FingerprintState
		if err := rows.Scan(&s.Fingerprint, &s.Status, &s.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// Promote sets is_visible=true and the rendered user-facing name.
func (r *PostgresRepository) Promote(ctx context.Context, incidentID string, name string) error {
	result, err := r.pool.Exec(ctx, `UPDATE incidents SET is_visible = true, user_generated_name = $1 WHERE id = $2`, name, incidentID)
	if err != nil {
		return fmt.Errorf("failed to promote incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

// Resolve transitions an incident to RESOLVED.
func (r *PostgresRepository) Resolve(ctx context.Context, incidentID string) error {
	result, err := r.pool.Exec(ctx, `UPDATE incidents SET status = $1 WHERE id = $2`, models.IncidentStatusResolved, incidentID)
	if err != nil {
		return fmt.Errorf("failed to resolve incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

// FindPriorResolved returns the ID of the most recently resolved
// incident for (ruleID, fingerprint), or nil.
func (r *PostgresRepository) FindPriorResolved(ctx context.Context, ruleID, fingerprint string) (*string, error) {
	var id *string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM incidents
		WHERE rule_id = $1 AND rule_fingerprint = $2 AND status = $3
		ORDER BY last_seen_time DESC LIMIT 1
	`, ruleID, fingerprint, models.IncidentStatusResolved).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find prior resolved incident: %w", err)
	}
	return id, nil
}

// GetIncidentByID retrieves a single incident.
func (r *PostgresRepository) GetIncidentByID(ctx context.Context, id string) (*models.Incident, error) {
	incident, err := scanIncident(r.pool.QueryRow(ctx, `
		SELECT id, rule_id, rule_fingerprint, is_candidate, is_visible, alerts_count,
		       start_time, last_seen_time, status, severity, assignee, user_generated_name,
		       same_incident_in_the_past_id, creation_time
		FROM incidents WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return incident, nil
}

// ListIncidents returns a paginated, filtered page of incidents.
// Candidate incidents that never reached visibility remain queryable
// as hidden (spec §4.5 expiration), never deleted by this path.
func (r *PostgresRepository) ListIncidents(ctx context.Context, req *models.ListIncidentsRequest) ([]*models.Incident, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if req.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, req.Status)
		argPos++
	}
	if req.RuleID != "" {
		where += fmt.Sprintf(" AND rule_id = $%d", argPos)
		args = append(args, req.RuleID)
		argPos++
	}
	if req.Visible != nil {
		where += fmt.Sprintf(" AND is_visible = $%d", argPos)
		args = append(args, *req.Visible)
		argPos++
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM incidents %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	offset := (req.Page - 1) * req.Limit
	args = append(args, req.Limit, offset)
	query := fmt.Sprintf(`
		SELECT id, rule_id, rule_fingerprint, is_candidate, is_visible, alerts_count,
		       start_time, last_seen_time, status, severity, assignee, user_generated_name,
		       same_incident_in_the_past_id, creation_time
		FROM incidents
		%s
		ORDER BY start_time DESC
		LIMIT $%d OFFSET $%d
	`, where, argPos, argPos+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.Incident
	for rows.Next() {
		incident, err := scanIncidentRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}
	return incidents, total, rows.Err()
}

// ApproveIncident clears is_candidate, letting the normal
// threshold/grouping gate control visibility from here on.
func (r *PostgresRepository) ApproveIncident(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `UPDATE incidents SET is_candidate = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to approve incident: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

// ResolveIncident is the admin override path; it bypasses resolve_on
// entirely and always transitions to RESOLVED.
func (r *PostgresRepository) ResolveIncident(ctx context.Context, id string) error {
	return r.Resolve(ctx, id)
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*models.Incident, error) {
	return scanIncidentRow(row)
}

func scanIncidentRow(row rowScanner) (*models.Incident, error) {
	i := &models.Incident{}
	var severity *string
	if err := row.Scan(
		&i.ID, &i.RuleID, &i.RuleFingerprint, &i.IsCandidate, &i.IsVisible, &i.AlertsCount,
		&i.StartTime, &i.LastSeenTime, &i.Status, &severity, &i.Assignee, &i.UserGeneratedName,
		&i.SameIncidentInThePastID, &i.CreationTime,
	); err != nil {
		return nil, err
	}
	if severity != nil {
		i.Severity = *severity
	}
	return i, nil
}
