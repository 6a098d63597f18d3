package correlation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

// fakePersistence is an in-memory stand-in for the Postgres-backed
// Persistence implementation, sufficient to exercise the correlator's
// candidate/promote/resolve decision logic without a database.
type fakePersistence struct {
	incidents map[string]*models.Incident
	events    map[string][]evaluator.Context
	states    map[string][]FingerprintState
	seq       int
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		incidents: map[string]*models.Incident{},
		events:    map[string][]evaluator.Context{},
		states:    map[string][]FingerprintState{},
	}
}

func (f *fakePersistence) FindActiveIncident(ctx context.Context, ruleID, fingerprint string, timeframeSeconds int) (*models.Incident, error) {
	var newest *models.Incident
	for _, inc := range f.incidents {
		if inc.RuleID != ruleID || inc.RuleFingerprint != fingerprint {
			continue
		}
		if newest == nil || inc.LastSeenTime.After(newest.LastSeenTime) {
			newest = inc
		}
	}
	return newest, nil
}

func (f *fakePersistence) GetOrCreateCandidate(ctx context.Context, rule *models.Rule, fingerprint string, alertTimestamp time.Time) (*models.Incident, bool, error) {
	if existing, err := f.FindActiveIncident(ctx, rule.ID, fingerprint, rule.TimeframeSeconds()); err == nil && existing != nil {
		if rule.TimeframeSeconds() > 0 && alertTimestamp.Sub(existing.LastSeenTime) <= time.Duration(rule.TimeframeSeconds())*time.Second {
			return existing, false, nil
		}
	}

	f.seq++
	inc := &models.Incident{
		ID:              fmt.Sprintf("incident-%d", f.seq),
		RuleID:          rule.ID,
		RuleFingerprint: fingerprint,
		IsCandidate:     rule.RequireApprove,
		Status:          models.IncidentStatusFiring,
		StartTime:       alertTimestamp,
		LastSeenTime:    alertTimestamp,
		CreationTime:    alertTimestamp,
	}
	f.incidents[inc.ID] = inc
	return inc, true, nil
}

func (f *fakePersistence) AppendAlert(ctx context.Context, incidentID string, alert *models.Alert) (*models.Incident, error) {
	inc, ok := f.incidents[incidentID]
	if !ok {
		return nil, fmt.Errorf("no such incident %s", incidentID)
	}

	known := false
	for _, s := range f.states[incidentID] {
		if s.Fingerprint == alert.Fingerprint {
			known = true
			break
		}
	}
	if !known {
		inc.AlertsCount++
		f.states[incidentID] = append(f.states[incidentID], FingerprintState{
			Fingerprint: alert.Fingerprint,
			Status:      alert.Status,
			JoinedAt:    alert.Timestamp,
		})
	} else {
		for i, s := range f.states[incidentID] {
			if s.Fingerprint == alert.Fingerprint {
				f.states[incidentID][i].Status = alert.Status
			}
		}
	}

	if alert.Timestamp.After(inc.LastSeenTime) {
		inc.LastSeenTime = alert.Timestamp
	}
	if models.SeverityRank(alert.Severity) > models.SeverityRank(inc.Severity) {
		inc.Severity = alert.Severity
	}

	f.events[incidentID] = append(f.events[incidentID], evaluator.Context(alert.Event))
	return inc, nil
}

func (f *fakePersistence) MemberEvents(ctx context.Context, incidentID string) ([]evaluator.Context, error) {
	return f.events[incidentID], nil
}

func (f *fakePersistence) MemberFingerprintStates(ctx context.Context, incidentID string) ([]FingerprintState, error) {
	return f.states[incidentID], nil
}

func (f *fakePersistence) Promote(ctx context.Context, incidentID string, name string) error {
	inc, ok := f.incidents[incidentID]
	if !ok {
		return fmt.Errorf("no such incident %s", incidentID)
	}
	inc.IsVisible = true
	inc.UserGeneratedName = name
	return nil
}

func (f *fakePersistence) Resolve(ctx context.Context, incidentID string) error {
	inc, ok := f.incidents[incidentID]
	if !ok {
		return fmt.Errorf("no such incident %s", incidentID)
	}
	inc.Status = models.IncidentStatusResolved
	return nil
}

func (f *fakePersistence) FindPriorResolved(ctx context.Context, ruleID, fingerprint string) (*string, error) {
	for _, inc := range f.incidents {
		if inc.RuleID == ruleID && inc.RuleFingerprint == fingerprint && inc.Status == models.IncidentStatusResolved {
			id := inc.ID
			return &id, nil
		}
	}
	return nil, nil
}

func newTestCorrelator(t *testing.T, persistence Persistence) *Correlator {
	t.Helper()
	_, client := setupTestRedis(t)
	locker := NewLocker(client, 5*time.Second)
	namer := NewNamer(client)
	return New(nil, nil, persistence, locker, namer, 2*time.Second)
}

func loginRule(threshold int, createOn models.CreateOn, resolveOn models.ResolveOn) *models.Rule {
	return &models.Rule{
		ID:               "rule-login",
		Name:             "Repeated login failures",
		DefinitionCEL:    `event.type == "login_failure"`,
		Timeframe:        5,
		TimeUnit:         models.TimeUnitMinutes,
		CreateOn:         createOn,
		Threshold:        threshold,
		ResolveOn:        resolveOn,
		GroupingCriteria: []string{"event.user"},
	}
}

func firingAlert(id, user string, ts time.Time) *models.Alert {
	return &models.Alert{
		ID:          id,
		Fingerprint: id,
		Status:      models.AlertStatusFiring,
		Severity:    "high",
		Timestamp:   ts,
		Event:       map[string]interface{}{"event": map[string]interface{}{"type": "login_failure", "user": user}},
	}
}

func TestCorrelator_PromotesOnceThresholdReached(t *testing.T) {
	persistence := newFakePersistence()
	c := newTestCorrelator(t, persistence)
	cr := compiledRule{rule: loginRule(3, models.CreateOnAny, models.ResolveOnAll)}
	node, err := cel.Parse(cr.rule.DefinitionCEL)
	require.NoError(t, err)
	cr.node = node

	now := time.Now()
	ctx := context.Background()

	c.processAlert(ctx, []compiledRule{cr}, firingAlert("a1", "alice", now))
	c.processAlert(ctx, []compiledRule{cr}, firingAlert("a2", "alice", now.Add(time.Second)))
	assert.Len(t, persistence.incidents, 1)
	for _, inc := range persistence.incidents {
		assert.False(t, inc.IsVisible, "should not promote before threshold")
	}

	c.processAlert(ctx, []compiledRule{cr}, firingAlert("a3", "alice", now.Add(2*time.Second)))
	for _, inc := range persistence.incidents {
		assert.True(t, inc.IsVisible, "should promote once threshold met")
		assert.Equal(t, "Repeated login failures", inc.UserGeneratedName)
	}
}

func TestCorrelator_DoesNotCreateIncidentForUnmatchedAlert(t *testing.T) {
	persistence := newFakePersistence()
	c := newTestCorrelator(t, persistence)
	cr := compiledRule{rule: loginRule(1, models.CreateOnAny, models.ResolveOnAll)}
	node, err := cel.Parse(cr.rule.DefinitionCEL)
	require.NoError(t, err)
	cr.node = node

	alert := firingAlert("a1", "alice", time.Now())
	alert.Event = map[string]interface{}{"event": map[string]interface{}{"type": "other"}}

	c.processAlert(context.Background(), []compiledRule{cr}, alert)
	assert.Empty(t, persistence.incidents)
}

func TestCorrelator_DifferentGroupingValuesMakeSeparateIncidents(t *testing.T) {
	persistence := newFakePersistence()
	c := newTestCorrelator(t, persistence)
	cr := compiledRule{rule: loginRule(1, models.CreateOnAny, models.ResolveOnAll)}
	node, err := cel.Parse(cr.rule.DefinitionCEL)
	require.NoError(t, err)
	cr.node = node

	now := time.Now()
	c.processAlert(context.Background(), []compiledRule{cr}, firingAlert("a1", "alice", now))
	c.processAlert(context.Background(), []compiledRule{cr}, firingAlert("a2", "bob", now))

	assert.Len(t, persistence.incidents, 2)
}

func TestCorrelator_ResolveOnAllRequiresEveryMemberResolved(t *testing.T) {
	persistence := newFakePersistence()
	c := newTestCorrelator(t, persistence)
	cr := compiledRule{rule: loginRule(2, models.CreateOnAny, models.ResolveOnAll)}
	node, err := cel.Parse(cr.rule.DefinitionCEL)
	require.NoError(t, err)
	cr.node = node

	now := time.Now()
	ctx := context.Background()
	c.processAlert(ctx, []compiledRule{cr}, firingAlert("a1", "alice", now))
	c.processAlert(ctx, []compiledRule{cr}, firingAlert("a2", "alice", now.Add(time.Second)))

	var incidentID string
	for id := range persistence.incidents {
		incidentID = id
	}
	require.True(t, persistence.incidents[incidentID].IsVisible)

	resolved1 := firingAlert("a1", "alice", now.Add(2*time.Second))
	resolved1.Status = models.AlertStatusResolved
	c.processAlert(ctx, []compiledRule{cr}, resolved1)
	assert.Equal(t, models.IncidentStatusFiring, persistence.incidents[incidentID].Status)

	resolved2 := firingAlert("a2", "alice", now.Add(3*time.Second))
	resolved2.Status = models.AlertStatusResolved
	c.processAlert(ctx, []compiledRule{cr}, resolved2)
	assert.Equal(t, models.IncidentStatusResolved, persistence.incidents[incidentID].Status)
}

func TestCorrelator_ResolveOnNeverKeepsIncidentFiring(t *testing.T) {
	persistence := newFakePersistence()
	c := newTestCorrelator(t, persistence)
	cr := compiledRule{rule: loginRule(1, models.CreateOnAny, models.ResolveOnNever)}
	node, err := cel.Parse(cr.rule.DefinitionCEL)
	require.NoError(t, err)
	cr.node = node

	now := time.Now()
	ctx := context.Background()
	c.processAlert(ctx, []compiledRule{cr}, firingAlert("a1", "alice", now))

	var incidentID string
	for id := range persistence.incidents {
		incidentID = id
	}

	resolved := firingAlert("a1", "alice", now.Add(time.Second))
	resolved.Status = models.AlertStatusResolved
	c.processAlert(ctx, []compiledRule{cr}, resolved)
	assert.Equal(t, models.IncidentStatusFiring, persistence.incidents[incidentID].Status)
}

func TestResolutionSatisfied_First(t *testing.T) {
	states := []FingerprintState{
		{Fingerprint: "a", Status: models.AlertStatusResolved, JoinedAt: time.Unix(1, 0)},
		{Fingerprint: "b", Status: models.AlertStatusFiring, JoinedAt: time.Unix(2, 0)},
	}
	assert.True(t, resolutionSatisfied(models.ResolveOnFirst, states))
	assert.False(t, resolutionSatisfied(models.ResolveOnLast, states))
}

func TestResolutionSatisfied_Last(t *testing.T) {
	states := []FingerprintState{
		{Fingerprint: "a", Status: models.AlertStatusFiring, JoinedAt: time.Unix(1, 0)},
		{Fingerprint: "b", Status: models.AlertStatusResolved, JoinedAt: time.Unix(2, 0)},
	}
	assert.False(t, resolutionSatisfied(models.ResolveOnFirst, states))
	assert.True(t, resolutionSatisfied(models.ResolveOnLast, states))
}

func TestResolutionSatisfied_EmptyIsUnsatisfied(t *testing.T) {
	assert.False(t, resolutionSatisfied(models.ResolveOnAll, nil))
}
