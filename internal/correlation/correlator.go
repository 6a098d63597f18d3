// Package correlation implements the Rules Engine Correlator (spec
// §4.5): it matches incoming alerts against CEL rule definitions and
// groups matches into Incidents under per-fingerprint critical
// sections, applying each rule's threshold/grouping/promotion/
// resolution policy.
package correlation

import (
	"context"
	"log"
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

// Correlator wires the rules/alerts external collaborators, the
// per-fingerprint Locker, and Persistence into the matching loop.
type Correlator struct {
	Rules       evaluator.RulesClient
	Alerts      evaluator.AlertsClient
	Persistence Persistence
	Locker      *Locker
	Namer       *Namer

	lockTimeout time.Duration
}

// New builds a Correlator. lockTimeout bounds how long ProcessAlert
// waits to acquire a contended per-fingerprint lock before giving up.
func New(rules evaluator.RulesClient, alerts evaluator.AlertsClient, persistence Persistence, locker *Locker, namer *Namer, lockTimeout time.Duration) *Correlator {
	return &Correlator{
		Rules:       rules,
		Alerts:      alerts,
		Persistence: persistence,
		Locker:      locker,
		Namer:       namer,
		lockTimeout: lockTimeout,
	}
}

// Run polls for rules and new alerts at pollInterval until ctx is
// done. Each returned alert is matched against every active rule; a
// storage error from fetching rules/alerts is returned, but a
// per-alert or per-rule failure is logged and skipped (spec §4.6).
func (c *Correlator) Run(ctx context.Context, pollInterval time.Duration) error {
	since := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		rules, err := c.Rules.ListRules(ctx)
		if err != nil {
			return err
		}
		alerts, err := c.Alerts.FetchAlerts(ctx, since)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			continue
		}

		compiled := compileRules(rules)
		for _, alert := range alerts {
			c.processAlert(ctx, compiled, alert)
			if alert.Timestamp.After(since) {
				since = alert.Timestamp
			}
		}
	}
}

type compiledRule struct {
	rule      *models.Rule
	node      cel.Node
	disjuncts []cel.Node
}

func compileRules(rules []*models.Rule) []compiledRule {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		node, err := cel.Parse(r.DefinitionCEL)
		if err != nil {
			log.Printf("correlation: rule %s skipped: parse error: %v", r.ID, err)
			continue
		}
		compiled = append(compiled, compiledRule{rule: r, node: node, disjuncts: cel.TopLevelDisjuncts(node)})
	}
	return compiled
}

// processAlert evaluates alert against every compiled rule, logging
// and continuing past any rule-level failure (spec §4.6: rule-level
// errors are never fatal to the engine).
func (c *Correlator) processAlert(ctx context.Context, rules []compiledRule, alert *models.Alert) {
	evalCtx := evaluator.Context(alert.Event)
	for _, cr := range rules {
		matched, err := evaluator.Matches(cr.node, evalCtx)
		if err != nil {
			log.Printf("correlation: rule %s skipped for alert %s: %v", cr.rule.ID, alert.ID, err)
			continue
		}
		if !matched {
			continue
		}
		if err := c.handleMatch(ctx, cr, alert, evalCtx); err != nil {
			log.Printf("correlation: rule %s failed for alert %s: %v", cr.rule.ID, alert.ID, err)
		}
	}
}

func (c *Correlator) handleMatch(ctx context.Context, cr compiledRule, alert *models.Alert, evalCtx evaluator.Context) error {
	fingerprint := RuleFingerprint(cr.rule, evalCtx)

	lockCtx, cancel := context.WithTimeout(ctx, c.lockTimeout)
	defer cancel()
	lease, err := c.Locker.Acquire(lockCtx, cr.rule.ID, fingerprint)
	if err != nil {
		return err
	}
	defer c.Locker.Release(ctx, lease)

	if !models.IsFiringLike(alert.Status) {
		return c.handleResolution(ctx, cr, alert, fingerprint)
	}
	return c.handleFiring(ctx, cr, alert, fingerprint)
}

func (c *Correlator) handleFiring(ctx context.Context, cr compiledRule, alert *models.Alert, fingerprint string) error {
	incident, _, err := c.Persistence.GetOrCreateCandidate(ctx, cr.rule, fingerprint, alert.Timestamp)
	if err != nil {
		return err
	}

	incident, err = c.Persistence.AppendAlert(ctx, incident.ID, alert)
	if err != nil {
		return err
	}

	if incident.IsVisible {
		return nil
	}

	promote, err := c.shouldPromote(ctx, cr, incident)
	if err != nil {
		return err
	}
	if !promote {
		return nil
	}

	return c.promote(ctx, cr, incident)
}

func (c *Correlator) shouldPromote(ctx context.Context, cr compiledRule, incident *models.Incident) (bool, error) {
	if incident.AlertsCount < cr.rule.Threshold {
		return false, nil
	}
	if cr.rule.CreateOn != models.CreateOnAll || len(cr.disjuncts) <= 1 {
		return true, nil
	}

	events, err := c.Persistence.MemberEvents(ctx, incident.ID)
	if err != nil {
		return false, err
	}
	satisfied := make([]bool, len(cr.disjuncts))
	for _, ev := range events {
		for i, d := range cr.disjuncts {
			if satisfied[i] {
				continue
			}
			ok, err := evaluator.Matches(d, ev)
			if err != nil {
				continue
			}
			if ok {
				satisfied[i] = true
			}
		}
	}
	for _, s := range satisfied {
		if !s {
			return false, nil
		}
	}
	return true, nil
}

func (c *Correlator) promote(ctx context.Context, cr compiledRule, incident *models.Incident) error {
	events, err := c.Persistence.MemberEvents(ctx, incident.ID)
	if err != nil {
		return err
	}
	members := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		members = append(members, map[string]interface{}(e))
	}

	prefixNumber, err := c.Namer.NextPrefixNumber(ctx, cr.rule, incident.RuleFingerprint)
	if err != nil {
		return err
	}
	name := RenderName(cr.rule, prefixNumber, members, cr.rule.GroupingCriteria)
	return c.Persistence.Promote(ctx, incident.ID, name)
}

func (c *Correlator) handleResolution(ctx context.Context, cr compiledRule, alert *models.Alert, fingerprint string) error {
	if cr.rule.ResolveOn == models.ResolveOnNever {
		return nil
	}

	incident, err := c.Persistence.FindActiveIncident(ctx, cr.rule.ID, fingerprint, cr.rule.TimeframeSeconds())
	if err != nil {
		return err
	}
	if incident == nil {
		return nil
	}

	incident, err = c.Persistence.AppendAlert(ctx, incident.ID, alert)
	if err != nil {
		return err
	}
	if !incident.IsVisible {
		return nil
	}

	states, err := c.Persistence.MemberFingerprintStates(ctx, incident.ID)
	if err != nil {
		return err
	}
	if !resolutionSatisfied(cr.rule.ResolveOn, states) {
		return nil
	}
	return c.Persistence.Resolve(ctx, incident.ID)
}

// resolutionSatisfied implements the resolve_on policy (spec §4.5):
// ALL requires every member fingerprint's latest status to be
// resolved; FIRST/LAST key on the earliest/latest-joined fingerprint.
// With a single fingerprint the three policies coincide (spec §8).
func resolutionSatisfied(policy models.ResolveOn, states []FingerprintState) bool {
	if len(states) == 0 {
		return false
	}
	switch policy {
	case models.ResolveOnAll:
		for _, s := range states {
			if s.Status != models.AlertStatusResolved {
				return false
			}
		}
		return true
	case models.ResolveOnFirst:
		return states[0].Status == models.AlertStatusResolved
	case models.ResolveOnLast:
		return states[len(states)-1].Status == models.AlertStatusResolved
	default:
		return false
	}
}
