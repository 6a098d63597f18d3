package correlation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

// Namer renders an incident's user-facing name and allocates the
// rule's incident_prefix monotonic counter (spec §4.5).
type Namer struct {
	redis *redis.Client
}

// NewNamer builds a Namer. A nil redis client disables prefix
// counters; NextPrefixNumber then always returns 0.
func NewNamer(client *redis.Client) *Namer {
	return &Namer{redis: client}
}

// NextPrefixNumber returns the number in rule's incident_prefix
// sequence assigned to fingerprint, e.g. the 7 in "PROD-7". The
// sequence is scoped per rule so two rules sharing a prefix string
// don't collide. A fingerprint that has already been assigned a number
// gets that same number back (spec §4.5: reusing the same
// (rule_id, rule_fingerprint) reuses the prior N); a fingerprint seen
// for the first time allocates the next one.
func (nm *Namer) NextPrefixNumber(ctx context.Context, rule *models.Rule, fingerprint string) (int64, error) {
	if nm.redis == nil || rule.IncidentPrefix == "" {
		return 0, nil
	}

	mapKey := fmt.Sprintf("incident_prefix_map:%s", rule.ID)
	if existing, err := nm.redis.HGet(ctx, mapKey, fingerprint).Result(); err == nil {
		if n, convErr := strconv.ParseInt(existing, 10, 64); convErr == nil {
			return n, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to look up incident prefix counter: %w", err)
	}

	seqKey := fmt.Sprintf("incident_prefix_seq:%s", rule.ID)
	n, err := nm.redis.Incr(ctx, seqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate incident prefix counter: %w", err)
	}
	if err := nm.redis.HSet(ctx, mapKey, fingerprint, n).Err(); err != nil {
		return 0, fmt.Errorf("failed to persist incident prefix counter: %w", err)
	}
	return n, nil
}

// templateData is the `{alert, alerts}` context passed to the
// incident name template (spec §4.5): alert is the first member
// alert's event document, alerts the full member list in join order.
type templateData struct {
	Alert map[string]interface{}
	Alerts []map[string]interface{}
}

// RenderName produces the incident's UserGeneratedName. members is the
// full set of member alert events ordered by join time; fields listed
// in aggFields (normally the rule's grouping_criteria) have their
// distinct string values pre-joined with "," in first-seen order
// before the template sees them, per spec §4.5. Missing fields render
// as "N/A". If the rule has no template, rendering fails, or the
// result is blank, the incident falls back to the plain rule name. A
// non-empty incident_prefix is then prepended as "{prefix}-{n} - ".
func RenderName(rule *models.Rule, prefixNumber int64, members []map[string]interface{}, aggFields []string) string {
	name := rule.Name
	if rule.IncidentNameTemplate != "" {
		if rendered, err := renderTemplate(rule, members, aggFields); err == nil && strings.TrimSpace(rendered) != "" {
			name = rendered
		}
	}
	if rule.IncidentPrefix != "" && prefixNumber > 0 {
		name = fmt.Sprintf("%s-%d - %s", rule.IncidentPrefix, prefixNumber, name)
	}
	return name
}

func renderTemplate(rule *models.Rule, members []map[string]interface{}, aggFields []string) (string, error) {
	var first map[string]interface{}
	if len(members) > 0 {
		first = deepCopyAggregated(members[0], aggFields, members)
	} else {
		first = map[string]interface{}{}
	}

	t, err := template.New("incident_name").Funcs(template.FuncMap{
		"na": func(v interface{}) interface{} {
			if v == nil {
				return "N/A"
			}
			return v
		},
	}).Parse(rule.IncidentNameTemplate)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := t.Execute(&sb, templateData{Alert: first, Alerts: members}); err != nil {
		return "", err
	}
	return strings.ReplaceAll(sb.String(), "<no value>", "N/A"), nil
}

// deepCopyAggregated returns a copy of base with every field in
// aggFields replaced by its comma-joined distinct values across
// members, preserving first-seen order (spec §4.5). The maps along each
// aggregated path are copied too, so base itself is never modified.
func deepCopyAggregated(base map[string]interface{}, aggFields []string, members []map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, field := range aggFields {
		setDotted(out, field, aggregateField(members, field))
	}
	return out
}

func aggregateField(members []map[string]interface{}, dotted string) string {
	seen := make(map[string]struct{})
	var ordered []string
	for _, m := range members {
		v, _ := evaluator.ResolveDottedPath(evaluator.Context(m), dotted)
		if v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		ordered = append(ordered, s)
	}
	return strings.Join(ordered, ",")
}

// setDotted writes value at a dotted path inside m, replacing each
// intermediate map with a copy (or a new map where none exists), so
// aggregated grouping fields like "labels.host" land exactly where the
// template expects to find them without writing into maps m shares.
func setDotted(m map[string]interface{}, dotted string, value string) {
	parts := strings.Split(dotted, ".")
	cur := m
	for _, p := range parts[:len(parts)-1] {
		next := make(map[string]interface{})
		if old, ok := cur[p].(map[string]interface{}); ok {
			for k, v := range old {
				next[k] = v
			}
		}
		cur[p] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}
