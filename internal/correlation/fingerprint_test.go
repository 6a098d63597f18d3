package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

func TestRuleFingerprint_DeterministicForSameInputs(t *testing.T) {
	rule := &models.Rule{ID: "rule-1", GroupingCriteria: []string{"event.user", "event.host"}}
	ctx := evaluator.Context{"event": map[string]interface{}{"user": "alice", "host": "web-1"}}

	a := RuleFingerprint(rule, ctx)
	b := RuleFingerprint(rule, ctx)
	assert.Equal(t, a, b)
}

func TestRuleFingerprint_DiffersByGroupingValue(t *testing.T) {
	rule := &models.Rule{ID: "rule-1", GroupingCriteria: []string{"event.user"}}
	fpAlice := RuleFingerprint(rule, evaluator.Context{"event": map[string]interface{}{"user": "alice"}})
	fpBob := RuleFingerprint(rule, evaluator.Context{"event": map[string]interface{}{"user": "bob"}})
	assert.NotEqual(t, fpAlice, fpBob)
}

func TestRuleFingerprint_DiffersByRuleID(t *testing.T) {
	ctx := evaluator.Context{"event": map[string]interface{}{"user": "alice"}}
	rule1 := &models.Rule{ID: "rule-1", GroupingCriteria: []string{"event.user"}}
	rule2 := &models.Rule{ID: "rule-2", GroupingCriteria: []string{"event.user"}}

	assert.NotEqual(t, RuleFingerprint(rule1, ctx), RuleFingerprint(rule2, ctx))
}

func TestRuleFingerprint_EmptyGroupingCriteriaCollapsesToOnePerRule(t *testing.T) {
	rule := &models.Rule{ID: "rule-1"}
	fp1 := RuleFingerprint(rule, evaluator.Context{"event": map[string]interface{}{"user": "alice"}})
	fp2 := RuleFingerprint(rule, evaluator.Context{"event": map[string]interface{}{"user": "bob"}})
	assert.Equal(t, fp1, fp2)
}

func TestRuleFingerprint_MissingPathResolvesToNil(t *testing.T) {
	rule := &models.Rule{ID: "rule-1", GroupingCriteria: []string{"event.missing"}}
	fp1 := RuleFingerprint(rule, evaluator.Context{"event": map[string]interface{}{}})
	fp2 := RuleFingerprint(rule, evaluator.Context{})
	assert.Equal(t, fp1, fp2)
}
