package correlation

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/evaluator"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

// RuleFingerprint computes the rule_fingerprint for an alert matched
// against rule: a deterministic hash of the rule's ID and the values
// of its grouping_criteria properties, resolved in the rule's declared
// order (spec §4.5: "hash(rule_id, [resolve(path, alert) for path in
// grouping_criteria])"). An empty GroupingCriteria collapses every
// match onto a single fingerprint per rule.
func RuleFingerprint(rule *models.Rule, ctx evaluator.Context) string {
	ordered := make([]interface{}, 0, len(rule.GroupingCriteria))
	for _, field := range rule.GroupingCriteria {
		ordered = append(ordered, groupValue(ctx, field))
	}

	data, err := json.Marshal(ordered)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", ordered))
	}

	hash := sha256.Sum256(append([]byte(rule.ID+"|"), data...))
	return fmt.Sprintf("%x", hash[:])
}

// groupValue resolves a dotted grouping-criteria path against the
// alert context the same way the evaluator resolves a PropertyAccess,
// without needing a parsed CEL node for a single dotted path.
func groupValue(ctx evaluator.Context, path string) interface{} {
	v, _ := evaluator.ResolveDottedPath(ctx, path)
	return v
}
