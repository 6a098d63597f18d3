// Package evaluator implements the in-memory CEL evaluator (spec
// §4.2): it tests a single alert record against a parsed CEL
// predicate without touching a database.
package evaluator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
)

// EvaluationError signals an internal evaluator bug (an AST shape the
// evaluator doesn't know how to handle). It is distinct from a false
// result: per spec §4.2 the evaluator must never fail on missing
// fields, only on unknown node/operator shapes.
type EvaluationError struct {
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation error: %s", e.Reason)
}

// RegexTimeoutError is returned when a `matches` call's regex exceeds
// its wall-clock budget; the caller treats this as predicate-false for
// that one alert (spec §5, §7), not as a fatal error.
type RegexTimeoutError struct {
	Pattern string
}

func (e *RegexTimeoutError) Error() string {
	return fmt.Sprintf("regex evaluation timed out: %s", e.Pattern)
}

// MatchTimeout bounds how long a single `matches(regex)` call may
// run, per the concurrency model's requirement that regex evaluation
// carry a wall-clock timeout (spec §5). Overridable at startup from
// Config.Correlation.RegexTimeout; left at its default in tests.
var MatchTimeout = 50 * time.Millisecond

// Context is the alert record the AST is evaluated against: a nested
// map mirroring the AlertDto shape (labels, tags, source, ...).
type Context map[string]interface{}

// Eval evaluates an AST against ctx and returns a Go scalar
// (string/int64/float64/bool/time.Time/nil/[]interface{}, the last
// also for a property projected across a list) or an error.
// Property resolution never fails on a missing field (it yields nil);
// only unsupported node shapes raise EvaluationError.
func Eval(node cel.Node, ctx Context) (interface{}, error) {
	switch n := node.(type) {
	case *cel.Constant:
		return n.Value, nil

	case *cel.PropertyAccess:
		return resolvePath(ctx, n.Path), nil

	case *cel.ParenGroup:
		return Eval(n.Inner, ctx)

	case *cel.Unary:
		return evalUnary(n, ctx)

	case *cel.Logical:
		return evalLogical(n, ctx)

	case *cel.Comparison:
		return evalComparison(n, ctx)

	case *cel.MethodCall:
		return evalMethodCall(n, ctx)

	case *cel.ListLiteral:
		vals := make([]interface{}, 0, len(n.Elements))
		for _, el := range n.Elements {
			v, err := Eval(el, ctx)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil

	default:
		return nil, &EvaluationError{Reason: fmt.Sprintf("unsupported node type %T", node)}
	}
}

// Matches is a convenience wrapper returning whether the AST evaluates
// truthy against ctx; NULL and any non-bool result are falsy except a
// literal `true`.
func Matches(node cel.Node, ctx Context) (bool, error) {
	v, err := Eval(node, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

// ResolveDottedPath resolves a "a.b.c"-style dotted path against ctx,
// the same way a PropertyAccess node resolves (missing segments yield
// nil, never an error). Used by the correlator to read
// grouping_criteria values without parsing a full CEL expression for
// a single path.
func ResolveDottedPath(ctx Context, dotted string) (interface{}, error) {
	return resolvePath(ctx, strings.Split(dotted, ".")), nil
}

// resolvePath descends a dotted path through nested maps. A missing
// intermediate key yields nil rather than an error. When a list is
// encountered — whether as an intermediate container (the remainder of
// the path is resolved per-element) or as the terminal value itself
// (e.g. `source` resolving to `["grafana"]`) — the result is a
// listProjection so evalComparison/evalMethodCall apply the "property
// on list" convention of spec §4.2: the outer predicate is satisfied
// if any element satisfies it. This is spec §8 scenario 1's literal
// worked example: `source == "grafana"` against `{source: ["grafana"]}`.
func resolvePath(ctx Context, path []string) interface{} {
	var cur interface{} = map[string]interface{}(ctx)
	for i, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		v, ok := m[seg]
		if !ok {
			return nil
		}
		if list, ok := v.([]interface{}); ok {
			if i < len(path)-1 {
				return resolvePathOverList(list, path[i+1:])
			}
			return listProjection(list)
		}
		cur = v
	}
	return cur
}

// resolvePathOverList resolves the remaining path against every
// element of list and returns the slice of per-element results; the
// comparison/method layer then treats this as "true if any element
// matches" per spec §4.2.
func resolvePathOverList(list []interface{}, rest []string) interface{} {
	results := make([]interface{}, 0, len(list))
	for _, el := range list {
		m, ok := el.(map[string]interface{})
		if !ok {
			results = append(results, nil)
			continue
		}
		results = append(results, resolvePath(Context(m), rest))
	}
	return listProjection(results)
}

// listProjection marks a slice of per-element property values so
// evalComparison/evalMethodCall know to apply "true if any" semantics
// instead of treating it as a plain ARRAY constant.
type listProjection []interface{}

func evalUnary(n *cel.Unary, ctx Context) (interface{}, error) {
	v, err := Eval(n.Operand, ctx)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case cel.OpNOT:
		return !truthy(v), nil
	case cel.OpNEG:
		switch num := v.(type) {
		case int64:
			return -num, nil
		case float64:
			return -num, nil
		default:
			return nil, &EvaluationError{Reason: "cannot negate non-numeric value"}
		}
	default:
		return nil, &EvaluationError{Reason: fmt.Sprintf("unsupported unary operator %s", n.Op)}
	}
}

func evalLogical(n *cel.Logical, ctx Context) (interface{}, error) {
	left, err := Eval(n.LHS, ctx)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case cel.OpAND:
		if !truthy(left) {
			return false, nil
		}
		right, err := Eval(n.RHS, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	case cel.OpOR:
		if truthy(left) {
			return true, nil
		}
		right, err := Eval(n.RHS, ctx)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	default:
		return nil, &EvaluationError{Reason: fmt.Sprintf("unsupported logical operator %s", n.Op)}
	}
}

func evalComparison(n *cel.Comparison, ctx Context) (interface{}, error) {
	left, err := Eval(n.LHS, ctx)
	if err != nil {
		return nil, err
	}
	right, err := Eval(n.RHS, ctx)
	if err != nil {
		return nil, err
	}

	if proj, ok := left.(listProjection); ok {
		for _, elem := range proj {
			if compareOne(elem, n.Op, right) {
				return true, nil
			}
		}
		return false, nil
	}

	return compareOne(left, n.Op, right), nil
}

func compareOne(left interface{}, op cel.ComparisonOp, right interface{}) bool {
	if op == cel.OpIN {
		list, ok := right.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if valuesEqual(left, item) {
				return true
			}
		}
		return false
	}

	leftNull := left == nil
	rightNull := right == nil
	if leftNull || rightNull {
		switch op {
		case cel.OpEQ:
			return leftNull && rightNull
		case cel.OpNE:
			return !(leftNull && rightNull)
		default:
			// relational ops against NULL yield false (spec §4.2)
			return false
		}
	}

	switch op {
	case cel.OpEQ:
		return valuesEqual(left, right)
	case cel.OpNE:
		return !valuesEqual(left, right)
	case cel.OpLT, cel.OpLE, cel.OpGT, cel.OpGE:
		return compareOrdered(left, op, right)
	default:
		return false
	}
}

// valuesEqual compares two scalars after numeric/datetime coercion.
func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	if at, aok := asTime(a); aok {
		if bt, bok := asTime(b); bok {
			return at.Equal(bt)
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareOrdered handles <, <=, >, >= with numeric/datetime coercion,
// falling back to lexicographic string comparison only when both
// sides parse as datetimes or are plain strings (spec §4.2).
func compareOrdered(left interface{}, op cel.ComparisonOp, right interface{}) bool {
	if lf, lok := asFloat(left); lok {
		if rf, rok := asFloat(right); rok {
			return applyOrdering(op, cmpFloat(lf, rf))
		}
	}
	if lt, lok := asTime(left); lok {
		if rt, rok := asTime(right); rok {
			return applyOrdering(op, cmpTime(lt, rt))
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return applyOrdering(op, strings.Compare(ls, rs))
	}
	return false
}

func applyOrdering(op cel.ComparisonOp, cmp int) bool {
	switch op {
	case cel.OpLT:
		return cmp < 0
	case cel.OpLE:
		return cmp <= 0
	case cel.OpGT:
		return cmp > 0
	case cel.OpGE:
		return cmp >= 0
	default:
		return false
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

func evalMethodCall(n *cel.MethodCall, ctx Context) (interface{}, error) {
	recv, err := Eval(n.Receiver, ctx)
	if err != nil {
		return nil, err
	}

	if proj, ok := recv.(listProjection); ok {
		// "contains" on a list receiver is membership by equality
		// (spec §4.1: "List contains: membership by equality"), not
		// the any-element convention the other string methods get:
		// route it through callMethod's own list branch instead of
		// treating each element as its own string receiver.
		if n.Name == "contains" {
			return callMethod(n.Name, []interface{}(proj), n.Args)
		}
		for _, elem := range proj {
			ok, err := callMethod(n.Name, elem, n.Args)
			if err != nil {
				return nil, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	return callMethod(n.Name, recv, n.Args)
}

func callMethod(name string, recv interface{}, args []*cel.Constant) (bool, error) {
	switch name {
	case "contains":
		if list, ok := recv.([]interface{}); ok {
			if len(args) != 1 {
				return false, &EvaluationError{Reason: "contains expects 1 argument"}
			}
			for _, item := range list {
				if valuesEqual(item, args[0].Value) {
					return true, nil
				}
			}
			return false, nil
		}
		s, ok := recv.(string)
		if !ok || len(args) != 1 {
			return false, nil
		}
		arg, _ := args[0].Value.(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(arg)), nil

	case "startsWith":
		s, ok := recv.(string)
		if !ok || len(args) != 1 {
			return false, nil
		}
		arg, _ := args[0].Value.(string)
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(arg)), nil

	case "endsWith":
		s, ok := recv.(string)
		if !ok || len(args) != 1 {
			return false, nil
		}
		arg, _ := args[0].Value.(string)
		return strings.HasSuffix(strings.ToLower(s), strings.ToLower(arg)), nil

	case "matches":
		s, ok := recv.(string)
		if !ok || len(args) != 1 {
			return false, nil
		}
		pattern, _ := args[0].Value.(string)
		return matchesRegex(s, pattern)

	case "in":
		list, ok := recv.([]interface{})
		if ok {
			if len(args) != 1 {
				return false, &EvaluationError{Reason: "in expects 1 argument"}
			}
			for _, item := range list {
				if valuesEqual(item, args[0].Value) {
					return true, nil
				}
			}
			return false, nil
		}
		return false, nil

	default:
		return false, &cel.UnsupportedOperatorError{Name: name}
	}
}

// matchesRegex runs the regex with a wall-clock timeout (spec §5); on
// timeout it returns (false, RegexTimeoutError) rather than hanging,
// and the caller treats the alert as non-matching (spec §7).
func matchesRegex(s, pattern string) (bool, error) {
	type result struct {
		matched bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		re, err := regexp.Compile(pattern)
		if err != nil {
			done <- result{false, &EvaluationError{Reason: "invalid regex: " + err.Error()}}
			return
		}
		done <- result{re.MatchString(s), nil}
	}()

	select {
	case r := <-done:
		return r.matched, r.err
	case <-time.After(MatchTimeout):
		return false, &RegexTimeoutError{Pattern: pattern}
	}
}
