package cel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_SimpleComparison(t *testing.T) {
	node, err := Parse(`source == "grafana"`)
	require.NoError(t, err)

	cmp, ok := node.(*Comparison)
	require.True(t, ok)
	assert.Equal(t, OpEQ, cmp.Op)

	prop, ok := cmp.LHS.(*PropertyAccess)
	require.True(t, ok)
	assert.Equal(t, []string{"source"}, prop.Path)

	lit, ok := cmp.RHS.(*Constant)
	require.True(t, ok)
	assert.Equal(t, "grafana", lit.Value)
}

func TestParse_LogicalAnd(t *testing.T) {
	node, err := Parse(`source == "grafana" && severity == "critical"`)
	require.NoError(t, err)

	logical, ok := node.(*Logical)
	require.True(t, ok)
	assert.Equal(t, OpAND, logical.Op)
}

func TestParse_TopLevelDisjuncts(t *testing.T) {
	node, err := Parse(`severity == "critical" || severity == "high"`)
	require.NoError(t, err)

	disjuncts := TopLevelDisjuncts(node)
	assert.Len(t, disjuncts, 2)
}

func TestParse_NestedPropertyAccess(t *testing.T) {
	node, err := Parse(`labels.host == "web-1"`)
	require.NoError(t, err)

	cmp := node.(*Comparison)
	prop := cmp.LHS.(*PropertyAccess)
	assert.Equal(t, []string{"labels", "host"}, prop.Path)
}

func TestParse_BracketPropertyAccess(t *testing.T) {
	node, err := Parse(`source["env"] == "prod"`)
	require.NoError(t, err)

	cmp := node.(*Comparison)
	prop := cmp.LHS.(*PropertyAccess)
	assert.Equal(t, []string{"source", "env"}, prop.Path)
}

func TestParse_MethodCallContains(t *testing.T) {
	node, err := Parse(`labels.host.contains("web")`)
	require.NoError(t, err)

	call, ok := node.(*MethodCall)
	require.True(t, ok)
	assert.Equal(t, "contains", call.Name)
	require.Len(t, call.Args, 1)
	assert.Equal(t, "web", call.Args[0].Value)

	receiver := call.Receiver.(*PropertyAccess)
	assert.Equal(t, []string{"labels", "host"}, receiver.Path)
}

func TestParse_InWithList(t *testing.T) {
	node, err := Parse(`severity in ["critical", "high"]`)
	require.NoError(t, err)

	cmp := node.(*Comparison)
	assert.Equal(t, OpIN, cmp.Op)
	lit := cmp.RHS.(*ListLiteral)
	assert.Len(t, lit.Elements, 2)
}

func TestParse_UnaryNotAndNegation(t *testing.T) {
	node, err := Parse(`!(severity == "low")`)
	require.NoError(t, err)
	unary := node.(*Unary)
	assert.Equal(t, OpNOT, unary.Op)

	node2, err := Parse(`count == -1`)
	require.NoError(t, err)
	cmp := node2.(*Comparison)
	neg := cmp.RHS.(*Unary)
	assert.Equal(t, OpNEG, neg.Op)
}

func TestParse_AtSignIdentifier(t *testing.T) {
	node2, perr := Parse(`event["@timestamp"] == "x"`)
	require.NoError(t, perr)
	cmp := node2.(*Comparison)
	prop := cmp.LHS.(*PropertyAccess)
	assert.Equal(t, []string{"event", "@timestamp"}, prop.Path)
}

func TestParse_DatetimeLiteral(t *testing.T) {
	node, err := Parse(`timestamp >= 2024-01-01T00:00:00Z`)
	require.NoError(t, err)
	cmp := node.(*Comparison)
	lit := cmp.RHS.(*Constant)
	assert.Equal(t, TypeDatetime, lit.DeclaredType)
}

func TestParse_UnsupportedMethod(t *testing.T) {
	_, err := Parse(`labels.host.toUpperCase()`)
	require.Error(t, err)
	_, ok := err.(*UnsupportedOperatorError)
	assert.True(t, ok)
}

func TestParse_ParseErrorNeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"(((",
		"a ==",
		"a && && b",
		`"unterminated`,
		"a in",
		"1 +",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, _ = Parse(in)
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	exprs := []string{
		`source == "grafana"`,
		`severity == "critical" || severity == "high"`,
		`labels.host.contains("web")`,
		`severity in ["critical", "high"]`,
		`!(severity == "low")`,
	}
	for _, expr := range exprs {
		node, err := Parse(expr)
		require.NoError(t, err)
		printed := Print(node)
		node2, err := Parse(printed)
		require.NoError(t, err, "reparsing printed form of %q -> %q", expr, printed)
		assert.Equal(t, node, node2, "round trip mismatch for %q", expr)
	}
}
