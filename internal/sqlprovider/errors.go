package sqlprovider

import "fmt"

// TypeMismatchError is returned when a comparison's operand types
// cannot be reconciled under the DataType lattice (spec §4.1/§4.3),
// e.g. comparing a declared INTEGER column against a string literal
// with a relational operator.
type TypeMismatchError struct {
	Field    string
	Declared string
	Literal  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("sqlprovider: type mismatch on %q: declared %s, literal %s", e.Field, e.Declared, e.Literal)
}

// UnsupportedExpressionError is returned for AST shapes the
// translator has no SQL rendering for (spec §4.3 Non-goals: no
// cross-row aggregation, no subqueries).
type UnsupportedExpressionError struct {
	Reason string
}

func (e *UnsupportedExpressionError) Error() string {
	return fmt.Sprintf("sqlprovider: unsupported expression: %s", e.Reason)
}
