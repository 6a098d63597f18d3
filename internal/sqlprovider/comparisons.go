package sqlprovider

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
)

// translateComparison renders a Comparison node. The LHS is always a
// property access in the supported grammar (spec §4.1); the RHS is a
// Constant, or a ListLiteral of constants when Op is `in`.
func (p *Provider) translateComparison(b *builder, n *cel.Comparison) (string, error) {
	lhsPath, ok := n.LHS.(*cel.PropertyAccess)
	if !ok {
		return "", &UnsupportedExpressionError{Reason: "comparison LHS must be a property access"}
	}
	expr, dt, err := p.propertyExpr(strings.Join(lhsPath.Path, "."))
	if err != nil {
		return "", err
	}

	if n.Op == cel.OpIN {
		list, ok := n.RHS.(*cel.ListLiteral)
		if !ok {
			return "", &UnsupportedExpressionError{Reason: "`in` RHS must be a list literal"}
		}
		return p.translateIn(b, expr, dt, list)
	}

	rhs, ok := n.RHS.(*cel.Constant)
	if !ok {
		return "", &UnsupportedExpressionError{Reason: "comparison RHS must be a constant"}
	}

	if rhs.Value == nil {
		return p.translateNullComparison(expr, dt, n.Op)
	}

	if dt == cel.TypeArray && (n.Op == cel.OpEQ || n.Op == cel.OpNE) {
		// An ARRAY-typed property compared to a non-null scalar via
		// `==`/`!=` is JSON-array containment, not column equality
		// (spec §4.3; mirrors the original provider's
		// _visit_equal_for_array_datatype, which applies this
		// unconditionally for every `==`/`!=` against an array-typed
		// operand, not just the `in`/`contains` paths).
		param := b.bind(rhs.Value)
		pred := p.dialect.ArrayContains(expr, param)
		if n.Op == cel.OpNE {
			return "NOT " + pred, nil
		}
		return pred, nil
	}

	literal, err := p.literalSQL(dt, rhs)
	if err != nil {
		return "", err
	}
	param := b.bind(literal)

	op, err := sqlOperator(n.Op)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", expr, op, param), nil
}

// translateNullComparison handles `prop == null` / `prop != null`
// (spec §9): for ARRAY-typed columns this is null-or-empty-or-
// contains-null rather than a plain SQL IS NULL, per the original
// cel_to_sql PostgreSQL provider.
func (p *Provider) translateNullComparison(expr string, dt cel.DataType, op cel.ComparisonOp) (string, error) {
	if dt == cel.TypeArray {
		pred := p.dialect.ArrayContainsNull(expr)
		if op == cel.OpNE {
			return "NOT (" + pred + ")", nil
		}
		return pred, nil
	}
	switch op {
	case cel.OpEQ:
		return expr + " IS NULL", nil
	case cel.OpNE:
		return expr + " IS NOT NULL", nil
	default:
		return "", &UnsupportedExpressionError{Reason: "relational comparison against null"}
	}
}

func (p *Provider) translateIn(b *builder, expr string, dt cel.DataType, list *cel.ListLiteral) (string, error) {
	if dt == cel.TypeArray {
		// `in` against an ARRAY-typed property tests whether the
		// column's JSON array contains any of the listed values,
		// rewritten as an OR-chain of containment checks (mirrors the
		// original provider's array `in` rewrite).
		preds := make([]string, 0, len(list.Elements))
		for _, el := range list.Elements {
			c, ok := el.(*cel.Constant)
			if !ok {
				return "", &UnsupportedExpressionError{Reason: "`in` list elements must be constants"}
			}
			param := b.bind(c.Value)
			preds = append(preds, p.dialect.ArrayContains(expr, param))
		}
		if len(preds) == 0 {
			return "FALSE", nil
		}
		return "(" + strings.Join(preds, " OR ") + ")", nil
	}

	placeholders := make([]string, 0, len(list.Elements))
	for _, el := range list.Elements {
		c, ok := el.(*cel.Constant)
		if !ok {
			return "", &UnsupportedExpressionError{Reason: "`in` list elements must be constants"}
		}
		lit, err := p.literalSQL(dt, c)
		if err != nil {
			return "", err
		}
		placeholders = append(placeholders, b.bind(lit))
	}
	if len(placeholders) == 0 {
		return "FALSE", nil
	}
	return fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", ")), nil
}

// translateMethodCall renders contains/startsWith/endsWith/matches,
// dispatched on the receiver property's declared type: a STRING
// property uses case-insensitive LIKE for contains/startsWith/endsWith
// and the dialect's case-sensitive regex operator for matches, an
// ARRAY property's
// `contains` tests element membership by value equality (spec §4.2's
// evaluator semantics, mirrored here for the SQL path).
func (p *Provider) translateMethodCall(b *builder, n *cel.MethodCall) (string, error) {
	recv, ok := n.Receiver.(*cel.PropertyAccess)
	if !ok {
		return "", &UnsupportedExpressionError{Reason: "method call receiver must be a property access"}
	}
	expr, dt, err := p.propertyExpr(strings.Join(recv.Path, "."))
	if err != nil {
		return "", err
	}
	if len(n.Args) != 1 {
		return "", &UnsupportedExpressionError{Reason: n.Name + " requires exactly one argument"}
	}
	arg := n.Args[0]

	if dt == cel.TypeArray && n.Name == "contains" {
		param := b.bind(arg.Value)
		return p.dialect.ArrayContains(expr, param), nil
	}

	s, ok := arg.Value.(string)
	if !ok {
		return "", &TypeMismatchError{Field: strings.Join(recv.Path, "."), Declared: string(dt), Literal: fmt.Sprintf("%T", arg.Value)}
	}
	escaped := likeEscape(s)

	switch n.Name {
	case "contains":
		param := b.bind("%" + escaped + "%")
		return p.dialect.CaseInsensitiveLike(expr, param), nil
	case "startsWith":
		param := b.bind(escaped + "%")
		return p.dialect.CaseInsensitiveLike(expr, param), nil
	case "endsWith":
		param := b.bind("%" + escaped)
		return p.dialect.CaseInsensitiveLike(expr, param), nil
	case "matches":
		param := b.bind(s)
		return p.dialect.RegexOperator(expr, param), nil
	default:
		return "", &UnsupportedExpressionError{Reason: "unsupported method: " + n.Name}
	}
}

func sqlOperator(op cel.ComparisonOp) (string, error) {
	switch op {
	case cel.OpEQ:
		return "=", nil
	case cel.OpNE:
		return "<>", nil
	case cel.OpLT:
		return "<", nil
	case cel.OpLE:
		return "<=", nil
	case cel.OpGT:
		return ">", nil
	case cel.OpGE:
		return ">=", nil
	default:
		return "", &UnsupportedExpressionError{Reason: "unsupported comparison operator: " + string(op)}
	}
}

// literalSQL coerces a constant to the Go value that should be bound
// as the query parameter for a column of the given declared type,
// applying UUID canonicalization and datetime parsing (spec §9).
func (p *Provider) literalSQL(dt cel.DataType, c *cel.Constant) (interface{}, error) {
	switch dt {
	case cel.TypeUUID:
		s, ok := c.Value.(string)
		if !ok {
			return nil, &TypeMismatchError{Declared: string(dt), Literal: fmt.Sprintf("%T", c.Value)}
		}
		// Invalid UUID strings pass through as literal text rather
		// than erroring (spec §4.3): the comparison then simply
		// matches nothing, since no stored UUID ever equals it.
		if id, err := uuid.Parse(s); err == nil {
			return id.String(), nil
		}
		return s, nil
	case cel.TypeDatetime:
		switch v := c.Value.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, &TypeMismatchError{Declared: string(dt), Literal: v}
			}
			return t, nil
		default:
			return nil, &TypeMismatchError{Declared: string(dt), Literal: fmt.Sprintf("%T", c.Value)}
		}
	default:
		return c.Value, nil
	}
}
