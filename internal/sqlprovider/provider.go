package sqlprovider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
	"github.com/telhawk-systems/telhawk-stack/alerting/internal/metadata"
)

// Provider translates parsed CEL ASTs into a dialect's SQL WHERE
// clause, resolving CEL properties through a Properties Metadata
// registry (spec §4.3). One Provider is built per dialect and keeps the
// registry pointer it was given for its whole life; there is no way to
// hand an existing Provider a different registry.
type Provider struct {
	registry *metadata.Registry
	dialect  Dialect
	lenient  bool
}

// New builds a Provider for the given dialect and registry in strict
// mode: an UnmappedProperty reference is an error (spec §4.3/§7).
func New(dialect Dialect, registry *metadata.Registry) *Provider {
	return &Provider{registry: registry, dialect: dialect}
}

// NewLenient builds a Provider that degrades an UnmappedProperty
// reference to a constant-false predicate instead of erroring (spec
// §4.3: "UnmappedProperty must degrade to a constant-false predicate
// when configured for lenient mode; otherwise error").
func NewLenient(dialect Dialect, registry *metadata.Registry) *Provider {
	return &Provider{registry: registry, dialect: dialect, lenient: true}
}

// Dialect returns the provider's configured Dialect.
func (p *Provider) Dialect() Dialect {
	return p.dialect
}

// builder accumulates bound parameters while a single Translate call
// walks the AST.
type builder struct {
	dialect Dialect
	params  []interface{}
}

func (b *builder) bind(v interface{}) string {
	b.params = append(b.params, v)
	return b.dialect.Placeholder(len(b.params))
}

// Translate renders node's top-level boolean expression into a SQL
// WHERE fragment and its ordered bound parameters. node is expected to
// be one produced by cel.Parse (spec §4.1): Comparison, Logical,
// Unary, ParenGroup, or a bare MethodCall used as a predicate.
func (p *Provider) Translate(node cel.Node) (string, []interface{}, error) {
	b := &builder{dialect: p.dialect}
	sql, err := p.translateNode(b, node)
	if err != nil {
		return "", nil, err
	}
	return sql, b.params, nil
}

// OrderExpression renders the SQL expression used to ORDER BY a CEL
// property, applying the same column resolution and cast as WHERE
// clause translation (spec §4.4).
func (p *Provider) OrderExpression(celField string) (string, error) {
	expr, _, err := p.propertyExpr(celField)
	return expr, err
}

func (p *Provider) translateNode(b *builder, node cel.Node) (string, error) {
	switch n := node.(type) {
	case *cel.ParenGroup:
		inner, err := p.translateNode(b, n.Inner)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil

	case *cel.Logical:
		left, err := p.translateNode(b, n.LHS)
		if err != nil {
			return "", err
		}
		right, err := p.translateNode(b, n.RHS)
		if err != nil {
			return "", err
		}
		op := "AND"
		if n.Op == cel.OpOR {
			op = "OR"
		}
		return fmt.Sprintf("(%s %s %s)", left, op, right), nil

	case *cel.Unary:
		switch n.Op {
		case cel.OpNOT:
			inner, err := p.translateNode(b, n.Operand)
			if err != nil {
				return "", err
			}
			return "NOT (" + inner + ")", nil
		default:
			return "", &UnsupportedExpressionError{Reason: "numeric negation is not a boolean predicate"}
		}

	case *cel.Comparison:
		sql, err := p.translateComparison(b, n)
		return p.degradeUnmapped(sql, err)

	case *cel.MethodCall:
		sql, err := p.translateMethodCall(b, n)
		return p.degradeUnmapped(sql, err)

	default:
		return "", &UnsupportedExpressionError{Reason: fmt.Sprintf("%T is not a boolean expression", node)}
	}
}

// degradeUnmapped implements lenient-mode UnmappedProperty handling
// (spec §4.3): in lenient mode an unmapped property reference renders
// as the literal predicate FALSE instead of failing the whole
// translation; strict mode (the default) propagates the error.
func (p *Provider) degradeUnmapped(sql string, err error) (string, error) {
	if err == nil {
		return sql, nil
	}
	if p.lenient {
		var unmapped *metadata.ErrUnmappedProperty
		if errors.As(err, &unmapped) {
			return "FALSE", nil
		}
	}
	return "", err
}

// propertyExpr resolves a dotted CEL path to a SQL expression and its
// declared DataType, combining a multi-mapping fallback chain with
// COALESCE (spec §4.4).
func (p *Provider) propertyExpr(dotted string) (string, cel.DataType, error) {
	meta, _, err := p.registry.Lookup(dotted)
	if err != nil {
		return "", "", err
	}

	dt := cel.DataType(meta.DataType)
	raw := dt == cel.TypeArray || dt == cel.TypeObject

	exprs := make([]string, 0, len(meta.FieldMappings))
	for _, m := range meta.FieldMappings {
		switch fm := m.(type) {
		case metadata.SimpleFieldMapping:
			exprs = append(exprs, quoteIdent(fm.MapTo))
		case metadata.JsonFieldMapping:
			if raw {
				exprs = append(exprs, p.dialect.JSONExtractJSON(fm.JsonProp, fm.PropInJSON))
			} else {
				exprs = append(exprs, p.dialect.JSONExtractText(fm.JsonProp, fm.PropInJSON))
			}
		}
	}
	if len(exprs) == 0 {
		return "", "", &ErrNoMapping{Path: dotted}
	}

	expr := exprs[0]
	if len(exprs) > 1 {
		expr = "COALESCE(" + strings.Join(exprs, ", ") + ")"
	}

	if !raw && dt != cel.TypeString && dt != cel.TypeUnknown {
		expr = p.dialect.Cast(expr, dt)
	}
	return expr, dt, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ErrNoMapping is returned when a registered property has zero field
// mappings; Lookup itself never produces this, but a hand-built
// registry entry could.
type ErrNoMapping struct {
	Path string
}

func (e *ErrNoMapping) Error() string {
	return fmt.Sprintf("sqlprovider: property %q has no field mappings", e.Path)
}
