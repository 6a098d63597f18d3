package sqlprovider

import (
	"fmt"
	"strings"
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
)

// Postgres is the primary Dialect (spec §4.3), grounded directly in
// the original provider's json_extract_as_text/cast/contains/equal-
// for-array-datatype visitors: jsonb `->`/`->>` chaining, a boolean
// CASE ladder for cast-to-BOOLEAN, and `@>` containment for arrays.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// JSONExtractText chains `->` through all but the last path segment
// and `->>` for the last, e.g. (col -> 'a' -> 'b') ->> 'c', matching
// json_extract_as_text in the original PostgreSQL provider.
func (Postgres) JSONExtractText(column string, path []string) string {
	if len(path) == 0 {
		return quoteIdent(column)
	}
	expr := quoteIdent(column)
	for _, seg := range path[:len(path)-1] {
		expr = fmt.Sprintf("(%s -> %s)", expr, quoteLit(seg))
	}
	return fmt.Sprintf("%s ->> %s", expr, quoteLit(path[len(path)-1]))
}

// JSONExtractJSON chains `->` through every segment, leaving a jsonb
// value rather than text, for use by array containment predicates.
func (Postgres) JSONExtractJSON(column string, path []string) string {
	expr := quoteIdent(column)
	for _, seg := range path {
		expr = fmt.Sprintf("(%s -> %s)", expr, quoteLit(seg))
	}
	return expr
}

// Cast renders the CASE-ladder boolean cast and the direct casts for
// the rest of the DataType lattice, mirroring the original `cast`
// visitor's cast_conditions table verbatim (spec §4.3): a boolean cast
// never uses a bare `::boolean`, since Postgres rejects casting
// arbitrary text like "1"/"yes" directly.
func (Postgres) Cast(expr string, dataType cel.DataType) string {
	switch dataType {
	case cel.TypeInteger, cel.TypeFloat:
		return fmt.Sprintf("(%s)::float", expr)
	case cel.TypeBoolean:
		return fmt.Sprintf(
			"(CASE WHEN LOWER(%s) = 'true' THEN true "+
				"WHEN LOWER(%s) = 'false' THEN false "+
				"WHEN %s ~ '^[-+]?[0-9]*\\.?[0-9]+$' THEN CAST(%s AS FLOAT) >= 1 "+
				"WHEN LOWER(%s) != '' THEN true "+
				"ELSE false END)",
			expr, expr, expr, expr, expr,
		)
	case cel.TypeDatetime:
		return fmt.Sprintf("(%s)::timestamp", expr)
	case cel.TypeUUID:
		return fmt.Sprintf("(%s)::uuid", expr)
	default:
		return expr
	}
}

func (Postgres) RegexOperator(column, paramExpr string) string {
	return fmt.Sprintf("%s ~ %s", column, paramExpr)
}

func (Postgres) CaseInsensitiveLike(expr, paramExpr string) string {
	return fmt.Sprintf("%s ILIKE %s", expr, paramExpr)
}

func (Postgres) DatetimeLiteral(t time.Time) string {
	return fmt.Sprintf("CAST(%s AS timestamptz)", quoteLit(fmtDatetime(t)))
}

// ArrayContains uses jsonb `@>` containment against a bound
// single-element array literal, matching
// _visit_equal_for_array_datatype/_visit_in_for_array_datatype in the
// original provider.
func (Postgres) ArrayContains(column string, paramExpr string) string {
	return fmt.Sprintf("%s @> jsonb_build_array(%s)", column, paramExpr)
}

// ArrayContainsNull mirrors the original provider's handling of
// `arrayCol == null`: true when the column is SQL NULL, an empty
// array, or an array with a JSON null among its elements.
func (Postgres) ArrayContainsNull(column string) string {
	return fmt.Sprintf("(%s IS NULL OR %s = '[]'::jsonb OR %s @> '[null]'::jsonb)", column, column, column)
}

func quoteLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
