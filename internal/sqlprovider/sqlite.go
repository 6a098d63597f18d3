package sqlprovider

import (
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
)

// SQLite is a secondary Dialect (spec §9) for the test/embedded
// deployment mode, using SQLite's json_extract and a REGEXP operator
// backed by the sqlite3 driver's registered regexp function (SQLite
// ships no REGEXP implementation of its own).
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) JSONExtractText(column string, path []string) string {
	return fmt.Sprintf("json_extract(%s, %s)", quoteIdent(column), quoteLit(jsonPath(path)))
}

// JSONExtractJSON is the same expression as JSONExtractText: SQLite's
// json_extract already returns a JSON-serialized array/object for a
// path that resolves to one, which is what json_each/json_array_length
// expect.
func (SQLite) JSONExtractJSON(column string, path []string) string {
	return fmt.Sprintf("json_extract(%s, %s)", quoteIdent(column), quoteLit(jsonPath(path)))
}

func (SQLite) Cast(expr string, dataType cel.DataType) string {
	switch dataType {
	case cel.TypeInteger:
		return fmt.Sprintf("CAST(%s AS INTEGER)", expr)
	case cel.TypeFloat:
		return fmt.Sprintf("CAST(%s AS REAL)", expr)
	case cel.TypeBoolean:
		return fmt.Sprintf(`(CASE WHEN LOWER(%s) IN ('true', '1', 'yes') THEN 1 `+
			`WHEN LOWER(%s) IN ('false', '0', 'no') THEN 0 ELSE NULL END)`, expr, expr)
	case cel.TypeDatetime:
		return fmt.Sprintf("datetime(%s)", expr)
	default:
		return expr
	}
}

func (SQLite) RegexOperator(column, paramExpr string) string {
	return fmt.Sprintf("%s REGEXP %s", column, paramExpr)
}

// CaseInsensitiveLike relies on SQLite's default ASCII-case-
// insensitive LIKE; no LOWER() wrapping is needed.
func (SQLite) CaseInsensitiveLike(expr, paramExpr string) string {
	return fmt.Sprintf("%s LIKE %s", expr, paramExpr)
}

func (SQLite) DatetimeLiteral(t time.Time) string {
	return fmt.Sprintf("datetime(%s)", quoteLit(fmtDatetime(t)))
}

// ArrayContains falls back to an EXISTS over json_each since SQLite
// has no jsonb containment operator; paramExpr is bound to the single
// scalar value being tested for membership, not the wrapping array.
func (SQLite) ArrayContains(column string, paramExpr string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = %s)", column, paramExpr)
}

func (SQLite) ArrayContainsNull(column string) string {
	return fmt.Sprintf("(%s IS NULL OR json_array_length(%s) = 0 OR EXISTS "+
		"(SELECT 1 FROM json_each(%s) WHERE json_each.value IS NULL))", column, column, column)
}
