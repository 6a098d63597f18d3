// Package sqlprovider translates a parsed CEL AST into a dialect-
// specific SQL WHERE expression and its positional parameters (spec
// §4.3). A base Provider composes a Dialect, which supplies the small
// set of dialect-specific leaf operations (JSON extraction, casts,
// regex operator, placeholder syntax); everything else (dispatch over
// AST node shapes, COALESCE composition, LIKE escaping) is shared.
package sqlprovider

import (
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
)

// Dialect exposes the operations that differ between target SQL
// engines, mirroring the dynamic-dispatch-over-dialects design note
// (spec §9): cast, json_extract, like-escape, regex operator, datetime
// literal, array-contains.
type Dialect interface {
	Name() string

	// Placeholder returns the positional parameter marker for the
	// n-th (1-based) bound parameter.
	Placeholder(n int) string

	// JSONExtractText returns an expression extracting path as text
	// from the named JSON column.
	JSONExtractText(column string, path []string) string

	// JSONExtractJSON returns an expression extracting path as a raw
	// JSON value (not coerced to text), used for ARRAY/OBJECT-typed
	// properties so containment operators see an actual JSON array
	// rather than its stringified form.
	JSONExtractJSON(column string, path []string) string

	// Cast wraps expr (already text, typically a JSON extraction) to
	// the declared data type. dataType is never STRING, UNKNOWN, ARRAY
	// or OBJECT; callers skip casting in those cases. A NULL dataType is
	// passed in and returned unchanged by every dialect.
	Cast(expr string, dataType cel.DataType) string

	// RegexOperator returns the full `matches` predicate of column
	// against the bound pattern, using "~" for PostgreSQL and "REGEXP"
	// elsewhere.
	RegexOperator(column, paramExpr string) string

	// CaseInsensitiveLike returns the full predicate for a
	// case-insensitive LIKE test of expr against a bound pattern
	// parameter, used by contains/startsWith/endsWith on STRING
	// properties (spec §4.3: case-insensitive string methods).
	CaseInsensitiveLike(expr, paramExpr string) string

	// DatetimeLiteral renders t as a dialect cast expression, e.g.
	// CAST('2024-01-01 00:00:00' AS TIMESTAMP).
	DatetimeLiteral(t time.Time) string

	// ArrayContains returns a predicate testing whether the JSON array
	// expression contains the value bound at paramExpr (a placeholder
	// whose parameter is the plain scalar being tested; each dialect
	// wraps or unnests it itself, so the comparison never interpolates
	// user data into SQL text).
	ArrayContains(column string, paramExpr string) string

	// ArrayContainsNull returns the predicate for `arrayCol == null`
	// per spec §4.3/§9: null-or-empty-or-contains-null.
	ArrayContainsNull(column string) string
}

// likeEscape escapes LIKE metacharacters (%, _, and the escape
// character itself) in a literal about to be interpolated into an
// ILIKE pattern built from string concatenation (spec §4.3: "LIKE
// specials in s must be escaped").
func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

func fmtDatetime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
