package sqlprovider

import (
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/cel"
)

// MySQL is a secondary Dialect (spec §9), built from the MySQL 8
// JSON path functions in place of PostgreSQL's `->`/`->>` operators.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Placeholder(int) string { return "?" }

func (MySQL) JSONExtractText(column string, path []string) string {
	return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s, %s))", quoteIdent(column), quoteLit(jsonPath(path)))
}

// JSONExtractJSON skips JSON_UNQUOTE so the result stays a JSON value
// usable by JSON_CONTAINS/JSON_LENGTH.
func (MySQL) JSONExtractJSON(column string, path []string) string {
	return fmt.Sprintf("JSON_EXTRACT(%s, %s)", quoteIdent(column), quoteLit(jsonPath(path)))
}

func (MySQL) Cast(expr string, dataType cel.DataType) string {
	switch dataType {
	case cel.TypeInteger:
		return fmt.Sprintf("CAST(%s AS SIGNED)", expr)
	case cel.TypeFloat:
		return fmt.Sprintf("CAST(%s AS DECIMAL(32,8))", expr)
	case cel.TypeBoolean:
		return fmt.Sprintf(`(CASE WHEN LOWER(%s) IN ('true', '1', 'yes') THEN TRUE `+
			`WHEN LOWER(%s) IN ('false', '0', 'no') THEN FALSE ELSE NULL END)`, expr, expr)
	case cel.TypeDatetime:
		return fmt.Sprintf("CAST(%s AS DATETIME)", expr)
	default:
		return expr
	}
}

func (MySQL) RegexOperator(column, paramExpr string) string {
	return fmt.Sprintf("%s REGEXP %s", column, paramExpr)
}

func (MySQL) CaseInsensitiveLike(expr, paramExpr string) string {
	return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", expr, paramExpr)
}

func (MySQL) DatetimeLiteral(t time.Time) string {
	return fmt.Sprintf("CAST(%s AS DATETIME)", quoteLit(fmtDatetime(t)))
}

// ArrayContains uses JSON_CONTAINS, MySQL's equivalent of jsonb `@>`.
func (MySQL) ArrayContains(column string, paramExpr string) string {
	return fmt.Sprintf("JSON_CONTAINS(%s, JSON_ARRAY(%s))", column, paramExpr)
}

func (MySQL) ArrayContainsNull(column string) string {
	return fmt.Sprintf("(%s IS NULL OR JSON_LENGTH(%s) = 0 OR JSON_CONTAINS(%s, 'null'))", column, column, column)
}

func jsonPath(path []string) string {
	p := "$"
	for _, seg := range path {
		p += "." + seg
	}
	return p
}
