package cel

import (
	"fmt"
	"strconv"
	"strings"
)

// Print renders an AST back to CEL source text. It is used to check
// the parser round-trip property (spec §8): parsing the printed form
// of a parsed expression must yield a structurally identical tree.
func Print(n Node) string {
	var sb strings.Builder
	print1(n, &sb)
	return sb.String()
}

func print1(n Node, sb *strings.Builder) {
	switch v := n.(type) {
	case *Constant:
		sb.WriteString(printLiteral(v))
	case *PropertyAccess:
		sb.WriteString(strings.Join(v.Path, "."))
	case *MethodCall:
		print1(v.Receiver, sb)
		sb.WriteByte('.')
		sb.WriteString(v.Name)
		sb.WriteByte('(')
		for i, a := range v.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(printLiteral(a))
		}
		sb.WriteByte(')')
	case *Comparison:
		print1(v.LHS, sb)
		sb.WriteByte(' ')
		sb.WriteString(string(v.Op))
		sb.WriteByte(' ')
		print1(v.RHS, sb)
	case *Logical:
		print1(v.LHS, sb)
		sb.WriteByte(' ')
		sb.WriteString(string(v.Op))
		sb.WriteByte(' ')
		print1(v.RHS, sb)
	case *Unary:
		sb.WriteString(string(v.Op))
		print1(v.Operand, sb)
	case *ParenGroup:
		sb.WriteByte('(')
		print1(v.Inner, sb)
		sb.WriteByte(')')
	case *ListLiteral:
		sb.WriteByte('[')
		for i, e := range v.Elements {
			if i > 0 {
				sb.WriteString(", ")
			}
			print1(e, sb)
		}
		sb.WriteByte(']')
	default:
		sb.WriteString(fmt.Sprintf("<unknown node %T>", n))
	}
}

func printLiteral(c *Constant) string {
	switch c.DeclaredType {
	case TypeString:
		return strconv.Quote(fmt.Sprint(c.Value))
	case TypeNull:
		return "null"
	case TypeArray:
		vals, _ := c.Value.([]interface{})
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = printScalar(v)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return printScalar(c.Value)
	}
}

func printScalar(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case nil:
		return "null"
	default:
		return fmt.Sprint(val)
	}
}
