package cel

// Node is implemented by every AST variant. Dispatch is by type switch
// (see evaluator.Eval and sqlprovider.Translate) rather than by an OO
// visitor hierarchy — each consumer owns its own pre/post walk.
type Node interface {
	node()
}

// ComparisonOp enumerates the operators accepted by a Comparison node.
type ComparisonOp string

const (
	OpEQ ComparisonOp = "=="
	OpNE ComparisonOp = "!="
	OpLT ComparisonOp = "<"
	OpLE ComparisonOp = "<="
	OpGT ComparisonOp = ">"
	OpGE ComparisonOp = ">="
	OpIN ComparisonOp = "in"
)

// LogicalOp enumerates AND/OR.
type LogicalOp string

const (
	OpAND LogicalOp = "&&"
	OpOR  LogicalOp = "||"
)

// UnaryOp enumerates the two supported unary operators.
type UnaryOp string

const (
	OpNOT UnaryOp = "!"
	OpNEG UnaryOp = "-"
)

// Constant is a literal value with a declared DataType.
type Constant struct {
	Value         interface{}
	DeclaredType  DataType
}

func (*Constant) node() {}

// PropertyAccess is an ordered, non-empty sequence of path segments,
// e.g. `labels.host` or `source["env"]`.
type PropertyAccess struct {
	Path []string
}

func (*PropertyAccess) node() {}

// MethodCall is a call on a restricted receiver (a PropertyAccess or
// another MethodCall) with constant-only arguments.
type MethodCall struct {
	Receiver Node
	Name     string
	Args     []*Constant
}

func (*MethodCall) node() {}

// Comparison is a binary relational/equality/membership test.
type Comparison struct {
	LHS Node
	Op  ComparisonOp
	RHS Node
}

func (*Comparison) node() {}

// Logical is a short-circuiting AND/OR.
type Logical struct {
	LHS Node
	Op  LogicalOp
	RHS Node
}

func (*Logical) node() {}

// Unary is NOT or unary minus.
type Unary struct {
	Op      UnaryOp
	Operand Node
}

func (*Unary) node() {}

// ParenGroup preserves an explicit parenthesization; it is transparent
// to evaluation and translation but useful for pretty-printing and for
// the parser round-trip property in spec §8.
type ParenGroup struct {
	Inner Node
}

func (*ParenGroup) node() {}

// ListLiteral is a `[expr, expr, ...]` literal. The parser accepts it
// anywhere a primary expression may appear; as a method-call argument
// it is folded into an ARRAY Constant instead. It is kept as its own
// node so the parser doesn't have to special-case array syntax inside
// `primary`.
type ListLiteral struct {
	Elements []Node
}

func (*ListLiteral) node() {}

// TopLevelDisjuncts flattens the top-level `||` chain of a Logical
// tree into its operands, used by the correlator to track which
// disjunct of a CreateOn=ALL rule each member alert satisfied (§4.5).
// A tree with no top-level OR returns a single-element slice containing
// the whole node.
func TopLevelDisjuncts(n Node) []Node {
	if l, ok := unwrapParens(n).(*Logical); ok && l.Op == OpOR {
		return append(TopLevelDisjuncts(l.LHS), TopLevelDisjuncts(l.RHS)...)
	}
	return []Node{n}
}

func unwrapParens(n Node) Node {
	for {
		p, ok := n.(*ParenGroup)
		if !ok {
			return n
		}
		n = p.Inner
	}
}
