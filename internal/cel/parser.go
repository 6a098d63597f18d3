package cel

import "fmt"

// supportedMethods enumerates the method names the grammar accepts
// (spec §4.1); anything else is an UnsupportedOperator.
var supportedMethods = map[string]bool{
	"contains":   true,
	"startsWith": true,
	"endsWith":   true,
	"matches":    true,
	"in":         true,
}

// UnsupportedOperatorError is returned when the parser recognizes a
// method call shape it cannot translate.
type UnsupportedOperatorError struct {
	Name string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator/method: %s", e.Name)
}

// Parse compiles CEL source into an AST. It never panics; any failure
// is returned as *ParseError (or, for a recognized-but-unsupported
// construct, *UnsupportedOperatorError).
func Parse(src string) (Node, error) {
	tokens, lexErr := lex(src)
	if lexErr != nil {
		return nil, lexErr
	}
	p := &parser{tokens: tokens, src: src}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("trailing input after expression", nil)
	}
	return node, nil
}

type parser struct {
	tokens []token
	pos    int
	src    string
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) errorf(msg string, expected []string) *ParseError {
	return &ParseError{Offset: p.peek().offset, Message: msg, Expected: expected}
}

func (p *parser) expect(k tokenKind, desc string) (token, error) {
	if p.peek().kind != k {
		return token{}, p.errorf(fmt.Sprintf("unexpected %s", p.peek().describe()), []string{desc})
	}
	return p.advance(), nil
}

// expr := orExpr
func (p *parser) parseExpr() (Node, error) {
	return p.parseOr()
}

// orExpr := andExpr ('||' andExpr)*
func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{LHS: left, Op: OpOR, RHS: right}
	}
	return left, nil
}

// andExpr := notExpr ('&&' notExpr)*
func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Logical{LHS: left, Op: OpAND, RHS: right}
	}
	return left, nil
}

// notExpr := '!'? cmpExpr
func (p *parser) parseNot() (Node, error) {
	if p.peek().kind == tokNot {
		p.advance()
		operand, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: OpNOT, Operand: operand}, nil
	}
	return p.parseCmp()
}

var cmpOps = map[tokenKind]ComparisonOp{
	tokEq: OpEQ, tokNe: OpNE, tokLt: OpLT, tokLe: OpLE, tokGt: OpGT, tokGe: OpGE, tokIn: OpIN,
}

// cmpExpr := unary (('=='|'!='|'<'|'<='|'>'|'>='|'in') unary)?
func (p *parser) parseCmp() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if op, ok := cmpOps[p.peek().kind]; ok {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Comparison{LHS: left, Op: op, RHS: right}, nil
	}
	return left, nil
}

// unary := '-'? primary
func (p *parser) parseUnary() (Node, error) {
	if p.peek().kind == tokMinus {
		p.advance()
		operand, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: OpNEG, Operand: operand}, nil
	}
	return p.parsePrimary()
}

// primary := literal | path ('(' args? ')')? | '(' expr ')' | list
func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.advance()
		return &Constant{Value: t.text, DeclaredType: TypeString}, nil
	case tokInt:
		p.advance()
		return &Constant{Value: t.ival, DeclaredType: TypeInteger}, nil
	case tokFloat:
		p.advance()
		return &Constant{Value: t.fval, DeclaredType: TypeFloat}, nil
	case tokBool:
		p.advance()
		return &Constant{Value: t.bval, DeclaredType: TypeBoolean}, nil
	case tokNull:
		p.advance()
		return &Constant{Value: nil, DeclaredType: TypeNull}, nil
	case tokDatetime:
		p.advance()
		return &Constant{Value: t.tval, DeclaredType: TypeDatetime}, nil
	case tokLParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return &ParenGroup{Inner: inner}, nil
	case tokLBracket:
		return p.parseList()
	case tokIdent:
		return p.parsePathOrCall()
	default:
		return nil, p.errorf(fmt.Sprintf("unexpected %s", t.describe()), []string{"literal", "identifier", "(", "["})
	}
}

// list := '[' (expr (',' expr)*)? ']'
func (p *parser) parseList() (Node, error) {
	if _, err := p.expect(tokLBracket, "["); err != nil {
		return nil, err
	}
	lit := &ListLiteral{}
	if p.peek().kind == tokRBracket {
		p.advance()
		return lit, nil
	}
	for {
		el, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lit.Elements = append(lit.Elements, el)
		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRBracket, "]"); err != nil {
		return nil, err
	}
	return lit, nil
}

// path := ident ('.' ident | '[' STRING ']')*
// followed optionally by a single '(' args? ')' call on the full path
// (method call on the resolved property), per spec §4.1.
func (p *parser) parsePathOrCall() (Node, error) {
	first, err := p.expect(tokIdent, "identifier")
	if err != nil {
		return nil, err
	}
	path := []string{first.text}

	for {
		switch p.peek().kind {
		case tokDot:
			p.advance()
			seg, err := p.expect(tokIdent, "identifier")
			if err != nil {
				return nil, err
			}
			path = append(path, seg.text)
		case tokLBracket:
			// distinguish `prop["key"]` (string index) from a list
			// literal; only consume here if the bracket is followed by
			// a string, and then require the closing ']'.
			if p.tokens[p.pos+1].kind != tokString {
				goto doneSegments
			}
			p.advance()
			seg, err := p.expect(tokString, "string")
			if err != nil {
				return nil, err
			}
			path = append(path, seg.text)
			if _, err := p.expect(tokRBracket, "]"); err != nil {
				return nil, err
			}
		default:
			goto doneSegments
		}
	}
doneSegments:

	// A path may be followed by at most one call, which binds to the
	// last path segment as the method name and the remaining prefix as
	// the receiver (spec §4.1 primary rule).
	if p.peek().kind == tokLParen {
		if len(path) < 2 {
			return nil, &UnsupportedOperatorError{Name: path[0]}
		}
		methodName := path[len(path)-1]
		receiver := Node(&PropertyAccess{Path: path[:len(path)-1]})

		if !supportedMethods[methodName] {
			return nil, &UnsupportedOperatorError{Name: methodName}
		}

		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &MethodCall{Receiver: receiver, Name: methodName, Args: args}, nil
	}

	return &PropertyAccess{Path: path}, nil
}

// parseArgs parses '(' args? ')' where each arg must be a literal
// constant (spec §3: MethodCall.Args contains only Constant).
func (p *parser) parseArgs() ([]*Constant, error) {
	if _, err := p.expect(tokLParen, "("); err != nil {
		return nil, err
	}
	var args []*Constant
	if p.peek().kind == tokRParen {
		p.advance()
		return args, nil
	}
	for {
		node, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		c, ok := node.(*Constant)
		if !ok {
			if lit, ok := node.(*ListLiteral); ok {
				// `in` with an inline list argument: fold into a single
				// Constant carrying a []interface{} so MethodCall's
				// Constant-only-args invariant holds, with the ARRAY
				// declared type signalling the evaluator/provider to
				// treat Value as a slice.
				vals := make([]interface{}, 0, len(lit.Elements))
				for _, el := range lit.Elements {
					ec, ok := el.(*Constant)
					if !ok {
						return nil, p.errorf("list elements in method arguments must be literals", nil)
					}
					vals = append(vals, ec.Value)
				}
				args = append(args, &Constant{Value: vals, DeclaredType: TypeArray})
				goto nextArg
			}
			return nil, p.errorf("method call arguments must be literals", nil)
		}
		args = append(args, c)
	nextArg:
		if p.peek().kind == tokComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return args, nil
}
