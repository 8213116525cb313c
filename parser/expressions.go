package parser

import (
	"strconv"
	"strings"

	"github.com/ketju/ginja/lexer"
	"github.com/ketju/ginja/nodes"
)

// parseExpression parses a full expression including conditional expressions.
func (p *Parser) parseExpression() (nodes.Expr, error) {
	return p.parseCondExpr()
}

// parseTuple parses expr ("," expr)* and collapses a single item. A trailing
// comma forces a tuple.
func (p *Parser) parseTuple(withCondExpr bool) (nodes.Expr, error) {
	tok := p.stream.Current()
	parse := p.parseOr
	if withCondExpr {
		parse = p.parseCondExpr
	}

	first, err := parse()
	if err != nil {
		return nil, err
	}
	if !p.stream.Current().Is(",") {
		return first, nil
	}

	items := []nodes.Expr{first}
	for p.stream.SkipIf(",") {
		if p.tupleEnds() {
			break
		}
		item, err := parse()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	tuple := &nodes.Tuple{Items: items}
	tuple.Pos = p.pos(tok)
	return tuple, nil
}

// tupleEnds reports whether the token after a comma terminates the tuple.
func (p *Parser) tupleEnds() bool {
	tok := p.stream.Current()
	switch tok.Type {
	case lexer.TokenVariableEnd, lexer.TokenBlockEnd, lexer.TokenEOF:
		return true
	case lexer.TokenOperator:
		return tok.Value == ")" || tok.Value == "]" || tok.Value == "}"
	}
	return false
}

// parseCondExpr parses "a if cond else b"; the else branch is optional and
// missing branches evaluate to an undefined value.
func (p *Parser) parseCondExpr() (nodes.Expr, error) {
	tok := p.stream.Current()
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.stream.SkipIfName("if") {
		test, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		var elseExpr nodes.Expr
		if p.stream.SkipIfName("else") {
			elseExpr, err = p.parseCondExpr()
			if err != nil {
				return nil, err
			}
		}
		cond := &nodes.CondExpr{Test: test, Then: expr, Else: elseExpr}
		cond.Pos = p.pos(tok)
		expr = cond
	}
	return expr, nil
}

func (p *Parser) parseOr() (nodes.Expr, error) {
	tok := p.stream.Current()
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.stream.SkipIfName("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		b := &nodes.Binary{Op: "or", Left: left, Right: right}
		b.Pos = p.pos(tok)
		left = b
	}
	return left, nil
}

func (p *Parser) parseAnd() (nodes.Expr, error) {
	tok := p.stream.Current()
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.stream.SkipIfName("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		b := &nodes.Binary{Op: "and", Left: left, Right: right}
		b.Pos = p.pos(tok)
		left = b
	}
	return left, nil
}

func (p *Parser) parseNot() (nodes.Expr, error) {
	tok := p.stream.Current()
	if p.stream.SkipIfName("not") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		u := &nodes.Unary{Op: "not", Node: operand}
		u.Pos = p.pos(tok)
		return u, nil
	}
	return p.parseCompare()
}

var compareOperators = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *Parser) parseCompare() (nodes.Expr, error) {
	tok := p.stream.Current()
	expr, err := p.parseMath1()
	if err != nil {
		return nil, err
	}
	var ops []nodes.Operand
	for {
		cur := p.stream.Current()
		switch {
		case cur.Type == lexer.TokenOperator && compareOperators[cur.Value]:
			p.stream.Next()
			right, err := p.parseMath1()
			if err != nil {
				return nil, err
			}
			ops = append(ops, nodes.Operand{Op: cur.Value, Expr: right})
			continue
		case cur.IsName("in"):
			p.stream.Next()
			right, err := p.parseMath1()
			if err != nil {
				return nil, err
			}
			ops = append(ops, nodes.Operand{Op: "in", Expr: right})
			continue
		case cur.IsName("not") && p.stream.Look(1).IsName("in"):
			p.stream.Next()
			p.stream.Next()
			right, err := p.parseMath1()
			if err != nil {
				return nil, err
			}
			ops = append(ops, nodes.Operand{Op: "notin", Expr: right})
			continue
		}
		break
	}
	if len(ops) == 0 {
		return expr, nil
	}
	cmp := &nodes.Compare{Expr: expr, Ops: ops}
	cmp.Pos = p.pos(tok)
	return cmp, nil
}

func (p *Parser) parseMath1() (nodes.Expr, error) {
	tok := p.stream.Current()
	left, err := p.parseMath2()
	if err != nil {
		return nil, err
	}
	for {
		cur := p.stream.Current()
		if !cur.Is("+") && !cur.Is("-") && !cur.Is("~") {
			break
		}
		p.stream.Next()
		right, err := p.parseMath2()
		if err != nil {
			return nil, err
		}
		// "~" shares this level with + and -; a run of ~ extends one Concat.
		if cur.Value == "~" {
			if c, ok := left.(*nodes.Concat); ok {
				c.Nodes = append(c.Nodes, right)
				continue
			}
			concat := &nodes.Concat{Nodes: []nodes.Expr{left, right}}
			concat.Pos = p.pos(tok)
			left = concat
			continue
		}
		b := &nodes.Binary{Op: cur.Value, Left: left, Right: right}
		b.Pos = p.pos(tok)
		left = b
	}
	return left, nil
}

func (p *Parser) parseConcat() (nodes.Expr, error) {
	tok := p.stream.Current()
	first, err := p.parseMath2()
	if err != nil {
		return nil, err
	}
	if !p.stream.Current().Is("~") {
		return first, nil
	}
	parts := []nodes.Expr{first}
	for p.stream.SkipIf("~") {
		next, err := p.parseMath2()
		if err != nil {
			return nil, err
		}
		parts = append(parts, next)
	}
	concat := &nodes.Concat{Nodes: parts}
	concat.Pos = p.pos(tok)
	return concat, nil
}

func (p *Parser) parseMath2() (nodes.Expr, error) {
	tok := p.stream.Current()
	left, err := p.parsePow()
	if err != nil {
		return nil, err
	}
	for {
		cur := p.stream.Current()
		if !cur.Is("*") && !cur.Is("/") && !cur.Is("//") && !cur.Is("%") {
			break
		}
		p.stream.Next()
		right, err := p.parsePow()
		if err != nil {
			return nil, err
		}
		b := &nodes.Binary{Op: cur.Value, Left: left, Right: right}
		b.Pos = p.pos(tok)
		left = b
	}
	return left, nil
}

// parsePow parses the right-associative ** operator.
func (p *Parser) parsePow() (nodes.Expr, error) {
	tok := p.stream.Current()
	left, err := p.parseUnary(true)
	if err != nil {
		return nil, err
	}
	if !p.stream.Current().Is("**") {
		return left, nil
	}
	p.stream.Next()
	right, err := p.parsePow()
	if err != nil {
		return nil, err
	}
	b := &nodes.Binary{Op: "**", Left: left, Right: right}
	b.Pos = p.pos(tok)
	return b, nil
}

// parseUnary parses prefix +/- and the primary with its postfix operators.
// Filters and tests attach here unless the caller is itself building a unary
// operand.
func (p *Parser) parseUnary(withFilter bool) (nodes.Expr, error) {
	tok := p.stream.Current()
	var node nodes.Expr
	var err error

	switch {
	case tok.Is("-"), tok.Is("+"):
		p.stream.Next()
		operand, err := p.parseUnary(false)
		if err != nil {
			return nil, err
		}
		// ** binds tighter than a prefix sign: -a ** b is -(a ** b).
		if p.stream.Current().Is("**") {
			p.stream.Next()
			exponent, err := p.parsePow()
			if err != nil {
				return nil, err
			}
			pow := &nodes.Binary{Op: "**", Left: operand, Right: exponent}
			pow.Pos = operand.Position()
			operand = pow
		}
		u := &nodes.Unary{Op: tok.Value, Node: operand}
		u.Pos = p.pos(tok)
		node = nodes.Expr(u)
	default:
		node, err = p.parsePrimary()
		if err != nil {
			return nil, err
		}
	}

	node, err = p.parsePostfix(node)
	if err != nil {
		return nil, err
	}
	if withFilter {
		return p.parseFilterExpr(node)
	}
	return node, nil
}

// parsePrimary parses literals, names and bracketed constructs.
func (p *Parser) parsePrimary() (nodes.Expr, error) {
	tok := p.stream.Current()
	switch tok.Type {
	case lexer.TokenName:
		p.stream.Next()
		switch tok.Value {
		case "true", "True":
			c := &nodes.Const{Value: true}
			c.Pos = p.pos(tok)
			return c, nil
		case "false", "False":
			c := &nodes.Const{Value: false}
			c.Pos = p.pos(tok)
			return c, nil
		case "none", "None", "null":
			c := &nodes.Const{Value: nil}
			c.Pos = p.pos(tok)
			return c, nil
		}
		n := &nodes.Name{Name: tok.Value}
		n.Pos = p.pos(tok)
		return n, nil

	case lexer.TokenString:
		p.stream.Next()
		var b strings.Builder
		b.WriteString(tok.Value)
		// Adjacent string literals concatenate.
		for p.stream.Current().Type == lexer.TokenString {
			b.WriteString(p.stream.Next().Value)
		}
		c := &nodes.Const{Value: b.String()}
		c.Pos = p.pos(tok)
		return c, nil

	case lexer.TokenInteger:
		p.stream.Next()
		v, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, p.errf(tok, "invalid integer literal %q", tok.Value)
		}
		c := &nodes.Const{Value: v}
		c.Pos = p.pos(tok)
		return c, nil

	case lexer.TokenFloat:
		p.stream.Next()
		v, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errf(tok, "invalid float literal %q", tok.Value)
		}
		c := &nodes.Const{Value: v}
		c.Pos = p.pos(tok)
		return c, nil

	case lexer.TokenOperator:
		switch tok.Value {
		case "(":
			p.stream.Next()
			expr, err := p.parseTuple(true)
			if err != nil {
				return nil, err
			}
			if _, err := p.stream.ExpectOperator(")"); err != nil {
				return nil, p.errf(p.stream.Current(), "%s", err)
			}
			return expr, nil
		case "[":
			return p.parseList()
		case "{":
			return p.parseDict()
		}
	}
	return nil, p.errf(tok, "unexpected token %s", tok)
}

func (p *Parser) parseList() (nodes.Expr, error) {
	tok, err := p.stream.ExpectOperator("[")
	if err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	list := &nodes.List{}
	list.Pos = p.pos(tok)
	for !p.stream.Current().Is("]") {
		if len(list.Items) > 0 {
			if _, err := p.stream.ExpectOperator(","); err != nil {
				return nil, p.errf(p.stream.Current(), "%s", err)
			}
			if p.stream.Current().Is("]") {
				break
			}
		}
		item, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, item)
	}
	if _, err := p.stream.ExpectOperator("]"); err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	return list, nil
}

func (p *Parser) parseDict() (nodes.Expr, error) {
	tok, err := p.stream.ExpectOperator("{")
	if err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	dict := &nodes.Dict{}
	dict.Pos = p.pos(tok)
	for !p.stream.Current().Is("}") {
		if len(dict.Pairs) > 0 {
			if _, err := p.stream.ExpectOperator(","); err != nil {
				return nil, p.errf(p.stream.Current(), "%s", err)
			}
			if p.stream.Current().Is("}") {
				break
			}
		}
		key, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.stream.ExpectOperator(":"); err != nil {
			return nil, p.errf(p.stream.Current(), "%s", err)
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		dict.Pairs = append(dict.Pairs, nodes.Pair{Key: key, Value: value})
	}
	if _, err := p.stream.ExpectOperator("}"); err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	return dict, nil
}

// parsePostfix attaches attribute access, subscripts and calls.
func (p *Parser) parsePostfix(node nodes.Expr) (nodes.Expr, error) {
	for {
		tok := p.stream.Current()
		switch {
		case tok.Is("."):
			p.stream.Next()
			attrTok := p.stream.Current()
			switch attrTok.Type {
			case lexer.TokenName:
				p.stream.Next()
				g := &nodes.Getattr{Node: node, Attr: attrTok.Value}
				g.Pos = p.pos(tok)
				node = g
			case lexer.TokenInteger:
				p.stream.Next()
				idx := &nodes.Const{Value: mustParseInt(attrTok.Value)}
				idx.Pos = p.pos(attrTok)
				g := &nodes.Getitem{Node: node, Index: idx}
				g.Pos = p.pos(tok)
				node = g
			default:
				return nil, p.errf(attrTok, "expected name or number after '.', got %s", attrTok)
			}

		case tok.Is("["):
			p.stream.Next()
			index, err := p.parseSubscript()
			if err != nil {
				return nil, err
			}
			if _, err := p.stream.ExpectOperator("]"); err != nil {
				return nil, p.errf(p.stream.Current(), "%s", err)
			}
			g := &nodes.Getitem{Node: node, Index: index}
			g.Pos = p.pos(tok)
			node = g

		case tok.Is("("):
			call, err := p.parseCallArgs(node)
			if err != nil {
				return nil, err
			}
			node = call

		default:
			return node, nil
		}
	}
}

// parseSubscript parses the interior of [...] including slice syntax.
func (p *Parser) parseSubscript() (nodes.Expr, error) {
	tok := p.stream.Current()
	var start nodes.Expr
	var err error
	if !tok.Is(":") {
		start, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if !p.stream.Current().Is(":") {
		if start == nil {
			return nil, p.errf(tok, "expected subscript expression")
		}
		return start, nil
	}

	p.stream.Next()
	slice := &nodes.Slice{Start: start}
	slice.Pos = p.pos(tok)
	if cur := p.stream.Current(); !cur.Is("]") && !cur.Is(":") {
		slice.Stop, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if p.stream.SkipIf(":") {
		if cur := p.stream.Current(); !cur.Is("]") {
			slice.Step, err = p.parseExpression()
			if err != nil {
				return nil, err
			}
		}
	}
	return slice, nil
}

// parseCallArgs parses "(...)" after a callable expression.
func (p *Parser) parseCallArgs(target nodes.Expr) (*nodes.Call, error) {
	tok, err := p.stream.ExpectOperator("(")
	if err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	call := &nodes.Call{Node: target}
	call.Pos = p.pos(tok)

	needComma := false
	for !p.stream.Current().Is(")") {
		if needComma {
			if _, err := p.stream.ExpectOperator(","); err != nil {
				return nil, p.errf(p.stream.Current(), "%s", err)
			}
			if p.stream.Current().Is(")") {
				break
			}
		}
		cur := p.stream.Current()
		switch {
		case cur.Is("**"):
			p.stream.Next()
			call.DynKwargs, err = p.parseExpression()
			if err != nil {
				return nil, err
			}
		case cur.Is("*"):
			p.stream.Next()
			call.DynArgs, err = p.parseExpression()
			if err != nil {
				return nil, err
			}
		case cur.Type == lexer.TokenName && p.stream.Look(1).Is("="):
			p.stream.Next()
			p.stream.Next()
			value, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			call.Kwargs = append(call.Kwargs, nodes.Keyword{Key: cur.Value, Value: value})
		default:
			if len(call.Kwargs) > 0 || call.DynArgs != nil || call.DynKwargs != nil {
				return nil, p.errf(cur, "positional argument after keyword argument")
			}
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
		}
		needComma = true
	}
	if _, err := p.stream.ExpectOperator(")"); err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	return call, nil
}

// parseFilterExpr attaches filter pipes and is-tests to a parsed value.
func (p *Parser) parseFilterExpr(node nodes.Expr) (nodes.Expr, error) {
	for {
		tok := p.stream.Current()
		switch {
		case tok.Is("|"):
			p.stream.Next()
			filtered, err := p.parseFilter(node)
			if err != nil {
				return nil, err
			}
			node = filtered
		case tok.IsName("is"):
			p.stream.Next()
			tested, err := p.parseTest(node)
			if err != nil {
				return nil, err
			}
			node = tested
		default:
			return node, nil
		}
	}
}

// parseFilter parses one filter segment after "|". The value may be nil for
// filter blocks.
func (p *Parser) parseFilter(value nodes.Expr) (*nodes.Filter, error) {
	nameTok, err := p.stream.Expect(lexer.TokenName)
	if err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	name := nameTok.Value
	// Dotted filter names (e.g. map.attr style extensions) concatenate.
	for p.stream.Current().Is(".") {
		p.stream.Next()
		part, err := p.stream.Expect(lexer.TokenName)
		if err != nil {
			return nil, p.errf(p.stream.Current(), "%s", err)
		}
		name += "." + part.Value
	}

	f := &nodes.Filter{Node: value, Name: name}
	f.Pos = p.pos(nameTok)
	if p.stream.Current().Is("(") {
		call, err := p.parseCallArgs(nil)
		if err != nil {
			return nil, err
		}
		f.Args = call.Args
		f.Kwargs = call.Kwargs
	}
	return f, nil
}

// parseFilterChain parses "name(...) | name(...) ..." for filter and set
// blocks, returning the outermost filter.
func (p *Parser) parseFilterChain() (*nodes.Filter, error) {
	f, err := p.parseFilter(nil)
	if err != nil {
		return nil, err
	}
	for p.stream.SkipIf("|") {
		outer, err := p.parseFilter(f)
		if err != nil {
			return nil, err
		}
		f = outer
	}
	return f, nil
}

// parseTest parses the name and arguments after "is" / "is not".
func (p *Parser) parseTest(value nodes.Expr) (nodes.Expr, error) {
	tok := p.stream.Current()
	negated := false
	if p.stream.SkipIfName("not") {
		negated = true
	}

	var name string
	cur := p.stream.Current()
	switch {
	case cur.Type == lexer.TokenName:
		p.stream.Next()
		name = cur.Value
	case cur.Type == lexer.TokenOperator && compareOperators[cur.Value]:
		// operator aliases: x is ==(1)
		p.stream.Next()
		name = cur.Value
	default:
		return nil, p.errf(cur, "expected test name, got %s", cur)
	}

	test := &nodes.Test{Node: value, Name: name, Negated: negated}
	test.Pos = p.pos(tok)

	if p.stream.Current().Is("(") {
		call, err := p.parseCallArgs(nil)
		if err != nil {
			return nil, err
		}
		test.Args = call.Args
		test.Kwargs = call.Kwargs
	} else if p.testAcceptsBareArg() {
		arg, err := p.parseMath1()
		if err != nil {
			return nil, err
		}
		test.Args = []nodes.Expr{arg}
	}
	return test, nil
}

// testAcceptsBareArg reports whether the next token begins a parenless test
// argument, e.g. `x is divisibleby 3`.
func (p *Parser) testAcceptsBareArg() bool {
	tok := p.stream.Current()
	switch tok.Type {
	case lexer.TokenString, lexer.TokenInteger, lexer.TokenFloat:
		return true
	case lexer.TokenName:
		switch tok.Value {
		case "true", "True", "false", "False", "none", "None", "null":
			return true
		// Names that continue the surrounding expression do not start an
		// argument.
		case "and", "or", "not", "in", "is", "if", "else", "recursive":
			return false
		}
		return true
	case lexer.TokenOperator:
		return tok.Value == "[" || tok.Value == "{"
	}
	return false
}

func mustParseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
