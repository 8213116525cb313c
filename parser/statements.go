package parser

import (
	"strings"

	"github.com/ketju/ginja/lexer"
	"github.com/ketju/ginja/nodes"
)

// parseStatement dispatches on the keyword following {%.
func (p *Parser) parseStatement() (nodes.Stmt, error) {
	if _, err := p.stream.Expect(lexer.TokenBlockBegin); err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	tok := p.stream.Current()
	if tok.Type != lexer.TokenName {
		return nil, p.errf(tok, "expected statement keyword, got %s", tok)
	}
	p.stream.Next()

	switch tok.Value {
	case "if":
		return p.parseIf(tok)
	case "for":
		return p.parseFor(tok)
	case "block":
		return p.parseBlockStmt(tok)
	case "extends":
		return p.parseExtends(tok)
	case "include":
		return p.parseInclude(tok)
	case "import":
		return p.parseImport(tok)
	case "from":
		return p.parseFromImport(tok)
	case "set":
		return p.parseSet(tok)
	case "macro":
		return p.parseMacro(tok)
	case "call":
		return p.parseCallBlock(tok)
	case "filter":
		return p.parseFilterBlock(tok)
	case "with":
		return p.parseWith(tok)
	case "autoescape":
		return p.parseAutoescape(tok)
	case "trans":
		return p.parseTrans(tok)
	case "do":
		return p.parseDo(tok)
	case "break":
		return p.parseLoopControl(tok, true)
	case "continue":
		return p.parseLoopControl(tok, false)
	}
	return nil, p.errf(tok, "unknown tag %q", tok.Value)
}

func (p *Parser) parseIf(tok lexer.Token) (nodes.Stmt, error) {
	stmt := &nodes.If{}
	stmt.Pos = p.pos(tok)
	node := stmt
	for {
		test, err := p.parseTupleNoCond()
		if err != nil {
			return nil, err
		}
		node.Test = test
		if err := p.expectBlockEnd(); err != nil {
			return nil, err
		}
		node.Body, err = p.subparse([]string{"elif", "else", "endif"})
		if err != nil {
			return nil, err
		}

		endTok := p.stream.Look(1)
		switch {
		case endTok.IsName("elif"):
			p.stream.Next()
			p.stream.Next()
			nested := &nodes.If{}
			nested.Pos = p.pos(endTok)
			node.Else = []nodes.Stmt{nested}
			node = nested
			continue
		case endTok.IsName("else"):
			p.stream.Next()
			p.stream.Next()
			if err := p.expectBlockEnd(); err != nil {
				return nil, err
			}
			node.Else, err = p.subparse([]string{"endif"})
			if err != nil {
				return nil, err
			}
		}
		if _, err := p.expectEndTag("endif"); err != nil {
			return nil, err
		}
		return stmt, p.expectBlockEnd()
	}
}

// parseTupleNoCond parses a tuple whose members stop before a bare "if",
// used for if tests and for-loop iterables.
func (p *Parser) parseTupleNoCond() (nodes.Expr, error) {
	return p.parseTuple(false)
}

func (p *Parser) parseFor(tok lexer.Token) (nodes.Stmt, error) {
	stmt := &nodes.For{}
	stmt.Pos = p.pos(tok)

	target, err := p.parseAssignTarget(true, false)
	if err != nil {
		return nil, err
	}
	stmt.Target = target

	if !p.stream.SkipIfName("in") {
		return nil, p.errf(p.stream.Current(), "expected 'in' in for statement")
	}
	stmt.Iter, err = p.parseTupleNoCond()
	if err != nil {
		return nil, err
	}
	if p.stream.SkipIfName("if") {
		stmt.Filter, err = p.parseOr()
		if err != nil {
			return nil, err
		}
	}
	if p.stream.SkipIfName("recursive") {
		stmt.Recursive = true
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	p.loopDepth++
	stmt.Body, err = p.subparse([]string{"endfor", "else"})
	p.loopDepth--
	if err != nil {
		return nil, err
	}

	if p.stream.Look(1).IsName("else") {
		p.stream.Next()
		p.stream.Next()
		if err := p.expectBlockEnd(); err != nil {
			return nil, err
		}
		stmt.Else, err = p.subparse([]string{"endfor"})
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expectEndTag("endfor"); err != nil {
		return nil, err
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseBlockStmt(tok lexer.Token) (nodes.Stmt, error) {
	nameTok, err := p.stream.Expect(lexer.TokenName)
	if err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	stmt := &nodes.Block{Name: nameTok.Value}
	stmt.Pos = p.pos(tok)

	if p.blockNames[stmt.Name] {
		return nil, p.assertf(nameTok, "block %q defined twice", stmt.Name)
	}
	p.blockNames[stmt.Name] = true

	for {
		switch {
		case p.stream.SkipIfName("scoped"):
			stmt.Scoped = true
			continue
		case p.stream.SkipIfName("required"):
			stmt.Required = true
			continue
		}
		break
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	stmt.Body, err = p.subparse([]string{"endblock"})
	if err != nil {
		return nil, err
	}
	if _, err := p.expectEndTag("endblock"); err != nil {
		return nil, err
	}
	// An endblock may repeat the block name; it must match.
	if trailing := p.stream.Current(); trailing.Type == lexer.TokenName {
		p.stream.Next()
		if trailing.Value != stmt.Name {
			return nil, p.errf(trailing, "endblock name %q does not match block %q", trailing.Value, stmt.Name)
		}
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseExtends(tok lexer.Token) (nodes.Stmt, error) {
	if p.seenExtends {
		return nil, p.assertf(tok, "extends may only be used once per template")
	}
	p.seenExtends = true

	template, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	stmt := &nodes.Extends{Template: template}
	stmt.Pos = p.pos(tok)
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseInclude(tok lexer.Token) (nodes.Stmt, error) {
	template, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	stmt := &nodes.Include{Template: template, WithContext: true}
	stmt.Pos = p.pos(tok)

	if p.stream.Current().IsName("ignore") && p.stream.Look(1).IsName("missing") {
		p.stream.Next()
		p.stream.Next()
		stmt.IgnoreMissing = true
	}
	var withContext bool
	var ok bool
	if withContext, ok, err = p.parseContextModifier(); err != nil {
		return nil, err
	} else if ok {
		stmt.WithContext = withContext
	}
	return stmt, p.expectBlockEnd()
}

// parseContextModifier consumes a trailing "with context" / "without
// context" and reports which one was present.
func (p *Parser) parseContextModifier() (withContext, present bool, err error) {
	cur := p.stream.Current()
	switch {
	case cur.IsName("with") && p.stream.Look(1).IsName("context"):
		p.stream.Next()
		p.stream.Next()
		return true, true, nil
	case cur.IsName("without"):
		p.stream.Next()
		if !p.stream.SkipIfName("context") {
			return false, false, p.errf(p.stream.Current(), "expected 'context' after 'without'")
		}
		return false, true, nil
	}
	return false, false, nil
}

func (p *Parser) parseImport(tok lexer.Token) (nodes.Stmt, error) {
	template, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.stream.SkipIfName("as") {
		return nil, p.errf(p.stream.Current(), "expected 'as' in import statement")
	}
	targetTok, err := p.stream.Expect(lexer.TokenName)
	if err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	stmt := &nodes.Import{Template: template, Target: targetTok.Value}
	stmt.Pos = p.pos(tok)

	if withContext, ok, err := p.parseContextModifier(); err != nil {
		return nil, err
	} else if ok {
		stmt.WithContext = withContext
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseFromImport(tok lexer.Token) (nodes.Stmt, error) {
	template, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if !p.stream.SkipIfName("import") {
		return nil, p.errf(p.stream.Current(), "expected 'import' in from statement")
	}
	stmt := &nodes.FromImport{Template: template}
	stmt.Pos = p.pos(tok)

	for {
		nameTok, err := p.stream.Expect(lexer.TokenName)
		if err != nil {
			return nil, p.errf(p.stream.Current(), "%s", err)
		}
		alias := nameTok.Value
		// "as" here is an alias marker unless it is itself the imported name.
		if p.stream.Current().IsName("as") && p.stream.Look(1).Type == lexer.TokenName {
			p.stream.Next()
			aliasTok := p.stream.Next()
			alias = aliasTok.Value
		}
		stmt.Names = append(stmt.Names, [2]string{nameTok.Value, alias})

		if !p.stream.SkipIf(",") {
			break
		}
		// A trailing comma may be followed by the context modifier or %}.
		if p.stream.Current().Type != lexer.TokenName {
			break
		}
		if cur := p.stream.Current(); (cur.IsName("with") || cur.IsName("without")) && p.stream.Look(1).IsName("context") {
			break
		}
	}
	if withContext, ok, err := p.parseContextModifier(); err != nil {
		return nil, err
	} else if ok {
		stmt.WithContext = withContext
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseSet(tok lexer.Token) (nodes.Stmt, error) {
	target, err := p.parseAssignTarget(true, true)
	if err != nil {
		return nil, err
	}

	if p.stream.SkipIf("=") {
		value, err := p.parseTuple(true)
		if err != nil {
			return nil, err
		}
		stmt := &nodes.Assign{Target: target, Node: value}
		stmt.Pos = p.pos(tok)
		return stmt, p.expectBlockEnd()
	}

	stmt := &nodes.AssignBlock{Target: target}
	stmt.Pos = p.pos(tok)
	if p.stream.SkipIf("|") {
		stmt.Filter, err = p.parseFilterChain()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}
	stmt.Body, err = p.subparse([]string{"endset"})
	if err != nil {
		return nil, err
	}
	if _, err := p.expectEndTag("endset"); err != nil {
		return nil, err
	}
	return stmt, p.expectBlockEnd()
}

// parseSignature parses "(name, name=default, ...)" for macros and call
// blocks. Defaults must trail required arguments.
func (p *Parser) parseSignature() (args []string, defaults []nodes.Expr, err error) {
	if _, err := p.stream.ExpectOperator("("); err != nil {
		return nil, nil, p.errf(p.stream.Current(), "%s", err)
	}
	for !p.stream.Current().Is(")") {
		if len(args) > 0 {
			if _, err := p.stream.ExpectOperator(","); err != nil {
				return nil, nil, p.errf(p.stream.Current(), "%s", err)
			}
			if p.stream.Current().Is(")") {
				break
			}
		}
		nameTok, err := p.stream.Expect(lexer.TokenName)
		if err != nil {
			return nil, nil, p.errf(p.stream.Current(), "%s", err)
		}
		if reservedTargets[nameTok.Value] {
			return nil, nil, p.assertf(nameTok, "cannot use reserved name %q as argument", nameTok.Value)
		}
		args = append(args, nameTok.Value)

		if p.stream.SkipIf("=") {
			def, err := p.parseExpression()
			if err != nil {
				return nil, nil, err
			}
			defaults = append(defaults, def)
		} else if len(defaults) > 0 {
			return nil, nil, p.assertf(nameTok, "non-default argument %q follows default argument", nameTok.Value)
		}
	}
	if _, err := p.stream.ExpectOperator(")"); err != nil {
		return nil, nil, p.errf(p.stream.Current(), "%s", err)
	}
	return args, defaults, nil
}

func (p *Parser) parseMacro(tok lexer.Token) (nodes.Stmt, error) {
	nameTok, err := p.stream.Expect(lexer.TokenName)
	if err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	stmt := &nodes.Macro{Name: nameTok.Value}
	stmt.Pos = p.pos(tok)

	stmt.Args, stmt.Defaults, err = p.parseSignature()
	if err != nil {
		return nil, err
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}
	stmt.Body, err = p.subparse([]string{"endmacro"})
	if err != nil {
		return nil, err
	}
	if _, err := p.expectEndTag("endmacro"); err != nil {
		return nil, err
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseCallBlock(tok lexer.Token) (nodes.Stmt, error) {
	stmt := &nodes.CallBlock{}
	stmt.Pos = p.pos(tok)

	var err error
	if p.stream.Current().Is("(") {
		stmt.Args, stmt.Defaults, err = p.parseSignature()
		if err != nil {
			return nil, err
		}
	}

	callExpr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	call, ok := callExpr.(*nodes.Call)
	if !ok {
		return nil, p.errf(tok, "expected call in call block")
	}
	stmt.Call = call

	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}
	stmt.Body, err = p.subparse([]string{"endcall"})
	if err != nil {
		return nil, err
	}
	if _, err := p.expectEndTag("endcall"); err != nil {
		return nil, err
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseFilterBlock(tok lexer.Token) (nodes.Stmt, error) {
	filter, err := p.parseFilterChain()
	if err != nil {
		return nil, err
	}
	stmt := &nodes.FilterBlock{Filter: filter}
	stmt.Pos = p.pos(tok)

	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}
	stmt.Body, err = p.subparse([]string{"endfilter"})
	if err != nil {
		return nil, err
	}
	if _, err := p.expectEndTag("endfilter"); err != nil {
		return nil, err
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseWith(tok lexer.Token) (nodes.Stmt, error) {
	stmt := &nodes.With{}
	stmt.Pos = p.pos(tok)

	for p.stream.Current().Type == lexer.TokenName {
		target, err := p.parseAssignTarget(false, false)
		if err != nil {
			return nil, err
		}
		if _, err := p.stream.ExpectOperator("="); err != nil {
			return nil, p.errf(p.stream.Current(), "%s", err)
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Targets = append(stmt.Targets, target)
		stmt.Values = append(stmt.Values, value)
		if !p.stream.SkipIf(",") {
			break
		}
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	var err error
	stmt.Body, err = p.subparse([]string{"endwith"})
	if err != nil {
		return nil, err
	}
	if _, err := p.expectEndTag("endwith"); err != nil {
		return nil, err
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseAutoescape(tok lexer.Token) (nodes.Stmt, error) {
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	stmt := &nodes.Autoescape{Value: value}
	stmt.Pos = p.pos(tok)

	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}
	stmt.Body, err = p.subparse([]string{"endautoescape"})
	if err != nil {
		return nil, err
	}
	if _, err := p.expectEndTag("endautoescape"); err != nil {
		return nil, err
	}
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseDo(tok lexer.Token) (nodes.Stmt, error) {
	expr, err := p.parseTuple(true)
	if err != nil {
		return nil, err
	}
	stmt := &nodes.Do{Node: expr}
	stmt.Pos = p.pos(tok)
	return stmt, p.expectBlockEnd()
}

func (p *Parser) parseLoopControl(tok lexer.Token, isBreak bool) (nodes.Stmt, error) {
	if !p.opts.LoopControls {
		return nil, p.errf(tok, "%q requires the loop controls extension", tok.Value)
	}
	if p.loopDepth == 0 {
		return nil, p.assertf(tok, "%q outside of loop", tok.Value)
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}
	if isBreak {
		stmt := &nodes.Break{}
		stmt.Pos = p.pos(tok)
		return stmt, nil
	}
	stmt := &nodes.Continue{}
	stmt.Pos = p.pos(tok)
	return stmt, nil
}

// parseTrans parses a translation block into singular/plural format strings
// with %(name)s placeholders.
func (p *Parser) parseTrans(tok lexer.Token) (nodes.Stmt, error) {
	stmt := &nodes.Trans{}
	stmt.Pos = p.pos(tok)

	for p.stream.Current().Type == lexer.TokenName {
		cur := p.stream.Current()
		if cur.IsName("trimmed") && !p.stream.Look(1).Is("=") {
			p.stream.Next()
			stmt.Trimmed = true
			continue
		}
		nameTok := p.stream.Next()
		if _, err := p.stream.ExpectOperator("="); err != nil {
			return nil, p.errf(p.stream.Current(), "%s", err)
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		stmt.Assignments = append(stmt.Assignments, nodes.Keyword{Key: nameTok.Value, Value: value})
		p.stream.SkipIf(",")
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	singular, referenced, err := p.parseTransBody([]string{"pluralize", "endtrans"})
	if err != nil {
		return nil, err
	}
	stmt.Singular = singular

	endTok := p.stream.Next() // the keyword matched by parseTransBody
	if endTok.IsName("pluralize") {
		if p.stream.Current().Type == lexer.TokenName {
			stmt.CountName = p.stream.Next().Value
		}
		if err := p.expectBlockEnd(); err != nil {
			return nil, err
		}
		plural, pluralRefs, err := p.parseTransBody([]string{"endtrans"})
		if err != nil {
			return nil, err
		}
		stmt.Plural = plural
		stmt.HasPlural = true
		referenced = append(referenced, pluralRefs...)
		endTok = p.stream.Next()
	}
	if !endTok.IsName("endtrans") {
		return nil, p.errf(endTok, "expected 'endtrans', got %s", endTok)
	}
	if err := p.expectBlockEnd(); err != nil {
		return nil, err
	}

	if stmt.CountName == "" && stmt.HasPlural {
		stmt.CountName = pickCountName(stmt.Assignments, referenced)
		if stmt.CountName == "" {
			return nil, p.assertf(tok, "pluralized trans block needs a count variable")
		}
	}
	return stmt, nil
}

// parseTransBody consumes data and simple {{ name }} references until a
// block tag whose keyword is in stop, leaving the stream after block_begin
// and on the keyword token.
func (p *Parser) parseTransBody(stop []string) (string, []string, error) {
	var b strings.Builder
	var referenced []string
	for {
		tok := p.stream.Current()
		switch tok.Type {
		case lexer.TokenData:
			p.stream.Next()
			b.WriteString(strings.ReplaceAll(tok.Value, "%", "%%"))

		case lexer.TokenVariableBegin:
			p.stream.Next()
			nameTok, err := p.stream.Expect(lexer.TokenName)
			if err != nil {
				return "", nil, p.errf(p.stream.Current(), "only simple variables are allowed inside trans blocks")
			}
			if _, err := p.stream.Expect(lexer.TokenVariableEnd); err != nil {
				return "", nil, p.errf(p.stream.Current(), "only simple variables are allowed inside trans blocks")
			}
			referenced = append(referenced, nameTok.Value)
			b.WriteString("%(" + nameTok.Value + ")s")

		case lexer.TokenBlockBegin:
			keyword := p.stream.Look(1)
			for _, s := range stop {
				if keyword.IsName(s) {
					p.stream.Next()
					return b.String(), referenced, nil
				}
			}
			return "", nil, p.errf(keyword, "unexpected tag %q inside trans block", keyword.Value)

		default:
			return "", nil, p.errf(tok, "unexpected end of template inside trans block")
		}
	}
}

func pickCountName(assignments []nodes.Keyword, referenced []string) string {
	for _, kw := range assignments {
		if kw.Key == "count" || kw.Key == "num" {
			return kw.Key
		}
	}
	for _, name := range referenced {
		if name == "count" || name == "num" {
			return name
		}
	}
	if len(assignments) > 0 {
		return assignments[0].Key
	}
	if len(referenced) > 0 {
		return referenced[0]
	}
	return ""
}
