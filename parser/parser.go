// Package parser turns a token stream into the AST defined by package nodes.
// It is a recursive-descent parser with the usual Jinja precedence ladder for
// expressions and keyword dispatch for statements.
package parser

import (
	"fmt"

	"github.com/ketju/ginja/lexer"
	"github.com/ketju/ginja/nodes"
)

// SyntaxError is a compile-time template error with an exact source location.
type SyntaxError struct {
	Message  string
	Line     int
	Name     string
	Filename string
}

func (e *SyntaxError) Error() string {
	where := e.Name
	if e.Filename != "" {
		where = e.Filename
	}
	if where != "" {
		return fmt.Sprintf("%s (line %d in %s)", e.Message, e.Line, where)
	}
	return fmt.Sprintf("%s (line %d)", e.Message, e.Line)
}

// AssertionError is a semantic compile-time error: syntactically valid input
// that cannot mean anything (duplicate blocks, break outside a loop, ...).
type AssertionError struct {
	SyntaxError
}

// Options controls optional language surface.
type Options struct {
	// LoopControls enables {% break %} and {% continue %}.
	LoopControls bool
}

// Parser is the statement-level parser. One instance parses one template.
type Parser struct {
	stream   *lexer.Stream
	name     string
	filename string
	opts     Options

	seenExtends bool
	blockNames  map[string]bool
	loopDepth   int
}

// Parse tokenizes and parses source into a template AST.
func Parse(lx *lexer.Lexer, source, name, filename string, opts Options) (*nodes.Template, error) {
	stream, err := lx.Tokenize(source, name)
	if err != nil {
		return nil, toSyntaxError(err, name, filename)
	}
	p := &Parser{
		stream:     stream,
		name:       name,
		filename:   filename,
		opts:       opts,
		blockNames: make(map[string]bool),
	}
	body, err := p.subparse(nil)
	if err != nil {
		return nil, err
	}
	tpl := &nodes.Template{Name: name, Body: body}
	tpl.Pos = nodes.Position{Line: 1, Column: 1}
	return tpl, nil
}

func toSyntaxError(err error, name, filename string) error {
	if le, ok := err.(*lexer.Error); ok {
		return &SyntaxError{Message: le.Message, Line: le.Line, Name: name, Filename: filename}
	}
	return err
}

func (p *Parser) errf(tok lexer.Token, format string, args ...any) error {
	return &SyntaxError{
		Message:  fmt.Sprintf(format, args...),
		Line:     tok.Line,
		Name:     p.name,
		Filename: p.filename,
	}
}

func (p *Parser) assertf(tok lexer.Token, format string, args ...any) error {
	return &AssertionError{SyntaxError{
		Message:  fmt.Sprintf(format, args...),
		Line:     tok.Line,
		Name:     p.name,
		Filename: p.filename,
	}}
}

func (p *Parser) pos(tok lexer.Token) nodes.Position {
	return nodes.Position{Line: tok.Line, Column: tok.Column}
}

// subparse collects statements until EOF or until a block tag whose keyword
// is listed in endTags. The stream is left positioned on that block_begin
// token so the caller can consume the end tag itself.
func (p *Parser) subparse(endTags []string) ([]nodes.Stmt, error) {
	var body []nodes.Stmt
	for !p.stream.EOF() {
		tok := p.stream.Current()
		switch tok.Type {
		case lexer.TokenData:
			p.stream.Next()
			text := &nodes.Text{Data: tok.Value}
			text.Pos = p.pos(tok)
			body = append(body, text)

		case lexer.TokenVariableBegin:
			p.stream.Next()
			expr, err := p.parseTuple(true)
			if err != nil {
				return nil, err
			}
			if _, err := p.stream.Expect(lexer.TokenVariableEnd); err != nil {
				return nil, p.errf(p.stream.Current(), "%s", err)
			}
			out := &nodes.Output{Node: expr}
			out.Pos = p.pos(tok)
			body = append(body, out)

		case lexer.TokenBlockBegin:
			if len(endTags) > 0 {
				name := p.stream.Look(1)
				for _, end := range endTags {
					if name.IsName(end) {
						return body, nil
					}
				}
			}
			stmt, err := p.parseStatement()
			if err != nil {
				return nil, err
			}
			if stmt != nil {
				body = append(body, stmt)
			}

		default:
			return nil, p.errf(tok, "unexpected token %s", tok)
		}
	}
	if len(endTags) > 0 {
		return nil, p.errf(p.stream.Current(), "unexpected end of template, expected %v", endTags)
	}
	return body, nil
}

// expectBlockEnd consumes the %} closing the current statement tag.
func (p *Parser) expectBlockEnd() error {
	tok := p.stream.Current()
	if tok.Type != lexer.TokenBlockEnd {
		return p.errf(tok, "expected end of statement block, got %s", tok)
	}
	p.stream.Next()
	return nil
}

// expectEndTag consumes `{% endfoo ... %}` where the keyword has already been
// matched by subparse. Only the keyword token is returned; extra tokens
// before %} stay in the stream for the caller.
func (p *Parser) expectEndTag(keyword string) (lexer.Token, error) {
	if _, err := p.stream.Expect(lexer.TokenBlockBegin); err != nil {
		return lexer.Token{}, p.errf(p.stream.Current(), "%s", err)
	}
	tok := p.stream.Current()
	if !tok.IsName(keyword) {
		return lexer.Token{}, p.errf(tok, "expected %q, got %s", keyword, tok)
	}
	p.stream.Next()
	return tok, nil
}

var reservedTargets = map[string]bool{
	"true": true, "false": true, "none": true,
	"True": true, "False": true, "None": true,
}

// parseAssignTarget parses the left side of set/for/with. Namespace attribute
// targets (ns.attr) are allowed only when withNamespace is set.
func (p *Parser) parseAssignTarget(withTuple, withNamespace bool) (nodes.Expr, error) {
	tok := p.stream.Current()

	if withNamespace && tok.Type == lexer.TokenName && p.stream.Look(1).Is(".") {
		p.stream.Next()
		p.stream.Next()
		attr, err := p.stream.Expect(lexer.TokenName)
		if err != nil {
			return nil, p.errf(p.stream.Current(), "%s", err)
		}
		name := &nodes.Name{Name: tok.Value}
		name.Pos = p.pos(tok)
		target := &nodes.Getattr{Node: name, Attr: attr.Value}
		target.Pos = p.pos(tok)
		return target, nil
	}

	var target nodes.Expr
	var err error
	if withTuple {
		target, err = p.parseTargetTuple()
	} else {
		target, err = p.parseTargetName()
	}
	if err != nil {
		return nil, err
	}
	if !nodes.CanAssign(target) {
		return nil, p.assertf(tok, "cannot assign to expression")
	}
	for _, name := range nodes.TargetNames(target) {
		if reservedTargets[name] {
			return nil, p.assertf(tok, "cannot assign to reserved name %q", name)
		}
	}
	return target, nil
}

func (p *Parser) parseTargetName() (nodes.Expr, error) {
	tok, err := p.stream.Expect(lexer.TokenName)
	if err != nil {
		return nil, p.errf(p.stream.Current(), "%s", err)
	}
	name := &nodes.Name{Name: tok.Value}
	name.Pos = p.pos(tok)
	return name, nil
}

func (p *Parser) parseTargetTuple() (nodes.Expr, error) {
	tok := p.stream.Current()
	if tok.Is("(") {
		p.stream.Next()
		inner, err := p.parseTargetTuple()
		if err != nil {
			return nil, err
		}
		if _, err := p.stream.ExpectOperator(")"); err != nil {
			return nil, p.errf(p.stream.Current(), "%s", err)
		}
		return inner, nil
	}

	first, err := p.parseTargetName()
	if err != nil {
		return nil, err
	}
	if !p.stream.Current().Is(",") {
		return first, nil
	}
	items := []nodes.Expr{first}
	for p.stream.SkipIf(",") {
		cur := p.stream.Current()
		if cur.Type != lexer.TokenName {
			break
		}
		next, err := p.parseTargetName()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
	}
	tuple := &nodes.Tuple{Items: items}
	tuple.Pos = p.pos(tok)
	return tuple, nil
}
