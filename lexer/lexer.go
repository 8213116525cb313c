package lexer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Delimiters configures the tag markers recognized by the lexer.
type Delimiters struct {
	BlockStart    string
	BlockEnd      string
	VariableStart string
	VariableEnd   string
	CommentStart  string
	CommentEnd    string

	// LineStatement and LineComment are optional per-line prefixes. Empty
	// values disable them.
	LineStatement string
	LineComment   string
}

// DefaultDelimiters returns the standard Jinja delimiter set.
func DefaultDelimiters() Delimiters {
	return Delimiters{
		BlockStart:    "{%",
		BlockEnd:      "%}",
		VariableStart: "{{",
		VariableEnd:   "}}",
		CommentStart:  "{#",
		CommentEnd:    "#}",
	}
}

// Config holds the lexer settings derived from the environment.
type Config struct {
	Delimiters          Delimiters
	TrimBlocks          bool
	LstripBlocks        bool
	KeepTrailingNewline bool
	NewlineSequence     string
}

// DefaultConfig returns the lexer defaults used by a fresh environment.
func DefaultConfig() Config {
	return Config{
		Delimiters:      DefaultDelimiters(),
		NewlineSequence: "\n",
	}
}

// Error is a lexing failure with source position information.
type Error struct {
	Message string
	Line    int
	Name    string
}

func (e *Error) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s (line %d in %s)", e.Message, e.Line, e.Name)
	}
	return fmt.Sprintf("%s (line %d)", e.Message, e.Line)
}

// Lexer turns template source into a token stream.
type Lexer struct {
	cfg    Config
	rawEnd *regexp.Regexp
}

// New creates a lexer for the given configuration.
func New(cfg Config) *Lexer {
	if cfg.Delimiters.BlockStart == "" {
		cfg.Delimiters = DefaultDelimiters()
	}
	if cfg.NewlineSequence == "" {
		cfg.NewlineSequence = "\n"
	}
	rawEnd := regexp.MustCompile(
		regexp.QuoteMeta(cfg.Delimiters.BlockStart) +
			`([-+]?)\s*endraw\s*([-+]?)` +
			regexp.QuoteMeta(cfg.Delimiters.BlockEnd))
	return &Lexer{cfg: cfg, rawEnd: rawEnd}
}

// Config returns the lexer configuration.
func (l *Lexer) Config() Config { return l.cfg }

// Tokenize scans the full source and returns a stream over its tokens. The
// first lexical error aborts the scan.
func (l *Lexer) Tokenize(source, name string) (*Stream, error) {
	sc := &scanner{
		lx:   l,
		cfg:  l.cfg,
		src:  normalizeNewlines(source),
		name: name,
	}
	if !l.cfg.KeepTrailingNewline {
		sc.src = strings.TrimSuffix(sc.src, "\n")
	}
	if err := sc.run(); err != nil {
		return nil, err
	}
	return NewStream(sc.tokens, name), nil
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// headStrip describes the pending trim applied to the next data run.
type headStrip int

const (
	stripNothing headStrip = iota
	stripOneNewline
	stripAllWhitespace
)

type delimKind int

const (
	kindNone delimKind = iota
	kindVariable
	kindBlock
	kindComment
	kindLineStatement
	kindLineComment
)

type delimMatch struct {
	kind     delimKind
	dataEnd  int // end of the preceding data run
	tagStart int // start of the delimiter or line prefix
}

type scanner struct {
	lx     *Lexer
	cfg    Config
	src    string
	name   string
	pos    int
	tokens []Token

	pending headStrip
}

func (sc *scanner) run() error {
	for sc.pos < len(sc.src) {
		m := sc.findNext()
		if m.kind == kindNone {
			sc.emitData(sc.src[sc.pos:], sc.pos, false)
			sc.pos = len(sc.src)
			break
		}

		data := sc.src[sc.pos:m.dataEnd]
		dataStart := sc.pos
		sc.pos = m.tagStart

		var err error
		switch m.kind {
		case kindVariable:
			err = sc.scanTag(data, dataStart, kindVariable)
		case kindBlock:
			err = sc.scanTag(data, dataStart, kindBlock)
		case kindComment:
			err = sc.scanComment(data, dataStart)
		case kindLineStatement:
			sc.emitData(data, dataStart, false)
			err = sc.scanLineStatement()
		case kindLineComment:
			sc.emitData(data, dataStart, false)
			sc.skipLineComment()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// findNext locates the earliest tag opening at or after the cursor.
func (sc *scanner) findNext() delimMatch {
	d := sc.cfg.Delimiters
	best := delimMatch{kind: kindNone, dataEnd: -1}

	consider := func(kind delimKind, dataEnd, tagStart int) {
		if dataEnd < 0 {
			return
		}
		if best.kind == kindNone || dataEnd < best.dataEnd {
			best = delimMatch{kind: kind, dataEnd: dataEnd, tagStart: tagStart}
		}
	}

	rest := sc.src[sc.pos:]
	// Comment before block before variable so that delimiters sharing a
	// prefix resolve to the longest meaningful tag.
	if i := strings.Index(rest, d.CommentStart); i >= 0 {
		consider(kindComment, sc.pos+i, sc.pos+i)
	}
	if i := strings.Index(rest, d.BlockStart); i >= 0 {
		consider(kindBlock, sc.pos+i, sc.pos+i)
	}
	if i := strings.Index(rest, d.VariableStart); i >= 0 {
		consider(kindVariable, sc.pos+i, sc.pos+i)
	}

	if d.LineStatement != "" || d.LineComment != "" {
		if ls, tag, kind := sc.findLinePrefix(); kind != kindNone {
			consider(kind, ls, tag)
		}
	}
	return best
}

// findLinePrefix scans line starts for a line statement or comment prefix.
// Only whitespace may precede the prefix on its line.
func (sc *scanner) findLinePrefix() (lineStart, tagStart int, kind delimKind) {
	d := sc.cfg.Delimiters
	ls := sc.pos
	if !(ls == 0 || sc.src[ls-1] == '\n') {
		next := strings.IndexByte(sc.src[ls:], '\n')
		if next < 0 {
			return 0, 0, kindNone
		}
		ls += next + 1
	}
	for ls <= len(sc.src) {
		j := ls
		for j < len(sc.src) && (sc.src[j] == ' ' || sc.src[j] == '\t') {
			j++
		}
		// A line comment prefix that extends a statement prefix wins.
		if d.LineComment != "" && strings.HasPrefix(sc.src[j:], d.LineComment) &&
			(d.LineStatement == "" || len(d.LineComment) >= len(d.LineStatement) || !strings.HasPrefix(sc.src[j:], d.LineStatement)) {
			return ls, j, kindLineComment
		}
		if d.LineStatement != "" && strings.HasPrefix(sc.src[j:], d.LineStatement) {
			return ls, j, kindLineStatement
		}
		next := strings.IndexByte(sc.src[ls:], '\n')
		if next < 0 {
			return 0, 0, kindNone
		}
		ls += next + 1
	}
	return 0, 0, kindNone
}

// emitData appends a data token after applying the pending head strip and,
// when requested, a tail strip for a '-' marker on the following tag.
func (sc *scanner) emitData(data string, start int, tailStrip bool) {
	switch sc.pending {
	case stripOneNewline:
		data = strings.TrimPrefix(data, "\n")
	case stripAllWhitespace:
		data = strings.TrimLeft(data, " \t\n\v\f")
	}
	sc.pending = stripNothing
	if tailStrip {
		data = strings.TrimRight(data, " \t\n\v\f")
	}
	if data == "" {
		return
	}
	line, col := sc.position(start)
	sc.tokens = append(sc.tokens, Token{Type: TokenData, Value: data, Line: line, Column: col})
}

// lstripAllowed reports whether only spaces and tabs sit between the start of
// the tag's line and the tag itself, which is the precondition for
// lstrip_blocks to strip them.
func (sc *scanner) lstripAllowed(tagStart int) bool {
	i := strings.LastIndexByte(sc.src[:tagStart], '\n')
	return strings.TrimLeft(sc.src[i+1:tagStart], " \t") == ""
}

func (sc *scanner) position(pos int) (line, col int) {
	line = 1 + strings.Count(sc.src[:pos], "\n")
	if i := strings.LastIndexByte(sc.src[:pos], '\n'); i >= 0 {
		col = utf8.RuneCountInString(sc.src[i+1:pos]) + 1
	} else {
		col = utf8.RuneCountInString(sc.src[:pos]) + 1
	}
	return line, col
}

func (sc *scanner) errf(pos int, format string, args ...any) error {
	line, _ := sc.position(pos)
	return &Error{Message: fmt.Sprintf(format, args...), Line: line, Name: sc.name}
}

// scanTag lexes a {{ ... }} or {% ... %} region including its delimiters.
// The preceding data run is emitted here because the opening marker decides
// its tail stripping.
func (sc *scanner) scanTag(data string, dataStart int, kind delimKind) error {
	d := sc.cfg.Delimiters
	open := d.VariableStart
	if kind == kindBlock {
		open = d.BlockStart
	}
	tagPos := sc.pos
	sc.pos += len(open)

	marker := sc.takeMarker()
	switch {
	case marker == '-':
		sc.emitData(data, dataStart, true)
	case marker == 0 && kind == kindBlock && sc.cfg.LstripBlocks && sc.lstripAllowed(tagPos):
		sc.emitData(strings.TrimRight(data, " \t"), dataStart, false)
	default:
		sc.emitData(data, dataStart, false)
	}

	if kind == kindBlock {
		if name, ok := sc.peekRawOpen(); ok {
			return sc.scanRaw(name)
		}
	}

	line, col := sc.position(tagPos)
	if kind == kindVariable {
		sc.tokens = append(sc.tokens, Token{Type: TokenVariableBegin, Value: open, Line: line, Column: col})
		return sc.scanTagBody(d.VariableEnd, TokenVariableEnd, false)
	}
	sc.tokens = append(sc.tokens, Token{Type: TokenBlockBegin, Value: open, Line: line, Column: col})
	return sc.scanTagBody(d.BlockEnd, TokenBlockEnd, true)
}

// takeMarker consumes a whitespace-control marker directly after an opening
// delimiter, returning '-', '+' or 0.
func (sc *scanner) takeMarker() byte {
	if sc.pos < len(sc.src) {
		if c := sc.src[sc.pos]; c == '-' || c == '+' {
			sc.pos++
			return c
		}
	}
	return 0
}

// peekRawOpen reports whether the tag under the cursor is `raw`; the cursor
// is left after the closing delimiter when it is.
func (sc *scanner) peekRawOpen() (string, bool) {
	d := sc.cfg.Delimiters
	j := sc.pos
	for j < len(sc.src) && isSpace(sc.src[j]) {
		j++
	}
	if !strings.HasPrefix(sc.src[j:], "raw") {
		return "", false
	}
	j += len("raw")
	if j < len(sc.src) && isNameByte(sc.src[j]) {
		return "", false
	}
	for j < len(sc.src) && isSpace(sc.src[j]) {
		j++
	}
	closeMarker := byte(0)
	if j < len(sc.src) && (sc.src[j] == '-' || sc.src[j] == '+') {
		closeMarker = sc.src[j]
		j++
	}
	if !strings.HasPrefix(sc.src[j:], d.BlockEnd) {
		return "", false
	}
	sc.pos = j + len(d.BlockEnd)
	if closeMarker == '-' {
		sc.pending = stripAllWhitespace
	} else if sc.cfg.TrimBlocks && closeMarker != '+' {
		sc.pending = stripOneNewline
	}
	return "raw", true
}

// scanRaw captures verbatim text up to the matching endraw tag as one data
// token.
func (sc *scanner) scanRaw(string) error {
	loc := sc.lx.rawEnd.FindStringSubmatchIndex(sc.src[sc.pos:])
	if loc == nil {
		return sc.errf(sc.pos, "unexpected end of template: missing {%% endraw %%} tag")
	}
	interior := sc.src[sc.pos : sc.pos+loc[0]]
	openMark := sc.src[sc.pos+loc[2]:sc.pos+loc[3]]
	closeMark := sc.src[sc.pos+loc[4]:sc.pos+loc[5]]
	start := sc.pos
	sc.pos += loc[1]

	sc.emitData(interior, start, openMark == "-")
	if closeMark == "-" {
		sc.pending = stripAllWhitespace
	} else if sc.cfg.TrimBlocks && closeMark != "+" {
		sc.pending = stripOneNewline
	}
	return nil
}

// scanComment consumes a {# ... #} region, emitting nothing.
func (sc *scanner) scanComment(data string, dataStart int) error {
	d := sc.cfg.Delimiters
	commentPos := sc.pos
	sc.pos += len(d.CommentStart)
	marker := sc.takeMarker()
	switch {
	case marker == '-':
		sc.emitData(data, dataStart, true)
	case marker == 0 && sc.cfg.LstripBlocks && sc.lstripAllowed(commentPos):
		sc.emitData(strings.TrimRight(data, " \t"), dataStart, false)
	default:
		sc.emitData(data, dataStart, false)
	}

	end := strings.Index(sc.src[sc.pos:], d.CommentEnd)
	if end < 0 {
		return sc.errf(commentPos, "unexpected end of template: missing comment close tag")
	}
	closeMarker := byte(0)
	if end > 0 {
		if c := sc.src[sc.pos+end-1]; c == '-' || c == '+' {
			closeMarker = c
		}
	}
	sc.pos += end + len(d.CommentEnd)
	if closeMarker == '-' {
		sc.pending = stripAllWhitespace
	} else if sc.cfg.TrimBlocks && closeMarker != '+' {
		sc.pending = stripOneNewline
	}
	return nil
}

// scanTagBody tokenizes expression content until the closing delimiter.
func (sc *scanner) scanTagBody(end string, endType TokenType, isBlock bool) error {
	depth := 0
	for {
		for sc.pos < len(sc.src) && isSpace(sc.src[sc.pos]) {
			sc.pos++
		}
		if sc.pos >= len(sc.src) {
			return sc.errf(sc.pos, "unexpected end of template: missing %q", end)
		}

		if depth == 0 {
			if consumed, marker := sc.tryClose(end); consumed {
				line, col := sc.position(sc.pos - len(end))
				sc.tokens = append(sc.tokens, Token{Type: endType, Value: end, Line: line, Column: col})
				if marker == '-' {
					sc.pending = stripAllWhitespace
				} else if isBlock && sc.cfg.TrimBlocks && marker != '+' {
					sc.pending = stripOneNewline
				}
				return nil
			}
		}

		tok, err := sc.scanExprToken()
		if err != nil {
			return err
		}
		switch tok.Value {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			if tok.Type == TokenOperator {
				depth--
				if depth < 0 {
					return sc.errf(sc.pos, "unbalanced %q in expression", tok.Value)
				}
			}
		}
		sc.tokens = append(sc.tokens, tok)
	}
}

// tryClose consumes the closing delimiter (with an optional strip marker) if
// present at the cursor, returning the marker byte.
func (sc *scanner) tryClose(end string) (bool, byte) {
	if strings.HasPrefix(sc.src[sc.pos:], end) {
		sc.pos += len(end)
		return true, 0
	}
	if len(sc.src)-sc.pos > len(end) {
		if c := sc.src[sc.pos]; (c == '-' || c == '+') && strings.HasPrefix(sc.src[sc.pos+1:], end) {
			sc.pos += 1 + len(end)
			return true, c
		}
	}
	return false, 0
}

// scanLineStatement lexes a line statement: a block whose end is the line end.
func (sc *scanner) scanLineStatement() error {
	prefix := sc.cfg.Delimiters.LineStatement
	line, col := sc.position(sc.pos)
	sc.pos += len(prefix)
	sc.tokens = append(sc.tokens, Token{Type: TokenBlockBegin, Value: prefix, Line: line, Column: col})

	depth := 0
	for {
		for sc.pos < len(sc.src) && (sc.src[sc.pos] == ' ' || sc.src[sc.pos] == '\t') {
			sc.pos++
		}
		if sc.pos >= len(sc.src) || (sc.src[sc.pos] == '\n' && depth == 0) {
			endLine, endCol := sc.position(sc.pos)
			sc.tokens = append(sc.tokens, Token{Type: TokenBlockEnd, Value: "\n", Line: endLine, Column: endCol})
			if sc.pos < len(sc.src) {
				sc.pos++
			}
			return nil
		}
		if sc.src[sc.pos] == '\n' {
			sc.pos++
			continue
		}
		tok, err := sc.scanExprToken()
		if err != nil {
			return err
		}
		switch tok.Value {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			if tok.Type == TokenOperator && depth > 0 {
				depth--
			}
		}
		sc.tokens = append(sc.tokens, tok)
	}
}

func (sc *scanner) skipLineComment() {
	if i := strings.IndexByte(sc.src[sc.pos:], '\n'); i >= 0 {
		sc.pos += i + 1
	} else {
		sc.pos = len(sc.src)
	}
}

var operators = []string{
	"**", "//", "==", "!=", "<=", ">=",
	"+", "-", "*", "/", "%", "~",
	"(", ")", "[", "]", "{", "}",
	".", ":", "|", ",", ";", "<", ">", "=",
}

// scanExprToken lexes one token inside a tag. The cursor is known to sit on a
// non-space byte.
func (sc *scanner) scanExprToken() (Token, error) {
	line, col := sc.position(sc.pos)
	c := sc.src[sc.pos]

	switch {
	case c >= '0' && c <= '9':
		return sc.scanNumber(line, col)
	case c == '\'' || c == '"':
		return sc.scanString(line, col)
	case c == '.' && sc.pos+1 < len(sc.src) && isDigit(sc.src[sc.pos+1]):
		return sc.scanNumber(line, col)
	}

	r, size := utf8.DecodeRuneInString(sc.src[sc.pos:])
	if r == '_' || unicode.IsLetter(r) {
		start := sc.pos
		sc.pos += size
		for sc.pos < len(sc.src) {
			r, size = utf8.DecodeRuneInString(sc.src[sc.pos:])
			if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			sc.pos += size
		}
		return Token{Type: TokenName, Value: sc.src[start:sc.pos], Line: line, Column: col}, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(sc.src[sc.pos:], op) {
			sc.pos += len(op)
			return Token{Type: TokenOperator, Value: op, Line: line, Column: col}, nil
		}
	}
	return Token{}, sc.errf(sc.pos, "unexpected character %q in expression", r)
}

// scanNumber lexes an integer or float literal. Underscore group separators
// are accepted and dropped from the token value.
func (sc *scanner) scanNumber(line, col int) (Token, error) {
	start := sc.pos
	isFloat := false

	digits := func() {
		for sc.pos < len(sc.src) && (isDigit(sc.src[sc.pos]) || sc.src[sc.pos] == '_') {
			sc.pos++
		}
	}
	digits()
	if sc.pos < len(sc.src) && sc.src[sc.pos] == '.' && sc.pos+1 < len(sc.src) && isDigit(sc.src[sc.pos+1]) {
		isFloat = true
		sc.pos++
		digits()
	}
	if sc.pos < len(sc.src) && (sc.src[sc.pos] == 'e' || sc.src[sc.pos] == 'E') {
		j := sc.pos + 1
		if j < len(sc.src) && (sc.src[j] == '+' || sc.src[j] == '-') {
			j++
		}
		if j < len(sc.src) && isDigit(sc.src[j]) {
			isFloat = true
			sc.pos = j
			digits()
		}
	}

	value := strings.ReplaceAll(sc.src[start:sc.pos], "_", "")
	tt := TokenInteger
	if isFloat {
		tt = TokenFloat
	}
	return Token{Type: tt, Value: value, Line: line, Column: col}, nil
}

// scanString lexes a single- or double-quoted string literal with standard
// escape sequences.
func (sc *scanner) scanString(line, col int) (Token, error) {
	quote := sc.src[sc.pos]
	start := sc.pos
	sc.pos++
	var b strings.Builder
	for sc.pos < len(sc.src) {
		c := sc.src[sc.pos]
		switch c {
		case quote:
			sc.pos++
			return Token{Type: TokenString, Value: b.String(), Line: line, Column: col}, nil
		case '\\':
			if sc.pos+1 >= len(sc.src) {
				return Token{}, sc.errf(start, "unterminated string literal")
			}
			sc.pos++
			switch esc := sc.src[sc.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(esc)
			default:
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
			sc.pos++
		default:
			b.WriteByte(c)
			sc.pos++
		}
	}
	return Token{}, sc.errf(start, "unterminated string literal")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\v' || c == '\f'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNameByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
