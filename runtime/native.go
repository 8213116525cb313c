package runtime

import (
	"strconv"
	"strings"
	"unicode"
)

// nativeSink records output as a chunk list so a render can return a native
// value instead of text.
type nativeSink struct {
	chunks []any
}

func (s *nativeSink) WriteString(text string) error {
	if text != "" {
		s.chunks = append(s.chunks, text)
	}
	return nil
}

func (s *nativeSink) WriteValue(v any) error {
	s.chunks = append(s.chunks, v)
	return nil
}

// RenderNative executes the template and returns a native value: a single
// non-string chunk is returned unchanged; otherwise the stringified chunks
// concatenate and re-parse as a literal, falling back to the joined string.
func (t *Template) RenderNative(vars map[string]any) (any, error) {
	ctx := newContext(t.env, t, vars)
	sink := &nativeSink{}
	ev := newEvaluator(t.env, ctx, sink)
	ev.native = true
	if err := t.execute(ev); err != nil {
		return nil, err
	}

	switch len(sink.chunks) {
	case 0:
		return nil, nil
	case 1:
		if _, isStr := sink.chunks[0].(string); !isStr {
			return sink.chunks[0], nil
		}
	}

	var b strings.Builder
	for _, chunk := range sink.chunks {
		if u, ok := isUndefined(chunk); ok {
			s, err := u.Str()
			if err != nil {
				return nil, err
			}
			b.WriteString(s)
			continue
		}
		b.WriteString(str(chunk))
	}
	joined := b.String()
	if v, ok := parseLiteral(joined); ok {
		return v, nil
	}
	return joined, nil
}

// parseLiteral evaluates python-style literal syntax: numbers, strings,
// booleans, None, lists, tuples and dicts, with trailing commas allowed.
func parseLiteral(s string) (any, bool) {
	p := &literalParser{src: s}
	p.skipSpace()
	v, ok := p.value()
	if !ok {
		return nil, false
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, false
	}
	return v, true
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *literalParser) value() (any, bool) {
	if p.pos >= len(p.src) {
		return nil, false
	}
	switch c := p.src[p.pos]; {
	case c == '[':
		return p.sequence(']')
	case c == '(':
		return p.sequence(')')
	case c == '{':
		return p.mapping()
	case c == '\'' || c == '"':
		return p.string(c)
	case c == '-' || c == '+' || c >= '0' && c <= '9':
		return p.number()
	default:
		return p.word()
	}
}

func (p *literalParser) sequence(close byte) (any, bool) {
	p.pos++ // opening bracket
	var items []any
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, false
		}
		if p.src[p.pos] == close {
			p.pos++
			if items == nil {
				items = []any{}
			}
			return items, true
		}
		v, ok := p.value()
		if !ok {
			return nil, false
		}
		items = append(items, v)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.pos < len(p.src) && p.src[p.pos] == close {
			continue
		}
		return nil, false
	}
}

func (p *literalParser) mapping() (any, bool) {
	p.pos++ // '{'
	out := map[string]any{}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, false
		}
		if p.src[p.pos] == '}' {
			p.pos++
			return out, true
		}
		k, ok := p.value()
		if !ok {
			return nil, false
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ':' {
			return nil, false
		}
		p.pos++
		p.skipSpace()
		v, ok := p.value()
		if !ok {
			return nil, false
		}
		out[str(k)] = v
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.pos < len(p.src) && p.src[p.pos] == '}' {
			continue
		}
		return nil, false
	}
}

func (p *literalParser) string(quote byte) (any, bool) {
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case quote:
			p.pos++
			return b.String(), true
		case '\\':
			if p.pos+1 >= len(p.src) {
				return nil, false
			}
			p.pos++
			switch esc := p.src[p.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return nil, false
}

func (p *literalParser) number() (any, bool) {
	start := p.pos
	if c := p.src[p.pos]; c == '-' || c == '+' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
			p.pos++
			continue
		}
		if (c == '-' || c == '+') && isFloat &&
			(p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E') {
			p.pos++
			continue
		}
		break
	}
	text := p.src[start:p.pos]
	if text == "" || text == "-" || text == "+" {
		return nil, false
	}
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		return f, err == nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	return n, err == nil
}

func (p *literalParser) word() (any, bool) {
	rest := p.src[p.pos:]
	for _, w := range []struct {
		text  string
		value any
	}{
		{"True", true}, {"False", false}, {"None", nil},
		{"true", true}, {"false", false}, {"none", nil},
	} {
		if strings.HasPrefix(rest, w.text) {
			p.pos += len(w.text)
			return w.value, true
		}
	}
	return nil, false
}
