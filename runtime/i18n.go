package runtime

import (
	"regexp"
	"strings"

	"github.com/ketju/ginja/nodes"
)

var transPlaceholder = regexp.MustCompile(`%\(([^)]+)\)s`)

// execTrans renders a translation block: the captured message goes through
// the gettext hooks and is then %-interpolated with the block's variables,
// re-escaping them when autoescape is active.
func (ev *evaluator) execTrans(t *nodes.Trans) error {
	params := make(map[string]any, len(t.Assignments))
	for _, kw := range t.Assignments {
		v, err := ev.evalExpr(kw.Value)
		if err != nil {
			return withPosition(err, ev.ctx.name, t.Position())
		}
		params[kw.Key] = v
	}

	singular := t.Singular
	plural := t.Plural
	if t.Trimmed || ev.env.policyBool(PolicyI18nTrimmed) {
		singular = trimMessage(singular)
		plural = trimMessage(plural)
	}

	// Referenced names that were not assigned resolve from the context.
	for _, message := range []string{singular, plural} {
		for _, match := range transPlaceholder.FindAllStringSubmatch(message, -1) {
			name := match[1]
			if _, ok := params[name]; ok {
				continue
			}
			if v, ok := ev.ctx.Resolve(name); ok {
				params[name] = v
			} else {
				params[name] = ev.undef(name, "", nil)
			}
		}
	}

	var message string
	if t.HasPlural {
		n, _ := asInt(params[t.CountName])
		if ev.env.ngettext != nil {
			message = ev.env.ngettext(singular, plural, n)
		} else if n == 1 {
			message = singular
		} else {
			message = plural
		}
	} else {
		if ev.env.gettext != nil {
			message = ev.env.gettext(singular)
		} else {
			message = singular
		}
	}

	out, err := interpolateMessage(message, params, ev.ctx.autoescape)
	if err != nil {
		return withPosition(err, ev.ctx.name, t.Position())
	}
	return ev.out.WriteString(out)
}

// trimMessage unifies whitespace the way the i18n trimmed policy asks:
// every run of whitespace collapses to a single space.
func trimMessage(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// interpolateMessage substitutes %(name)s placeholders and unescapes %%.
// Interpolated values are escaped when autoescape is on; the literal
// message text is trusted.
func interpolateMessage(message string, params map[string]any, autoescape bool) (string, error) {
	var b strings.Builder
	for i := 0; i < len(message); i++ {
		c := message[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(message) && message[i+1] == '%' {
			b.WriteByte('%')
			i++
			continue
		}
		if i+1 < len(message) && message[i+1] == '(' {
			end := strings.IndexByte(message[i:], ')')
			if end > 0 && i+end+1 < len(message) && message[i+end+1] == 's' {
				name := message[i+2 : i+end]
				v := params[name]
				if u, ok := isUndefined(v); ok {
					s, err := u.Str()
					if err != nil {
						return "", err
					}
					b.WriteString(s)
				} else if autoescape && !isSafe(v) {
					b.WriteString(EscapeString(str(v)))
				} else {
					b.WriteString(str(v))
				}
				i += end + 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}
