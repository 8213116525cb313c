package runtime

import "strings"

// Markup is a string that is already escaped for the active output format.
// Escaping a Markup value is the identity; concatenating Markup with plain
// text escapes only the plain part.
type Markup string

// HTMLer is the host hook that takes precedence over stringification: values
// implementing it supply their own trusted markup.
type HTMLer interface {
	HTML() string
}

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&#39;",
	`"`, "&#34;",
)

// EscapeString HTML-escapes the five significant characters.
func EscapeString(s string) string {
	return htmlReplacer.Replace(s)
}

// Escape converts a value to Markup, escaping unless it is already safe.
func Escape(v any) Markup {
	switch t := v.(type) {
	case Markup:
		return t
	case HTMLer:
		return Markup(t.HTML())
	case string:
		return Markup(EscapeString(t))
	default:
		return Markup(EscapeString(str(v)))
	}
}

// ForceEscape escapes even values tagged safe.
func ForceEscape(v any) Markup {
	return Markup(EscapeString(str(v)))
}

// softStr stringifies without dropping a safe tag: Markup stays Markup.
func softStr(v any) any {
	switch t := v.(type) {
	case Markup:
		return t
	case HTMLer:
		return Markup(t.HTML())
	case string:
		return t
	default:
		return str(v)
	}
}

func isSafe(v any) bool {
	switch v.(type) {
	case Markup, HTMLer:
		return true
	}
	return false
}
