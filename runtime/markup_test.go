package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeString(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;&amp;&#39;&#34;", EscapeString(`<b>&'"`))
	assert.Equal(t, "plain", EscapeString("plain"))
}

func TestEscapeIdempotent(t *testing.T) {
	// escape(escape(x)) == escape(x) because Markup passes through.
	once := Escape("<x>")
	twice := Escape(once)
	assert.Equal(t, once, twice)
}

func TestSafeConcatLaws(t *testing.T) {
	// safe(x) ~ safe(y) == safe(x ++ y)
	out := render(t, "{{ a ~ b }}", map[string]any{
		"a": Markup("<b>"), "b": Markup("</b>"),
	})
	assert.Equal(t, "<b></b>", out)

	// escape(safe(x) ~ y) == safe(x ++ escape(y)) for plain y
	env := NewEnvironment(WithAutoescape(true))
	out = renderEnv(t, env, "{{ a ~ b }}", map[string]any{
		"a": Markup("<b>"), "b": "<i>",
	})
	assert.Equal(t, "<b>&lt;i&gt;", out)
}

func TestSafeStringAddition(t *testing.T) {
	out := render(t, "{{ a + b }}", map[string]any{
		"a": Markup("<b>"), "b": "<i>",
	})
	assert.Equal(t, "<b>&lt;i&gt;", out)
}

type htmlWidget struct{}

func (htmlWidget) HTML() string { return "<widget/>" }

func TestHTMLerHook(t *testing.T) {
	env := NewEnvironment(WithAutoescape(true))
	out := renderEnv(t, env, "{{ w }}", map[string]any{"w": htmlWidget{}})
	assert.Equal(t, "<widget/>", out)
}

func TestAutoescapeBoundary(t *testing.T) {
	// Spec scenario: plain strings escape, safe strings pass through.
	env := NewEnvironment(WithAutoescape(true))
	out := renderEnv(t, env, "{{ s }}|{{ t }}", map[string]any{
		"s": "<b>hi</b>",
		"t": Markup("<b>hi</b>"),
	})
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;|<b>hi</b>", out)
}

func TestAutoescapeOffByDefault(t *testing.T) {
	assert.Equal(t, "<b>", render(t, "{{ s }}", map[string]any{"s": "<b>"}))
}

func TestAutoescapeBlock(t *testing.T) {
	out := render(t, "{% autoescape true %}{{ s }}{% endautoescape %}|{{ s }}",
		map[string]any{"s": "<x>"})
	assert.Equal(t, "&lt;x&gt;|<x>", out)

	env := NewEnvironment(WithAutoescape(true))
	out = renderEnv(t, env, "{% autoescape false %}{{ s }}{% endautoescape %}|{{ s }}",
		map[string]any{"s": "<x>"})
	assert.Equal(t, "<x>|&lt;x&gt;", out)
}

func TestAutoescapeFunc(t *testing.T) {
	env := NewEnvironment(
		WithLoader(NewMapLoader(map[string]string{
			"page.html": "{{ s }}",
			"page.txt":  "{{ s }}",
		})),
		WithAutoescapeFunc(func(name string) bool {
			return len(name) > 5 && name[len(name)-5:] == ".html"
		}),
	)
	vars := map[string]any{"s": "<b>"}
	assert.Equal(t, "&lt;b&gt;", renderName(t, env, "page.html", vars))
	assert.Equal(t, "<b>", renderName(t, env, "page.txt", vars))
}

func TestLiteralTextNeverEscaped(t *testing.T) {
	env := NewEnvironment(WithAutoescape(true))
	assert.Equal(t, "<p>x</p>", renderEnv(t, env, "<p>x</p>", nil))
}

func TestSafeAndEscapeFilters(t *testing.T) {
	env := NewEnvironment(WithAutoescape(true))
	assert.Equal(t, "<b>", renderEnv(t, env, "{{ s|safe }}", map[string]any{"s": "<b>"}))
	assert.Equal(t, "&lt;b&gt;", render(t, "{{ s|escape }}", map[string]any{"s": "<b>"}))
	assert.Equal(t, "&lt;b&gt;", render(t, "{{ s|e }}", map[string]any{"s": "<b>"}))
}

func TestForceEscapeEscapesMarkup(t *testing.T) {
	out := render(t, "{{ s|forceescape }}", map[string]any{"s": Markup("<b>")})
	assert.Equal(t, "&lt;b&gt;", out)
}

func TestEscapeSafeFilterPreservesMarkup(t *testing.T) {
	env := NewEnvironment(WithAutoescape(true))
	out := renderEnv(t, env, "{{ s|upper }}", map[string]any{"s": Markup("<b>hi</b>")})
	assert.Equal(t, "<B>HI</B>", out)
}

func TestSlicingDropsSafeFlag(t *testing.T) {
	env := NewEnvironment(WithAutoescape(true))
	// Slicing could split an entity, so the result re-escapes.
	out := renderEnv(t, env, "{{ s[:4] }}", map[string]any{"s": Markup("<b>x</b>")})
	assert.Equal(t, "&lt;b&gt;x", out)
}

func TestMarkSafeInTemplate(t *testing.T) {
	env := NewEnvironment(WithAutoescape(true))
	out := renderEnv(t, env, `{{ "<br>"|safe }}`, nil)
	assert.Equal(t, "<br>", out)
}
