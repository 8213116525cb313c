package runtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func upperGettext(message string) string {
	return strings.ToUpper(message)
}

func pickNgettext(singular, plural string, n int64) string {
	if n == 1 {
		return singular
	}
	return plural
}

func TestTransBasic(t *testing.T) {
	assert.Equal(t, "Hello!", render(t, "{% trans %}Hello!{% endtrans %}", nil))
}

func TestTransWithVariable(t *testing.T) {
	out := render(t, "{% trans user=name %}Hello {{ user }}!{% endtrans %}",
		map[string]any{"name": "jd"})
	assert.Equal(t, "Hello jd!", out)
}

func TestTransReferencesContext(t *testing.T) {
	out := render(t, "{% trans %}Hello {{ name }}!{% endtrans %}",
		map[string]any{"name": "jd"})
	assert.Equal(t, "Hello jd!", out)
}

func TestTransUsesGettextHook(t *testing.T) {
	env := NewEnvironment(WithGettext(upperGettext, pickNgettext))
	out := renderEnv(t, env, "{% trans %}hello{% endtrans %}", nil)
	assert.Equal(t, "HELLO", out)
}

func TestTransPluralize(t *testing.T) {
	env := NewEnvironment(WithGettext(nil, pickNgettext))
	tplSrc := "{% trans count=n %}{{ count }} item{% pluralize %}{{ count }} items{% endtrans %}"
	assert.Equal(t, "1 item", renderEnv(t, env, tplSrc, map[string]any{"n": 1}))
	assert.Equal(t, "3 items", renderEnv(t, env, tplSrc, map[string]any{"n": 3}))
}

func TestTransEscapesInterpolation(t *testing.T) {
	env := NewEnvironment(WithAutoescape(true))
	out := renderEnv(t, env, "{% trans user=name %}hi {{ user }}{% endtrans %}",
		map[string]any{"name": "<jd>"})
	assert.Equal(t, "hi &lt;jd&gt;", out)
}

func TestTransTrimmedModifier(t *testing.T) {
	out := render(t, "{% trans trimmed %}  spaced\n   out  {% endtrans %}", nil)
	assert.Equal(t, "spaced out", out)
}

func TestTransTrimmedPolicy(t *testing.T) {
	env := NewEnvironment(WithPolicy(PolicyI18nTrimmed, true))
	out := renderEnv(t, env, "{% trans %}  spaced\n   out  {% endtrans %}", nil)
	assert.Equal(t, "spaced out", out)
}

func TestTransPercentLiteral(t *testing.T) {
	assert.Equal(t, "100%", render(t, "{% trans %}100%{% endtrans %}", nil))
}

func TestGettextGlobals(t *testing.T) {
	env := NewEnvironment(WithGettext(upperGettext, pickNgettext))
	assert.Equal(t, "HI", renderEnv(t, env, "{{ _('hi') }}", nil))
	assert.Equal(t, "HI", renderEnv(t, env, "{{ gettext('hi') }}", nil))
	assert.Equal(t, "things", renderEnv(t, env, "{{ ngettext('thing', 'things', 2) }}", nil))
}
