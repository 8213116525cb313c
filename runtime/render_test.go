package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, source string, vars map[string]any) string {
	t.Helper()
	return renderEnv(t, NewEnvironment(), source, vars)
}

func renderEnv(t *testing.T, env *Environment, source string, vars map[string]any) string {
	t.Helper()
	tpl, err := env.FromString(source)
	require.NoError(t, err)
	out, err := tpl.Render(vars)
	require.NoError(t, err)
	return out
}

func TestBasicRendering(t *testing.T) {
	cases := []struct {
		name     string
		template string
		vars     map[string]any
		want     string
	}{
		{"plain text", "Hello World", nil, "Hello World"},
		{"variable", "Hello {{ name }}!", map[string]any{"name": "John Doe"}, "Hello John Doe!"},
		{"two variables", "{{ a }} {{ b }}", map[string]any{"a": "x", "b": "y"}, "x y"},
		{"integer math", "{{ x + y }}", map[string]any{"x": 4, "y": 2}, "6"},
		{"true division", "{{ 7 / 2 }}", nil, "3.5"},
		{"floor division", "{{ 7 // 2 }}", nil, "3"},
		{"modulo", "{{ 7 % 3 }}", nil, "1"},
		{"power", "{{ 2 ** 10 }}", nil, "1024"},
		{"string concat operator", "{{ 'a' ~ 1 ~ 'b' }}", nil, "a1b"},
		{"boolean output", "{{ 1 < 2 }}", nil, "True"},
		{"none output", "{{ none }}", nil, "None"},
		{"float output keeps decimal", "{{ 6 / 2 }}", nil, "3.0"},
		{"list output", "{{ [1, 'a'] }}", nil, "[1, 'a']"},
		{"conditional expression", "{{ 'y' if ok else 'n' }}", map[string]any{"ok": true}, "y"},
		{"comparison chain", "{{ 1 < x < 3 }}", map[string]any{"x": 2}, "True"},
		{"in operator", "{{ 2 in [1, 2] }}", nil, "True"},
		{"not in operator", "{{ 3 not in [1, 2] }}", nil, "True"},
		{"logic returns operand", "{{ 0 or 'fallback' }}", nil, "fallback"},
		{"attribute access", "{{ user.name }}", map[string]any{"user": map[string]any{"name": "jd"}}, "jd"},
		{"item access", "{{ user['name'] }}", map[string]any{"user": map[string]any{"name": "jd"}}, "jd"},
		{"negative index", "{{ items[-1] }}", map[string]any{"items": []any{1, 2, 3}}, "3"},
		{"slice", "{{ 'abcdef'[1:4] }}", nil, "bcd"},
		{"slice with step", "{{ 'abcdef'[::2] }}", nil, "ace"},
		{"tuple output", "{{ (1, 2) }}", nil, "[1, 2]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, render(t, tc.template, tc.vars))
		})
	}
}

func TestStructFieldAccess(t *testing.T) {
	type user struct {
		Name string
		Age  int
	}
	out := render(t, "{{ u.name }} is {{ u.age }}", map[string]any{"u": user{Name: "jd", Age: 40}})
	assert.Equal(t, "jd is 40", out)
}

func TestIfStatement(t *testing.T) {
	tpl := "{% if n > 10 %}big{% elif n > 5 %}medium{% else %}small{% endif %}"
	assert.Equal(t, "big", render(t, tpl, map[string]any{"n": 20}))
	assert.Equal(t, "medium", render(t, tpl, map[string]any{"n": 7}))
	assert.Equal(t, "small", render(t, tpl, map[string]any{"n": 1}))
}

func TestForLoop(t *testing.T) {
	out := render(t, "{% for x in items %}{{ x }},{% endfor %}",
		map[string]any{"items": []any{"a", "b", "c"}})
	assert.Equal(t, "a,b,c,", out)
}

func TestForElseOnEmpty(t *testing.T) {
	tpl := "{% for x in items %}{{ x }}{% else %}empty{% endfor %}"
	assert.Equal(t, "empty", render(t, tpl, map[string]any{"items": []any{}}))
	assert.Equal(t, "x", render(t, tpl, map[string]any{"items": []any{"x"}}))
}

func TestForLoopObject(t *testing.T) {
	// Spec scenario: index and length triggers.
	out := render(t, "{% for i in seq %}{{ loop.index }}/{{ loop.length }};{% endfor %}",
		map[string]any{"seq": []any{"a", "b", "c"}})
	assert.Equal(t, "1/3;2/3;3/3;", out)
}

func TestForLoopIndexes(t *testing.T) {
	out := render(t,
		"{% for x in seq %}{{ loop.index0 }}{{ loop.revindex }}{{ loop.first }}{{ loop.last }};{% endfor %}",
		map[string]any{"seq": []any{"a", "b"}})
	assert.Equal(t, "02TrueFalse;11FalseTrue;", out)
}

func TestForLoopPrevNext(t *testing.T) {
	out := render(t,
		"{% for x in seq %}[{{ loop.previtem }}|{{ loop.nextitem }}]{% endfor %}",
		map[string]any{"seq": []any{1, 2, 3}})
	assert.Equal(t, "[|2][1|3][2|]", out)
}

func TestForLoopCycle(t *testing.T) {
	out := render(t, "{% for x in seq %}{{ loop.cycle('odd', 'even') }} {% endfor %}",
		map[string]any{"seq": []any{1, 2, 3}})
	assert.Equal(t, "odd even odd ", out)
}

func TestForLoopChanged(t *testing.T) {
	out := render(t, "{% for x in seq %}{{ loop.changed(x) }} {% endfor %}",
		map[string]any{"seq": []any{1, 1, 2}})
	assert.Equal(t, "True False True ", out)
}

func TestForInlineFilter(t *testing.T) {
	out := render(t, "{% for x in seq if x % 2 == 0 %}{{ x }}:{{ loop.index }} {% endfor %}",
		map[string]any{"seq": []any{1, 2, 3, 4}})
	assert.Equal(t, "2:1 4:2 ", out)
}

func TestForTupleUnpack(t *testing.T) {
	out := render(t, "{% for k, v in pairs %}{{ k }}={{ v }};{% endfor %}",
		map[string]any{"pairs": []any{[]any{"a", 1}, []any{"b", 2}}})
	assert.Equal(t, "a=1;b=2;", out)
}

func TestForOverMapSortedKeys(t *testing.T) {
	out := render(t, "{% for k in d %}{{ k }}{% endfor %}",
		map[string]any{"d": map[string]any{"b": 1, "a": 2, "c": 3}})
	assert.Equal(t, "abc", out)
}

func TestRecursiveLoop(t *testing.T) {
	items := []any{
		map[string]any{"name": "a", "children": []any{
			map[string]any{"name": "b", "children": []any{}},
		}},
		map[string]any{"name": "c", "children": []any{}},
	}
	out := render(t,
		"{% for item in items recursive %}{{ item.name }}({{ loop.depth }}){{ loop(item.children) }}{% endfor %}",
		map[string]any{"items": items})
	assert.Equal(t, "a(1)b(2)c(1)", out)
}

func TestLoopAssignmentsDoNotLeak(t *testing.T) {
	out := render(t, "{% for x in seq %}{% set y = x %}{% endfor %}{{ y is defined }}",
		map[string]any{"seq": []any{1}})
	assert.Equal(t, "False", out)
}

func TestNamespaceCrossesScopes(t *testing.T) {
	out := render(t,
		"{% set ns = namespace(total=0) %}{% for x in seq %}{% set ns.total = ns.total + x %}{% endfor %}{{ ns.total }}",
		map[string]any{"seq": []any{1, 2, 3}})
	assert.Equal(t, "6", out)
}

func TestBreakAndContinue(t *testing.T) {
	env := NewEnvironment(WithLoopControls())
	out := renderEnv(t, env,
		"{% for x in seq %}{% if x == 2 %}{% continue %}{% endif %}{% if x == 4 %}{% break %}{% endif %}{{ x }}{% endfor %}",
		map[string]any{"seq": []any{1, 2, 3, 4, 5}})
	assert.Equal(t, "13", out)
}

func TestSetStatement(t *testing.T) {
	assert.Equal(t, "3", render(t, "{% set x = 1 + 2 %}{{ x }}", nil))
}

func TestSetBlock(t *testing.T) {
	out := render(t, "{% set greeting %}hello {{ name }}{% endset %}{{ greeting }}",
		map[string]any{"name": "jd"})
	assert.Equal(t, "hello jd", out)
}

func TestSetBlockWithFilter(t *testing.T) {
	out := render(t, "{% set x | upper %}abc{% endset %}{{ x }}", nil)
	assert.Equal(t, "ABC", out)
}

func TestSetTupleUnpack(t *testing.T) {
	assert.Equal(t, "1-2", render(t, "{% set a, b = pair %}{{ a }}-{{ b }}",
		map[string]any{"pair": []any{1, 2}}))
}

func TestWithStatement(t *testing.T) {
	out := render(t, "{% with x = 1, y = 2 %}{{ x + y }}{% endwith %}{{ x is defined }}", nil)
	assert.Equal(t, "3False", out)
}

func TestDoStatement(t *testing.T) {
	rec := &recorder{}
	out := render(t, "{% do tracker.bump() %}{% do tracker.bump() %}{{ tracker.count }}",
		map[string]any{"tracker": rec})
	assert.Equal(t, "2", out)
	assert.Equal(t, 2, rec.Count)
}

type recorder struct {
	Count int
}

func (r *recorder) Bump() { r.Count++ }

func TestFilterBlock(t *testing.T) {
	out := render(t, "{% filter upper %}hello {{ name }}{% endfilter %}",
		map[string]any{"name": "jd"})
	assert.Equal(t, "HELLO JD", out)
}

func TestRangeGlobal(t *testing.T) {
	assert.Equal(t, "012", render(t, "{% for i in range(3) %}{{ i }}{% endfor %}", nil))
	assert.Equal(t, "246", render(t, "{% for i in range(2, 7, 2) %}{{ i }}{% endfor %}", nil))
}

func TestCyclerAndJoinerGlobals(t *testing.T) {
	out := render(t, "{% set c = cycler('a', 'b') %}{{ c.next() }}{{ c.next() }}{{ c.next() }}", nil)
	assert.Equal(t, "aba", out)

	out = render(t, "{% set j = joiner('|') %}{% for x in seq %}{{ j() }}{{ x }}{% endfor %}",
		map[string]any{"seq": []any{1, 2, 3}})
	assert.Equal(t, "1|2|3", out)
}

func TestDictGlobal(t *testing.T) {
	assert.Equal(t, "1", render(t, "{{ dict(a=1).a }}", nil))
}

func TestFinalize(t *testing.T) {
	env := NewEnvironment(WithFinalize(func(v any) (any, error) {
		if v == nil {
			return "", nil
		}
		return v, nil
	}))
	// finalize applies to expression output, not literal text.
	out := renderEnv(t, env, "a{{ missing_is_nil }}b{{ 1 }}", map[string]any{"missing_is_nil": nil})
	assert.Equal(t, "ab1", out)
}

func TestHostFunctionCall(t *testing.T) {
	out := render(t, "{{ add(2, 3) }}", map[string]any{
		"add": func(a, b int) int { return a + b },
	})
	assert.Equal(t, "5", out)
}

func TestRuntimeErrorCarriesLine(t *testing.T) {
	tpl, err := NewEnvironment().FromString("line1\n{{ 1 / n }}")
	require.NoError(t, err)
	_, err = tpl.Render(map[string]any{"n": 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Contains(t, err.Error(), "division by zero")
}

func TestDeterministicRender(t *testing.T) {
	tpl, err := NewEnvironment().FromString(
		"{% for k, v in d|dictsort %}{{ k }}={{ v }};{% endfor %}")
	require.NoError(t, err)
	vars := map[string]any{"d": map[string]any{"b": 2, "a": 1}}
	first, err := tpl.Render(vars)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := tpl.Render(vars)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, "a=1;b=2;", first)
}
