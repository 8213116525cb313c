package runtime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringFilters(t *testing.T) {
	cases := []struct {
		template string
		vars     map[string]any
		want     string
	}{
		{"{{ 'hello'|upper }}", nil, "HELLO"},
		{"{{ 'HELLO'|lower }}", nil, "hello"},
		{"{{ 'foo bar'|title }}", nil, "Foo Bar"},
		{"{{ 'hELLO wORLD'|capitalize }}", nil, "Hello world"},
		{"{{ '  x  '|trim }}", nil, "x"},
		{"{{ '--x--'|trim('-') }}", nil, "x"},
		{"{{ '<p>hi <b>there</b></p>'|striptags }}", nil, "hi there"},
		{"{{ 'hello world'|wordcount }}", nil, "2"},
		{"{{ 'ab'|center(6) }}", nil, "  ab  "},
		{"{{ 'a\\nb'|indent(2) }}", nil, "a\n  b"},
		{"{{ 'a\\nb'|indent(2, first=true) }}", nil, "  a\n  b"},
		{"{{ 'x=%s y=%d'|format('a', 7) }}", nil, "x=a y=7"},
		{"{{ 'hello'|replace('l', 'L') }}", nil, "heLLo"},
		{"{{ 'hello'|replace('l', 'L', 1) }}", nil, "heLlo"},
		{"{{ 'a b'|urlencode }}", nil, "a%20b"},
		{"{{ value|string }}", map[string]any{"value": 42}, "42"},
		{"{{ none|string }}", nil, "None"},
	}
	for _, tc := range cases {
		t.Run(tc.template, func(t *testing.T) {
			assert.Equal(t, tc.want, render(t, tc.template, tc.vars))
		})
	}
}

func TestTruncateFilter(t *testing.T) {
	// Within leeway the string passes through untouched.
	assert.Equal(t, "foo bar", render(t, "{{ 'foo bar'|truncate(6) }}", nil))
	long := strings.Repeat("duck ", 20) + "goose"
	out := render(t, "{{ s|truncate(20) }}", map[string]any{"s": long})
	assert.True(t, strings.HasSuffix(out, "..."), "got %q", out)
	assert.LessOrEqual(t, len(out), 21)

	// killwords cuts mid-word.
	out = render(t, "{{ 'abcdefghij'|truncate(8, true, '...', 0) }}", nil)
	assert.Equal(t, "abcde...", out)
}

func TestWordwrapFilter(t *testing.T) {
	out := render(t, "{{ 'aaa bbb ccc ddd'|wordwrap(7) }}", nil)
	assert.Equal(t, "aaa bbb\nccc ddd", out)
}

func TestCollectionFilters(t *testing.T) {
	vars := map[string]any{
		"nums":  []any{3, 1, 2},
		"names": []any{"b", "A", "c"},
		"empty": []any{},
	}
	cases := []struct {
		template string
		want     string
	}{
		{"{{ nums|length }}", "3"},
		{"{{ nums|count }}", "3"},
		{"{{ nums|first }}", "3"},
		{"{{ nums|last }}", "2"},
		{"{{ nums|min }}", "1"},
		{"{{ nums|max }}", "3"},
		{"{{ nums|sum }}", "6"},
		{"{{ nums|sort|join(',') }}", "1,2,3"},
		{"{{ nums|sort(reverse=true)|join(',') }}", "3,2,1"},
		{"{{ names|sort|join }}", "Abc"},
		{"{{ names|sort(case_sensitive=true)|join }}", "Abc"},
		{"{{ nums|reverse|join(',') }}", "2,1,3"},
		{"{{ 'abc'|reverse }}", "cba"},
		{"{{ [1, 1, 2, 2, 3]|unique|join(',') }}", "1,2,3"},
		{"{{ nums|join('-') }}", "3-1-2"},
		{"{{ 'abc'|list|join(',') }}", "a,b,c"},
		{"{{ [1, 2, 3, 4, 5]|batch(2)|length }}", "3"},
		{"{{ [1, 2, 3]|slice(2)|length }}", "2"},
		{"{{ empty|first|default('none') }}", "none"},
	}
	for _, tc := range cases {
		t.Run(tc.template, func(t *testing.T) {
			assert.Equal(t, tc.want, render(t, tc.template, vars))
		})
	}
}

func TestSortByAttribute(t *testing.T) {
	vars := map[string]any{"users": []any{
		map[string]any{"name": "zed", "age": 30},
		map[string]any{"name": "amy", "age": 40},
	}}
	out := render(t, "{{ users|sort(attribute='name')|map(attribute='name')|join(',') }}", vars)
	assert.Equal(t, "amy,zed", out)
	out = render(t, "{{ users|sort(attribute='age', reverse=true)|map(attribute='name')|join(',') }}", vars)
	assert.Equal(t, "amy,zed", out)
}

func TestMapFilter(t *testing.T) {
	out := render(t, "{{ words|map('upper')|join(',') }}",
		map[string]any{"words": []any{"a", "b"}})
	assert.Equal(t, "A,B", out)
}

func TestSelectRejectFilters(t *testing.T) {
	vars := map[string]any{"nums": []any{1, 2, 3, 4}}
	assert.Equal(t, "2,4", render(t, "{{ nums|select('even')|join(',') }}", vars))
	assert.Equal(t, "1,3", render(t, "{{ nums|reject('even')|join(',') }}", vars))
	assert.Equal(t, "3,4", render(t, "{{ nums|select('gt', 2)|join(',') }}", vars))
}

func TestSelectattrFilters(t *testing.T) {
	vars := map[string]any{"users": []any{
		map[string]any{"name": "a", "admin": true},
		map[string]any{"name": "b", "admin": false},
	}}
	out := render(t, "{{ users|selectattr('admin')|map(attribute='name')|join(',') }}", vars)
	assert.Equal(t, "a", out)
	out = render(t, "{{ users|rejectattr('admin')|map(attribute='name')|join(',') }}", vars)
	assert.Equal(t, "b", out)
}

func TestGroupbyFilter(t *testing.T) {
	vars := map[string]any{"users": []any{
		map[string]any{"city": "rome", "name": "a"},
		map[string]any{"city": "oslo", "name": "b"},
		map[string]any{"city": "rome", "name": "c"},
	}}
	out := render(t,
		"{% for city, members in users|groupby('city') %}{{ city }}:{{ members|length }};{% endfor %}",
		vars)
	assert.Equal(t, "oslo:1;rome:2;", out)

	out = render(t,
		"{% for g in users|groupby('city') %}{{ g.grouper }}{% endfor %}", vars)
	assert.Equal(t, "oslorome", out)
}

func TestDictsortAndItems(t *testing.T) {
	vars := map[string]any{"d": map[string]any{"b": 2, "a": 1}}
	assert.Equal(t, "a=1;b=2;",
		render(t, "{% for k, v in d|dictsort %}{{ k }}={{ v }};{% endfor %}", vars))
	assert.Equal(t, "a=1;b=2;",
		render(t, "{% for k, v in d|items %}{{ k }}={{ v }};{% endfor %}", vars))
	assert.Equal(t, "b=2;a=1;",
		render(t, "{% for k, v in d|dictsort(by='value', reverse=true) %}{{ k }}={{ v }};{% endfor %}", vars))
}

func TestNumericFilters(t *testing.T) {
	cases := []struct {
		template string
		want     string
	}{
		{"{{ -7|abs }}", "7"},
		{"{{ -7.5|abs }}", "7.5"},
		{"{{ 2.567|round(2) }}", "2.57"},
		{"{{ 2.1|round(0, 'ceil') }}", "3.0"},
		{"{{ 2.9|round(0, 'floor') }}", "2.0"},
		{"{{ '42'|int }}", "42"},
		{"{{ 'nope'|int(7) }}", "7"},
		{"{{ '0x1A'|int(0, 16) }}", "26"},
		{"{{ 3.9|int }}", "3"},
		{"{{ '2.5'|float }}", "2.5"},
		{"{{ 'bad'|float(1.5) }}", "1.5"},
		{"{{ 1000|filesizeformat }}", "1.0 kB"},
		{"{{ 100|filesizeformat }}", "100 Bytes"},
		{"{{ 1048576|filesizeformat(true) }}", "1.0 MiB"},
	}
	for _, tc := range cases {
		t.Run(tc.template, func(t *testing.T) {
			assert.Equal(t, tc.want, render(t, tc.template, nil))
		})
	}
}

func TestTojsonFilter(t *testing.T) {
	out := render(t, "{{ d|tojson }}", map[string]any{
		"d": map[string]any{"b": 1, "a": []any{1, "x"}},
	})
	assert.Equal(t, `{"a":[1,"x"],"b":1}`, out)
}

func TestTojsonEscapesHTML(t *testing.T) {
	env := NewEnvironment(WithAutoescape(true))
	out := renderEnv(t, env, "{{ s|tojson }}", map[string]any{"s": "<script>"})
	assert.NotContains(t, out, "<script>")
}

func TestTojsonCustomSerializer(t *testing.T) {
	env := NewEnvironment(WithPolicy(PolicyJSONDumpsFunc, JSONDumpsFunc(
		func(value any, _ map[string]any) (string, error) {
			return "CUSTOM", nil
		})))
	assert.Equal(t, "CUSTOM", renderEnv(t, env, "{{ 1|tojson }}", nil))
}

func TestXMLAttrFilter(t *testing.T) {
	out := render(t, "{{ {'class': 'row', 'id': 'x'}|xmlattr }}", nil)
	assert.Equal(t, ` class="row" id="x"`, out)

	tpl, err := NewEnvironment().FromString("{{ {'bad name': 1}|xmlattr }}")
	require.NoError(t, err)
	_, err = tpl.Render(nil)
	require.Error(t, err)
}

func TestAttrFilter(t *testing.T) {
	out := render(t, "{{ user|attr('name') }}", map[string]any{
		"user": map[string]any{"name": "jd"},
	})
	assert.Equal(t, "jd", out)
}

func TestDefaultFilter(t *testing.T) {
	assert.Equal(t, "x", render(t, "{{ missing|default('x') }}", nil))
	assert.Equal(t, "v", render(t, "{{ v|default('x') }}", map[string]any{"v": "v"}))
	assert.Equal(t, "", render(t, "{{ v|default('x') }}", map[string]any{"v": ""}))
	assert.Equal(t, "x", render(t, "{{ v|default('x', true) }}", map[string]any{"v": ""}))
	assert.Equal(t, "x", render(t, "{{ missing|d('x') }}", nil))
}

func TestRandomFilter(t *testing.T) {
	out := render(t, "{{ [7]|random }}", nil)
	assert.Equal(t, "7", out)
}

func TestURLizeFilter(t *testing.T) {
	out := render(t, "{{ 'visit https://example.com now'|urlize }}", nil)
	assert.Contains(t, out, `<a href="https://example.com"`)
	assert.Contains(t, out, `rel="noopener"`)

	out = render(t, "{{ 'mail me@example.com ok'|urlize }}", nil)
	assert.Contains(t, out, `href="mailto:me@example.com"`)
}

func TestURLizeTargetPolicy(t *testing.T) {
	env := NewEnvironment(WithPolicy(PolicyURLizeTarget, "_blank"))
	out := renderEnv(t, env, "{{ 'see https://x.org today'|urlize }}", nil)
	assert.Contains(t, out, `target="_blank"`)
}

func TestUnknownFilterFails(t *testing.T) {
	tpl, err := NewEnvironment().FromString("{{ x|nosuchfilter }}")
	require.NoError(t, err)
	_, err = tpl.Render(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nosuchfilter")
}

func TestCustomFilter(t *testing.T) {
	env := NewEnvironment()
	env.AddFilter("shout", func(_ *Context, value any, _ Args) (any, error) {
		return strings.ToUpper(str(value)) + "!", nil
	})
	assert.Equal(t, "HI!", renderEnv(t, env, "{{ 'hi'|shout }}", nil))
}

func TestPprintFilter(t *testing.T) {
	assert.Equal(t, "[1, 'a']", render(t, "{{ [1, 'a']|pprint }}", nil))
}
