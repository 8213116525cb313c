package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderNative(t *testing.T, source string, vars map[string]any) any {
	t.Helper()
	tpl, err := NewEnvironment().FromString(source)
	require.NoError(t, err)
	out, err := tpl.RenderNative(vars)
	require.NoError(t, err)
	return out
}

func TestNativeSingleExpression(t *testing.T) {
	// Spec scenario: the result is the integer 6, not the string "6".
	out := renderNative(t, "{{ x + y }}", map[string]any{"x": 4, "y": 2})
	assert.Equal(t, int64(6), out)
}

func TestNativeListReparse(t *testing.T) {
	// Spec scenario: chunks concatenate and re-parse into a native list.
	out := renderNative(t, "[{% for i in r %}{{ i + 1 }},{% endfor %}]",
		map[string]any{"r": []any{0, 1, 2, 3, 4}})
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, out)
}

func TestNativeKeepsValueTypes(t *testing.T) {
	assert.Equal(t, true, renderNative(t, "{{ 1 < 2 }}", nil))
	assert.Equal(t, 2.5, renderNative(t, "{{ 5 / 2 }}", nil))
	assert.Nil(t, renderNative(t, "{{ none }}", nil))
	assert.Equal(t, []any{int64(1), int64(2)}, renderNative(t, "{{ [1, 2] }}", nil))
	assert.Equal(t, map[string]any{"a": int64(1)}, renderNative(t, "{{ {'a': 1} }}", nil))
}

func TestNativePlainTextStaysString(t *testing.T) {
	assert.Equal(t, "hello world", renderNative(t, "hello world", nil))
}

func TestNativeMixedFallsBackToString(t *testing.T) {
	out := renderNative(t, "value: {{ 42 }}", nil)
	assert.Equal(t, "value: 42", out)
}

func TestNativeDictReparse(t *testing.T) {
	out := renderNative(t, "{'k': {{ 1 + 1 }}}", nil)
	assert.Equal(t, map[string]any{"k": int64(2)}, out)
}

func TestParseLiteral(t *testing.T) {
	cases := []struct {
		in   string
		want any
		ok   bool
	}{
		{"42", int64(42), true},
		{"-3.5", -3.5, true},
		{"True", true, true},
		{"None", nil, true},
		{"'str'", "str", true},
		{"[1, 2,]", []any{int64(1), int64(2)}, true},
		{"(1, 2)", []any{int64(1), int64(2)}, true},
		{"{'a': 1}", map[string]any{"a": int64(1)}, true},
		{"not a literal", nil, false},
		{"[1, 2", nil, false},
	}
	for _, tc := range cases {
		got, ok := parseLiteral(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}
