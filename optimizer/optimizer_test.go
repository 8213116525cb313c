package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ketju/ginja/lexer"
	"github.com/ketju/ginja/nodes"
	"github.com/ketju/ginja/parser"
)

func optimizedOutput(t *testing.T, source string) nodes.Expr {
	t.Helper()
	tpl, err := parser.Parse(lexer.New(lexer.DefaultConfig()), source, "test", "", parser.Options{})
	require.NoError(t, err)
	tpl = Optimize(tpl)
	require.NotEmpty(t, tpl.Body)
	out, ok := tpl.Body[0].(*nodes.Output)
	require.True(t, ok)
	return out.Node
}

func constOf(t *testing.T, source string) any {
	t.Helper()
	expr := optimizedOutput(t, source)
	c, ok := expr.(*nodes.Const)
	require.True(t, ok, "%s: expected folded Const, got %T", source, expr)
	return c.Value
}

func TestFoldArithmetic(t *testing.T) {
	assert.Equal(t, int64(3), constOf(t, "{{ 1 + 2 }}"))
	assert.Equal(t, int64(6), constOf(t, "{{ 2 * 3 }}"))
	assert.Equal(t, 2.5, constOf(t, "{{ 5 / 2 }}"))
	assert.Equal(t, int64(2), constOf(t, "{{ 5 // 2 }}"))
	assert.Equal(t, int64(1), constOf(t, "{{ 5 % 2 }}"))
	assert.Equal(t, int64(8), constOf(t, "{{ 2 ** 3 }}"))
	assert.Equal(t, int64(-4), constOf(t, "{{ -4 }}"))
}

func TestFoldChainedComparison(t *testing.T) {
	// Scenario: both chains must resolve at compile time.
	assert.Equal(t, true, constOf(t, "{{ 1 < 2 < 3 }}"))
	assert.Equal(t, false, constOf(t, "{{ 1 < 2 < 1 }}"))
}

func TestFoldStringConcat(t *testing.T) {
	assert.Equal(t, "ab1", constOf(t, "{{ 'a' ~ 'b' ~ 1 }}"))
}

func TestFoldConditional(t *testing.T) {
	assert.Equal(t, "yes", constOf(t, "{{ 'yes' if 1 else 'no' }}"))
	assert.Equal(t, "no", constOf(t, "{{ 'yes' if 0 else 'no' }}"))
}

func TestFoldLogicShortCircuit(t *testing.T) {
	assert.Equal(t, false, constOf(t, "{{ false and x }}"))
	assert.Equal(t, true, constOf(t, "{{ true or x }}"))
	// The non-constant side survives when the constant side passes through.
	expr := optimizedOutput(t, "{{ true and x }}")
	_, isName := expr.(*nodes.Name)
	assert.True(t, isName)
}

func TestFoldCollections(t *testing.T) {
	assert.Equal(t, []any{int64(1), int64(2)}, constOf(t, "{{ [1, 2] }}"))
	assert.Equal(t, map[string]any{"a": int64(1)}, constOf(t, "{{ {'a': 1} }}"))
}

func TestFoldConstSafeFilters(t *testing.T) {
	assert.Equal(t, "ABC", constOf(t, "{{ 'abc'|upper }}"))
	assert.Equal(t, "x", constOf(t, "{{ '  x  '|trim }}"))
	assert.Equal(t, int64(3), constOf(t, "{{ 'abc'|length }}"))
}

func TestNoFoldDivisionByZero(t *testing.T) {
	// The error must surface at render time, so the node stays unfolded.
	expr := optimizedOutput(t, "{{ 1 / 0 }}")
	_, isBinary := expr.(*nodes.Binary)
	assert.True(t, isBinary)
}

func TestNoFoldImpureCalls(t *testing.T) {
	expr := optimizedOutput(t, "{{ range(3) }}")
	_, isCall := expr.(*nodes.Call)
	assert.True(t, isCall)

	expr = optimizedOutput(t, "{{ [1, 2]|random }}")
	_, isFilter := expr.(*nodes.Filter)
	assert.True(t, isFilter)
}

func TestNoFoldNames(t *testing.T) {
	expr := optimizedOutput(t, "{{ a + 1 }}")
	_, isBinary := expr.(*nodes.Binary)
	assert.True(t, isBinary)
}

func TestFoldInsideStatements(t *testing.T) {
	tpl, err := parser.Parse(lexer.New(lexer.DefaultConfig()),
		"{% if 1 + 1 == 2 %}x{% endif %}", "test", "", parser.Options{})
	require.NoError(t, err)
	tpl = Optimize(tpl)
	stmt := tpl.Body[0].(*nodes.If)
	c, ok := stmt.Test.(*nodes.Const)
	require.True(t, ok)
	assert.Equal(t, true, c.Value)
}
