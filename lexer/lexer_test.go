package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenize(t *testing.T, cfg Config, source string) []Token {
	t.Helper()
	stream, err := New(cfg).Tokenize(source, "test")
	require.NoError(t, err)
	var tokens []Token
	for !stream.EOF() {
		tokens = append(tokens, stream.Next())
	}
	return tokens
}

func kinds(tokens []Token) []TokenType {
	out := make([]TokenType, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Type
	}
	return out
}

func TestTokenizeData(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "Hello World")
	require.Len(t, tokens, 1)
	assert.Equal(t, TokenData, tokens[0].Type)
	assert.Equal(t, "Hello World", tokens[0].Value)
}

func TestTokenizeVariable(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "Hello {{ name }}!")
	assert.Equal(t, []TokenType{
		TokenData, TokenVariableBegin, TokenName, TokenVariableEnd, TokenData,
	}, kinds(tokens))
	assert.Equal(t, "name", tokens[2].Value)
	assert.Equal(t, "!", tokens[4].Value)
}

func TestTokenizeStatement(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "{% if x %}y{% endif %}")
	assert.Equal(t, []TokenType{
		TokenBlockBegin, TokenName, TokenName, TokenBlockEnd,
		TokenData,
		TokenBlockBegin, TokenName, TokenBlockEnd,
	}, kinds(tokens))
	assert.Equal(t, "if", tokens[1].Value)
	assert.Equal(t, "endif", tokens[6].Value)
}

func TestTokenizeCommentEmitsNothing(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "a{# hidden #}b")
	require.Len(t, tokens, 2)
	assert.Equal(t, "a", tokens[0].Value)
	assert.Equal(t, "b", tokens[1].Value)
}

func TestNumberLiterals(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "{{ 42 1_000 3.14 1e3 2.5e-2 }}")
	var values []string
	var types []TokenType
	for _, tok := range tokens {
		if tok.Type == TokenInteger || tok.Type == TokenFloat {
			values = append(values, tok.Value)
			types = append(types, tok.Type)
		}
	}
	assert.Equal(t, []string{"42", "1000", "3.14", "1e3", "2.5e-2"}, values)
	assert.Equal(t, []TokenType{
		TokenInteger, TokenInteger, TokenFloat, TokenFloat, TokenFloat,
	}, types)
}

func TestStringLiterals(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), `{{ "a\"b" + 'c\n' }}`)
	require.Equal(t, TokenString, tokens[1].Type)
	assert.Equal(t, `a"b`, tokens[1].Value)
	require.Equal(t, TokenString, tokens[3].Type)
	assert.Equal(t, "c\n", tokens[3].Value)
}

func TestUnterminatedString(t *testing.T) {
	_, err := New(DefaultConfig()).Tokenize(`{{ "oops }}`, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated string")
}

func TestUnterminatedComment(t *testing.T) {
	_, err := New(DefaultConfig()).Tokenize("{# never closed", "test")
	require.Error(t, err)
}

func TestWhitespaceControlMarkers(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "a   {%- if x -%}   b{% endif %}")
	assert.Equal(t, "a", tokens[0].Value)
	// The trailing marker stripped the leading run of the next data token.
	assert.Equal(t, "b", tokens[5].Value)
}

func TestTrimBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrimBlocks = true
	tokens := tokenize(t, cfg, "{% if x %}\ncontent\n{% endif %}\n")
	assert.Equal(t, "content\n", tokens[4].Value)
}

func TestLstripBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LstripBlocks = true
	tokens := tokenize(t, cfg, "x\n    {% if y %}z{% endif %}")
	assert.Equal(t, "x\n", tokens[0].Value)
}

func TestLstripBlocksVetoedByPlus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LstripBlocks = true
	tokens := tokenize(t, cfg, "x\n    {%+ if y %}z{% endif %}")
	assert.Equal(t, "x\n    ", tokens[0].Value)
}

func TestLstripBlocksNotAppliedMidLine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LstripBlocks = true
	tokens := tokenize(t, cfg, "x    {% if y %}z{% endif %}")
	assert.Equal(t, "x    ", tokens[0].Value)
}

func TestKeepTrailingNewline(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "hello\n")
	assert.Equal(t, "hello", tokens[0].Value)

	cfg := DefaultConfig()
	cfg.KeepTrailingNewline = true
	tokens = tokenize(t, cfg, "hello\n")
	assert.Equal(t, "hello\n", tokens[0].Value)
}

func TestRawBlock(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "a{% raw %}{{ not_parsed }}{% endraw %}b")
	require.Len(t, tokens, 3)
	assert.Equal(t, "a", tokens[0].Value)
	assert.Equal(t, "{{ not_parsed }}", tokens[1].Value)
	assert.Equal(t, "b", tokens[2].Value)
}

func TestRawBlockMissingEnd(t *testing.T) {
	_, err := New(DefaultConfig()).Tokenize("{% raw %}stuck", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endraw")
}

func TestLineNumbers(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "a\nb\n{{ x }}")
	require.Equal(t, TokenName, tokens[2].Type)
	assert.Equal(t, 3, tokens[2].Line)
}

func TestLineStatements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Delimiters.LineStatement = "#"
	tokens := tokenize(t, cfg, "# if x\ny\n# endif\n")
	assert.Equal(t, []TokenType{
		TokenBlockBegin, TokenName, TokenName, TokenBlockEnd,
		TokenData,
		TokenBlockBegin, TokenName, TokenBlockEnd,
	}, kinds(tokens))
	assert.Equal(t, "y\n", tokens[4].Value)
}

func TestLineComments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Delimiters.LineComment = "##"
	tokens := tokenize(t, cfg, "a\n## not here\nb")
	require.Len(t, tokens, 2)
	assert.Equal(t, "a\n", tokens[0].Value)
	assert.Equal(t, "b", tokens[1].Value)
}

func TestNestedBracesInExpression(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "{{ {'a': 1} }}")
	last := tokens[len(tokens)-1]
	assert.Equal(t, TokenVariableEnd, last.Type)
}

func TestCustomDelimiters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Delimiters.VariableStart = "<<"
	cfg.Delimiters.VariableEnd = ">>"
	tokens := tokenize(t, cfg, "x << name >> y")
	assert.Equal(t, []TokenType{
		TokenData, TokenVariableBegin, TokenName, TokenVariableEnd, TokenData,
	}, kinds(tokens))
}

func TestOperatorTokens(t *testing.T) {
	tokens := tokenize(t, DefaultConfig(), "{{ a ** b // c != d }}")
	var ops []string
	for _, tok := range tokens {
		if tok.Type == TokenOperator {
			ops = append(ops, tok.Value)
		}
	}
	assert.Equal(t, []string{"**", "//", "!="}, ops)
}
