package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexer_PlainText(t *testing.T) {
	input := "SELECT * FROM sales"
	lexer := NewLexer(input, "test.sql")

	tokens, err := lexer.Tokenize()
	require.NoError(t, err, "unexpected error")

	require.Len(t, tokens, 2, "expected 2 tokens") // TEXT + EOF

	assert.Equal(t, TokenText, tokens[0].Type, "expected TEXT")
	assert.Equal(t, input, tokens[0].Value, "expected input value")
	assert.Equal(t, TokenEOF, tokens[1].Type, "expected EOF")
}

func TestLexer_Placeholders(t *testing.T) {
	input := "SELECT * FROM sales WHERE region IN (${region}) AND day = ${ day }"
	lexer := NewLexer(input, "test.sql")

	tokens, err := lexer.Tokenize()
	require.NoError(t, err, "unexpected error")

	expected := []struct {
		typ TokenType
		val string
	}{
		{TokenText, "SELECT * FROM sales WHERE region IN ("},
		{TokenPlaceholder, "region"},
		{TokenText, ") AND day = "},
		{TokenPlaceholder, "day"},
		{TokenEOF, ""},
	}

	require.Len(t, tokens, len(expected), "wrong number of tokens")

	for i, exp := range expected {
		assert.Equal(t, exp.typ, tokens[i].Type, "token[%d] type", i)
		if exp.typ != TokenEOF {
			assert.Equal(t, exp.val, tokens[i].Value, "token[%d] value", i)
		}
	}
}

func TestLexer_DollarWithoutBrace(t *testing.T) {
	tokens, err := NewLexer("SELECT '$5' AS price, {x}", "").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenText, tokens[0].Type)
}

func TestLexer_RelativeDateBody(t *testing.T) {
	tokens, err := NewLexer("${yyyy-MM-dd-1M}", "").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenPlaceholder, tokens[0].Type)
	assert.Equal(t, "yyyy-MM-dd-1M", tokens[0].Value)
}

func TestLexer_UnclosedPlaceholder(t *testing.T) {
	tests := []string{
		"SELECT ${region FROM sales",
		"SELECT ${region\n} FROM sales",
		"SELECT ${a ${b}",
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := NewLexer(input, "test.sql").Tokenize()
			require.Error(t, err, "expected error for unclosed placeholder")

			lexErr, ok := err.(*LexError)
			require.True(t, ok, "expected LexError, got %T", err)
			assert.Equal(t, 1, lexErr.Position().Line, "expected line 1")
			assert.Equal(t, 8, lexErr.Position().Column, "expected column 8")
		})
	}
}

func TestLexer_EmptyPlaceholder(t *testing.T) {
	_, err := NewLexer("${ }", "").Tokenize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty placeholder")
}

func TestLexer_PositionTracking(t *testing.T) {
	input := "line1\nline2\n  ${region}"
	lexer := NewLexer(input, "test.sql")

	tokens, err := lexer.Tokenize()
	require.NoError(t, err, "unexpected error")

	tok := tokens[1] // Skip first text token
	require.Equal(t, TokenPlaceholder, tok.Type, "expected PLACEHOLDER")
	assert.Equal(t, 3, tok.Pos.Line, "expected line 3")
	assert.Equal(t, 3, tok.Pos.Column, "expected column 3")
}

func TestTemplate_Placeholders(t *testing.T) {
	tmpl, err := Parse("${a} ${b} ${a} ${yyyyMMdd}", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "yyyyMMdd"}, tmpl.Placeholders())
}
