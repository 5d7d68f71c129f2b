package lang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexKeywordsAreCaseInsensitive(t *testing.T) {
	toks, err := Lex("from Users select name")
	require.NoError(t, err)
	require.Len(t, toks, 5) // FROM, Users, SELECT, name, EOF
	assert.Equal(t, TokKeyword, toks[0].Kind)
	assert.Equal(t, "FROM", toks[0].Text)
	assert.Equal(t, TokIdent, toks[1].Kind)
	assert.Equal(t, "Users", toks[1].Text)
	assert.Equal(t, TokKeyword, toks[2].Kind)
	assert.Equal(t, "SELECT", toks[2].Text)
}

func TestLexArrows(t *testing.T) {
	toks, err := Lex("- -> <- <->")
	require.NoError(t, err)
	require.Len(t, toks, 5)
	assert.Equal(t, TokOp, toks[0].Kind)
	assert.Equal(t, "-", toks[0].Text)
	assert.Equal(t, TokArrow, toks[1].Kind)
	assert.Equal(t, "->", toks[1].Text)
	assert.Equal(t, TokArrow, toks[2].Kind)
	assert.Equal(t, "<-", toks[2].Text)
	assert.Equal(t, TokArrow, toks[3].Kind)
	assert.Equal(t, "<->", toks[3].Text)
}

func TestLexComparisonOperators(t *testing.T) {
	toks, err := Lex("= != < <= > >=")
	require.NoError(t, err)
	want := []string{"=", "!=", "<", "<=", ">", ">="}
	for i, w := range want {
		assert.Equal(t, TokOp, toks[i].Kind)
		assert.Equal(t, w, toks[i].Text)
	}
}

func TestLexNumbers(t *testing.T) {
	toks, err := Lex("42 3.14")
	require.NoError(t, err)
	assert.Equal(t, TokInt, toks[0].Kind)
	assert.Equal(t, "42", toks[0].Text)
	assert.Equal(t, TokFloat, toks[1].Kind)
	assert.Equal(t, "3.14", toks[1].Text)
}

func TestLexStringEscapes(t *testing.T) {
	toks, err := Lex(`'a\nb\t\'c\''`)
	require.NoError(t, err)
	require.Equal(t, TokString, toks[0].Kind)
	assert.Equal(t, "a\nb\t'c'", toks[0].Text)
}

func TestLexUnterminatedStringErrors(t *testing.T) {
	_, err := Lex(`'abc`)
	assert.Error(t, err)
}

func TestLexUnknownEscapeErrors(t *testing.T) {
	_, err := Lex(`'\q'`)
	assert.Error(t, err)
}

func TestLexLineComments(t *testing.T) {
	toks, err := Lex("FROM Users -- trailing comment\nSELECT name")
	require.NoError(t, err)
	var kinds []TokenKind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []TokenKind{TokKeyword, TokIdent, TokKeyword, TokIdent, TokEOF}, kinds)
}

func TestLexAggregateNameIsPlainIdentifier(t *testing.T) {
	toks, err := Lex("COUNT(*)")
	require.NoError(t, err)
	assert.Equal(t, TokIdent, toks[0].Kind)
	assert.Equal(t, "COUNT", toks[0].Text)
}

func TestLexPunctuation(t *testing.T) {
	toks, err := Lex(".,;:(){}[]")
	require.NoError(t, err)
	want := []string{".", ",", ";", ":", "(", ")", "{", "}", "[", "]"}
	for i, w := range want {
		assert.Equal(t, TokPunct, toks[i].Kind)
		assert.Equal(t, w, toks[i].Text)
	}
}
