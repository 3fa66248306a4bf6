package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexerBasicTokens(t *testing.T) {
	lex := NewLexer(`alice ALL=(root) /bin/ls`)
	var kinds []TokenKind
	for {
		tok := lex.Next()
		kinds = append(kinds, tok.Kind)
		if tok.Kind == TokEOF {
			break
		}
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, TokEOF, kinds[len(kinds)-1])
}

func TestLexerBackslashContinuation(t *testing.T) {
	lex := NewLexer("alice ALL= \\\n  /bin/ls\n")
	var texts []string
	for {
		tok := lex.Next()
		if tok.Kind == TokEOF {
			break
		}
		if tok.Kind == TokIdent {
			texts = append(texts, tok.Text)
		}
	}
	assert.Equal(t, []string{"alice", "ALL", "/bin/ls"}, texts)
}

func TestLexerComment(t *testing.T) {
	lex := NewLexer("# a comment\nalice")
	tok := lex.Next()
	assert.Equal(t, TokEOL, tok.Kind)
	tok = lex.Next()
	assert.Equal(t, TokIdent, tok.Kind)
	assert.Equal(t, "alice", tok.Text)
}

func TestLexerQuotedString(t *testing.T) {
	lex := NewLexer(`"hello world"`)
	tok := lex.Next()
	assert.Equal(t, TokIdent, tok.Kind)
	assert.Equal(t, "hello world", tok.Text)
}

func TestLexerOperators(t *testing.T) {
	lex := NewLexer(`a+=b-=c!d:e,f(g)@h`)
	var kinds []TokenKind
	for {
		tok := lex.Next()
		if tok.Kind == TokEOF {
			break
		}
		kinds = append(kinds, tok.Kind)
	}
	assert.Contains(t, kinds, TokPlusAssign)
	assert.Contains(t, kinds, TokMinusAssign)
	assert.Contains(t, kinds, TokBang)
	assert.Contains(t, kinds, TokColon)
	assert.Contains(t, kinds, TokComma)
	assert.Contains(t, kinds, TokLParen)
	assert.Contains(t, kinds, TokRParen)
	assert.Contains(t, kinds, TokAt)
}
