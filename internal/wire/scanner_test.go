package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner_PeekSkipsWhitespace(t *testing.T) {
	sc := NewScanner("   \t\n{", false)
	assert.Equal(t, byte('{'), sc.Peek())
}

func TestScanner_PeekSkipsCommentsWhenEnabled(t *testing.T) {
	sc := NewScanner("# a comment\ninterface", true)
	assert.Equal(t, byte('i'), sc.Peek())
}

func TestScanner_PeekTreatsHashLiterallyWhenCommentsDisabled(t *testing.T) {
	sc := NewScanner("#notacomment", false)
	assert.Equal(t, byte('#'), sc.Peek())
}

func TestScanner_ReadKeyword(t *testing.T) {
	sc := NewScanner("true, false", false)
	require.NoError(t, sc.ReadKeyword("true"))
	require.NoError(t, sc.ReadOperator(","))
	require.NoError(t, sc.ReadKeyword("false"))
}

func TestScanner_ReadKeywordRejectsPrefixMatch(t *testing.T) {
	sc := NewScanner("truthy", false)
	require.Error(t, sc.ReadKeyword("true"))
}

func TestScanner_ReadWord(t *testing.T) {
	sc := NewScanner("org.varlink.service", false)
	word, err := sc.ReadWord()
	require.NoError(t, err)
	assert.Equal(t, "org.varlink.service", word)
}

func TestScanner_ReadNumberHandlesSign(t *testing.T) {
	sc := NewScanner("-42", false)
	n, err := sc.ReadNumber()
	require.NoError(t, err)
	assert.EqualValues(t, -42, n)
}

func TestScanner_ReadStringHandlesEscapes(t *testing.T) {
	sc := NewScanner(`"a\n\tb\"c"`, false)
	s, err := sc.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "a\n\tb\"c", s)
}

// TestScanner_ReadStringSurrogatePairNotDecoded reproduces the original
// driver's handling of a \uXXXX escape pair outside the Basic
// Multilingual Plane: each half is independently re-encoded as a
// three-byte sequence rather than combined into one four-byte UTF-8
// sequence for the actual codepoint.
func TestScanner_ReadStringSurrogatePairNotDecoded(t *testing.T) {
	sc := NewScanner("\"\\uD834\\uDD1E\"", false)
	s, err := sc.ReadString()
	require.NoError(t, err)

	high := []byte{0xe0 | byte(0xD834>>12), 0x80 | byte((0xD834>>6)&0x3f), 0x80 | byte(0xD834&0x3f)}
	low := []byte{0xe0 | byte(0xDD1E>>12), 0x80 | byte((0xDD1E>>6)&0x3f), 0x80 | byte(0xDD1E&0x3f)}
	want := append(append([]byte{}, high...), low...)

	assert.Equal(t, string(want), s)
	assert.NotEqual(t, "\U0001D11E", s)
}

func TestScanner_ReadOperatorSkip(t *testing.T) {
	sc := NewScanner("anything ) rest", false)
	require.NoError(t, sc.ReadOperatorSkip(")"))
	assert.Equal(t, byte('r'), sc.Peek())
}

func TestScanner_AtEnd(t *testing.T) {
	sc := NewScanner("   ", false)
	assert.True(t, sc.AtEnd())
}
