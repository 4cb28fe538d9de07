package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tok, err := New("")
	require.NoError(t, err)
	assert.IsType(t, Character{}, tok)

	tok, err = New(TypeTiktoken)
	require.NoError(t, err)
	assert.NotNil(t, tok)

	_, err = New("sentencepiece")
	assert.Error(t, err)
}

func TestCharacter_SequenceLength(t *testing.T) {
	n, err := Character{}.SequenceLength("hello world")
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	n, err = Character{}.SequenceLength("")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTiktoken_SequenceLength(t *testing.T) {
	tok, err := New(TypeTiktoken)
	require.NoError(t, err)

	n, err := tok.SequenceLength("hello world")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	long, err := tok.SequenceLength("The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog.")
	require.NoError(t, err)
	assert.Greater(t, long, n)
}
