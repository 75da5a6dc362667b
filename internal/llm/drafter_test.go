package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuggestion(t *testing.T) {
	s, err := parseSuggestion(`{"headline": "Shelter Alpha reported closed", "body": "Unconfirmed reports...", "hedged": true, "next_step": "call shelter ops"}`)
	require.NoError(t, err)
	assert.Equal(t, "Shelter Alpha reported closed", s.Headline)
	assert.True(t, s.Hedged)
}

func TestParseSuggestion_StripsCodeFence(t *testing.T) {
	s, err := parseSuggestion("```json\n{\"headline\": \"h\", \"body\": \"b\", \"hedged\": false}\n```")
	require.NoError(t, err)
	assert.Equal(t, "h", s.Headline)
}

func TestParseSuggestion_RejectsGarbage(t *testing.T) {
	_, err := parseSuggestion("I cannot help with that.")
	require.Error(t, err)

	_, err = parseSuggestion(`{"headline": "", "body": ""}`)
	require.Error(t, err)
}

func TestNewDrafter_RequiresKey(t *testing.T) {
	_, err := NewDrafter("", "")
	require.Error(t, err)
}
