package asr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/silent-copilot/internal/sherpa"
)

func TestExtractClauseBoundaryFindsFirstValidClause(t *testing.T) {
	result := sherpa.OfflineRecognizerResult{
		Text:       "Hello there friend.",
		Tokens:     []string{"Hello", " there", " friend", "."},
		Timestamps: []float32{0.1, 0.4, 0.7, 0.9},
	}

	proposal, ok := extractClauseBoundary(result, 1000, 100000, 4, 16000)
	require.True(t, ok)
	assert.Equal(t, uint64(1000+int(0.9*16000)), proposal.ClauseEndIdx)
	assert.Equal(t, "Hello there friend.", proposal.Text)
}

func TestExtractClauseBoundaryRejectsPastSegmentEnd(t *testing.T) {
	result := sherpa.OfflineRecognizerResult{
		Text:       "Hello there friend.",
		Tokens:     []string{"Hello", " there", " friend", "."},
		Timestamps: []float32{0.1, 0.4, 0.7, 5.0},
	}

	// globalEnd is only 1000 samples past globalStart, so a 5s offset
	// clause-end index lands past the segment and must be rejected.
	_, ok := extractClauseBoundary(result, 1000, 1000+1000, 4, 16000)
	assert.False(t, ok)
}

func TestExtractClauseBoundarySkipsSpecialTokens(t *testing.T) {
	result := sherpa.OfflineRecognizerResult{
		Text:       "Hello there friend.",
		Tokens:     []string{"[_SOT_]", "Hello", " there", " friend", "."},
		Timestamps: []float32{0, 0.1, 0.4, 0.7, 0.9},
	}

	proposal, ok := extractClauseBoundary(result, 0, 100000, 4, 16000)
	require.True(t, ok)
	assert.Equal(t, "Hello there friend.", proposal.Text)
}

func TestIsValidClauseSimpleRequiresMinTokensOrPunctuation(t *testing.T) {
	assert.False(t, isValidClauseSimple("hi", 4))
	assert.True(t, isValidClauseSimple("hi.", 4))
	assert.True(t, isValidClauseSimple("one two three four", 4))
	assert.False(t, isValidClauseSimple("", 4))
}
