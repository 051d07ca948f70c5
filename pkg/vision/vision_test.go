package vision

import (
	"context"
	"net/http"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMatchResult(t *testing.T) {
	res, err := parseMatchResult(`{"matches": true, "confidence": 0.92, "reason": "silver 2003 Accord sedan"}`)
	require.NoError(t, err)
	assert.True(t, res.Matches)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Equal(t, "silver 2003 Accord sedan", res.Reason)
}

func TestParseMatchResult_SurroundingProse(t *testing.T) {
	res, err := parseMatchResult("Here is my verdict:\n{\"matches\": false, \"confidence\": 0.8}\nLet me know if you need more.")
	require.NoError(t, err)
	assert.False(t, res.Matches)
}

func TestParseMatchResult_ClampsConfidence(t *testing.T) {
	res, err := parseMatchResult(`{"matches": true, "confidence": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)

	res, err = parseMatchResult(`{"matches": false, "confidence": -0.2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestParseMatchResult_NoJSON(t *testing.T) {
	_, err := parseMatchResult("I cannot tell.")
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	assert.True(t, eris.Is(classifyError(context.DeadlineExceeded), ErrTimeout))
	assert.True(t, eris.Is(classifyError(&sdk.Error{StatusCode: http.StatusTooManyRequests}), ErrRateLimited))
	assert.True(t, eris.Is(classifyError(&sdk.Error{StatusCode: 529}), ErrRateLimited))

	err := classifyError(&sdk.Error{StatusCode: http.StatusInternalServerError})
	assert.False(t, eris.Is(err, ErrTimeout))
	assert.False(t, eris.Is(err, ErrRateLimited))
	assert.Error(t, err)
}

func TestMatcherFunc(t *testing.T) {
	m := MatcherFunc(func(ctx context.Context, imageURL, descriptor string) (MatchResult, error) {
		return MatchResult{Matches: true, Confidence: 0.5}, nil
	})
	res, err := m.CheckMatch(context.Background(), "https://cdn.example.com/1.jpg", "2003 Honda Accord")
	require.NoError(t, err)
	assert.True(t, res.Matches)
}
