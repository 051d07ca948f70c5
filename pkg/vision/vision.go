// Package vision checks whether a photo plausibly shows a given vehicle.
package vision

import (
	"context"

	"github.com/rotisserie/eris"
)

// Common failure modes callers branch on.
var (
	ErrTimeout     = eris.New("vision: check timed out")
	ErrRateLimited = eris.New("vision: rate limited")
)

// MatchResult is the outcome of one image check.
type MatchResult struct {
	Matches    bool    `json:"matches"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Matcher decides whether the image at imageURL shows a vehicle matching the
// given descriptor (make, model, year, identifier where known).
type Matcher interface {
	CheckMatch(ctx context.Context, imageURL, descriptor string) (MatchResult, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ctx context.Context, imageURL, descriptor string) (MatchResult, error)

func (f MatcherFunc) CheckMatch(ctx context.Context, imageURL, descriptor string) (MatchResult, error) {
	return f(ctx, imageURL, descriptor)
}
