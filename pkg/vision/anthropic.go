package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 256
)

const matchSystemPrompt = `You verify whether a photo shows a specific vehicle.
You will receive one image and a vehicle description. Respond with strict JSON:
{"matches": true|false, "confidence": 0.0-1.0, "reason": "<one sentence>"}
Judge body style, era, badging, and color when visible. If the image is not a
vehicle at all, matches is false with high confidence.`

// AnthropicMatcher implements Matcher on the Anthropic vision API.
type AnthropicMatcher struct {
	client sdk.Client
	model  string
}

// NewAnthropicMatcher creates a matcher backed by the SDK. An empty model
// selects the default haiku model.
func NewAnthropicMatcher(apiKey, model string) *AnthropicMatcher {
	if model == "" {
		model = defaultModel
	}
	return &AnthropicMatcher{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (m *AnthropicMatcher) CheckMatch(ctx context.Context, imageURL, descriptor string) (MatchResult, error) {
	prompt := fmt.Sprintf("Does this image show the following vehicle?\n\n%s", descriptor)

	msg, err := m.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(m.model),
		MaxTokens: defaultMaxTokens,
		System:    []sdk.TextBlockParam{{Text: matchSystemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlock(sdk.URLImageSourceParam{URL: imageURL}),
				sdk.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return MatchResult{}, classifyError(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return MatchResult{}, eris.New("vision: empty model response")
	}
	return parseMatchResult(text)
}

// parseMatchResult extracts the JSON verdict from the model's text, which may
// carry surrounding prose.
func parseMatchResult(text string) (MatchResult, error) {
	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return MatchResult{}, eris.Errorf("vision: no JSON in response: %s", text)
	}

	var result MatchResult
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &result); err != nil {
		return MatchResult{}, eris.Wrap(err, "vision: parse response JSON")
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}

// classifyError maps transport failures onto the package sentinels so the
// pipeline can schedule retries without knowing about the SDK.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrap(ErrTimeout, "check match")
	}

	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, 529:
			return eris.Wrapf(ErrRateLimited, "status %d", apiErr.StatusCode)
		}
	}
	return eris.Wrap(err, "vision: check match")
}
