package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// AnthropicSummarizer implements Summarizer using Claude via the Messages
// API, through the official SDK client rather than raw HTTP.
type AnthropicSummarizer struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewAnthropicSummarizer returns a configured summarizer.
func NewAnthropicSummarizer(apiKey, model string, maxTokens int64, logger zerolog.Logger) (*AnthropicSummarizer, error) {
	if apiKey == "" {
		return nil, NewError(ErrInvalidArgument, "anthropic api key is required", nil)
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicSummarizer{
		client:    &client,
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With().Str("component", "reflect_summarizer").Logger(),
	}, nil
}

const reflectSystemPrompt = `You condense a cluster of an agent's long-term memory atoms around a topic into one durable summary.

Output a short first line capturing the gist, then (optionally) a blank line and a longer body with supporting detail.
Write in third person. State only stable, reusable conclusions; ignore transient noise.`

func (s *AnthropicSummarizer) Summarize(ctx context.Context, topic string, sources []Memory) (string, error) {
	if len(sources) == 0 {
		return "", NewError(ErrInvalidArgument, "no sources to summarize", nil)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	for i, m := range sources {
		fmt.Fprintf(&b, "Memory %d (%s, confidence %.2f):\n%s\n\n", i+1, m.Type, m.Confidence, m.Content)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: reflectSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2.0
	eb.MaxInterval = 60 * time.Second
	eb.MaxElapsedTime = 2 * time.Minute
	eb.RandomizationFactor = 0.2

	retry := backoff.WithMaxRetries(eb, 5)

	var result string
	operation := func() error {
		message, err := s.client.Messages.New(ctx, params)
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				switch {
				case apiErr.StatusCode == 429:
					s.logger.Warn().Msg("reflect summarizer rate limited, retrying")
					return err
				case apiErr.StatusCode >= 500:
					s.logger.Warn().Int("status", apiErr.StatusCode).Msg("reflect summarizer server error, retrying")
					return err
				default:
					return backoff.Permanent(fmt.Errorf("reflect summarizer: api error: %w", err))
				}
			}
			return err
		}
		if len(message.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("reflect summarizer: empty response"))
		}
		for _, block := range message.Content {
			if text, ok := block.AsAny().(anthropic.TextBlock); ok {
				result = strings.TrimSpace(text.Text)
				break
			}
		}
		if result == "" {
			return backoff.Permanent(fmt.Errorf("reflect summarizer: no text block in response"))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(retry, ctx)); err != nil {
		return "", err
	}
	return result, nil
}
