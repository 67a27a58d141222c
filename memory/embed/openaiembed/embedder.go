// Package openaiembed adapts github.com/sashabaranov/go-openai to the
// embed.Embedder contract for hosted OpenAI embedding models.
package openaiembed

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexmem/cortex/memory/embed"
)

const defaultRetryAfter = 20 * time.Second

// Embedder calls the OpenAI Embeddings endpoint.
type Embedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	maxRetries uint64
}

// New constructs an OpenAI-backed embedder. If baseURL is empty the
// default OpenAI API endpoint is used (so Azure/compatible gateways can
// be pointed at by setting it). retries bounds the safe-transient retry
// attempts; <= 0 falls back to 2.
func New(apiKey, baseURL, model string, dimensionOverride, retries int) (*Embedder, error) {
	if apiKey == "" {
		return nil, embed.NewMisconfigurationError("openai api key is required", nil)
	}
	dims, err := embed.DimensionsFor(model, dimensionOverride)
	if err != nil {
		return nil, err
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if retries <= 0 {
		retries = 2
	}

	return &Embedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      openai.EmbeddingModel(model),
		dimensions: dims,
		maxRetries: uint64(retries),
	}, nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 1 * time.Second
	eb.Multiplier = 2.0
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 2 * time.Minute
	eb.RandomizationFactor = 0.2

	b := backoff.WithMaxRetries(eb, e.maxRetries)

	var out [][]float32
	operation := func() error {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: e.model,
		})
		if err != nil {
			return classify(err, eb)
		}
		if len(resp.Data) != len(texts) {
			return backoff.Permanent(embed.NewProviderError("openai returned a different number of embeddings than inputs", 0, nil))
		}
		// The API may reorder entries; restore input order by index.
		out = make([][]float32, len(resp.Data))
		for _, d := range resp.Data {
			out[d.Index] = d.Embedding
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func classify(err error, eb *backoff.ExponentialBackOff) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			retryAfter := defaultRetryAfter
			eb.Reset()
			eb.InitialInterval = retryAfter
			return embed.NewRateLimitedError("openai rate limited", &retryAfter, err)
		case apiErr.HTTPStatusCode >= 500:
			return embed.NewTransportError("openai server error", err)
		default:
			wrapped := embed.NewProviderError("openai api error", apiErr.HTTPStatusCode, err)
			return backoff.Permanent(wrapped)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return embed.NewTimeoutError("openai embed timed out", err)
	}
	return embed.NewTransportError("openai embed request failed", err)
}
