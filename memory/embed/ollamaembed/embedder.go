// Package ollamaembed adapts the Ollama API client to the embed.Embedder
// contract for locally-hosted embedding models.
package ollamaembed

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/embed"
)

type Embedder struct {
	client     *api.Client
	model      string
	dimensions int
	maxRetries uint64
	logger     zerolog.Logger
}

// New builds an Ollama-backed embedder for model, resolved against the
// recognized dimension table unless dimensionOverride is > 0. retries
// bounds the safe-transient retry attempts; <= 0 falls back to 2.
func New(client *api.Client, model string, dimensionOverride, retries int, logger zerolog.Logger) (*Embedder, error) {
	dims, err := embed.DimensionsFor(model, dimensionOverride)
	if err != nil {
		return nil, err
	}
	if retries <= 0 {
		retries = 2
	}
	return &Embedder{
		client:     client,
		model:      model,
		dimensions: dims,
		maxRetries: uint64(retries),
		logger:     logger.With().Str("component", "ollamaembed").Logger(),
	}, nil
}

// NewFromEnvironment discovers the Ollama client from OLLAMA_HOST.
func NewFromEnvironment(model string, dimensionOverride, retries int, logger zerolog.Logger) (*Embedder, error) {
	cli, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, embed.NewMisconfigurationError("ollama client from environment", err)
	}
	return New(cli, model, dimensionOverride, retries, logger)
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
	eb.InitialInterval = 250 * time.Millisecond
	eb.Multiplier = 2.0
	eb.MaxInterval = 10 * time.Second
	eb.MaxElapsedTime = 30 * time.Second
	eb.RandomizationFactor = 0.2

	b := backoff.WithMaxRetries(eb, e.maxRetries)

	var out [][]float32
	operation := func() error {
		resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
		if err != nil {
			// A model that rejects list input outright gets the batch
			// replayed as sequential single-item calls, order preserved.
			var statusErr api.StatusError
			if len(texts) > 1 && errors.As(err, &statusErr) && statusErr.StatusCode == 400 {
				seq, seqErr := e.embedSequential(ctx, texts)
				if seqErr != nil {
					return backoff.Permanent(seqErr)
				}
				out = seq
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				wrapped := embed.NewTimeoutError("ollama embed timed out", err)
				return wrapped
			}
			wrapped := embed.NewTransportError("ollama embed request failed", err)
			e.logger.Warn().Err(err).Msg("ollama embed failed, retrying")
			return wrapped
		}
		if len(resp.Embeddings) != len(texts) {
			return backoff.Permanent(embed.NewProviderError("ollama returned a different number of embeddings than inputs", 0, nil))
		}
		out = resp.Embeddings
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Embedder) embedSequential(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: t})
		if err != nil {
			return nil, embed.NewTransportError("ollama single-item embed failed", err)
		}
		if len(resp.Embeddings) != 1 {
			return nil, embed.NewProviderError("ollama returned no embedding for a single input", 0, nil)
		}
		out[i] = resp.Embeddings[0]
	}
	return out, nil
}
