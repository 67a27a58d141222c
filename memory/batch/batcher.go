// Package batch coalesces concurrent embedding requests into batched
// EmbedMany calls, on a single actor goroutine driven by channels and
// a per-batch timer.
package batch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/embed"
)

// Config tunes the batcher.
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 50 * time.Millisecond
	}
	return c
}

type request struct {
	text  string
	reply chan reply
}

type reply struct {
	vec []float32
	err error
}

type timerFire struct {
	batchID uint64
}

// Batcher embeds text through a shared downstream Embedder, merging
// concurrent callers into one EmbedMany call per flush.
type Batcher struct {
	embedder embed.Embedder
	cfg      Config
	logger   zerolog.Logger

	reqCh chan request
}

// New constructs a Batcher. Run must be started in its own goroutine
// before Embed is called.
func New(embedder embed.Embedder, cfg Config, logger zerolog.Logger) *Batcher {
	return &Batcher{
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "batcher").Logger(),
		reqCh:    make(chan request),
	}
}

// Dimensions proxies the downstream embedder's dimension.
func (b *Batcher) Dimensions() int { return b.embedder.Dimensions() }

// Embed enqueues text for the next batch and blocks for its reply.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	r := request{text: text, reply: make(chan reply, 1)}
	select {
	case b.reqCh <- r:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rep := <-r.reply:
		return rep.vec, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EmbedMany submits each text independently and waits for all replies;
// callers that want a true passthrough batch should call the downstream
// embedder directly instead.
func (b *Batcher) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := b.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Run is the batcher's actor loop. It owns all mutable batching state,
// so Embed callers never touch pending/timer state directly.
func (b *Batcher) Run(ctx context.Context) {
	var pending []request
	var batchID uint64
	fireCh := make(chan timerFire, 1)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.text
		}

		vecs, err := b.embedder.EmbedMany(ctx, texts)
		for i, r := range batch {
			if err != nil {
				r.reply <- reply{err: err}
				continue
			}
			r.reply <- reply{vec: vecs[i]}
		}
	}

	armTimer := func(id uint64) {
		go func() {
			select {
			case <-time.After(b.cfg.BatchTimeout):
				select {
				case fireCh <- timerFire{batchID: id}:
				case <-ctx.Done():
				}
			case <-ctx.Done():
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case r := <-b.reqCh:
			if len(pending) == 0 {
				batchID++
				armTimer(batchID)
			}
			pending = append(pending, r)
			if len(pending) >= b.cfg.BatchSize {
				flush()
			}

		case f := <-fireCh:
			if f.batchID != batchID {
				continue // stale timer for an already-flushed batch
			}
			flush()
		}
	}
}
