// Package index implements the indexer: getting a newly-written memory
// embedded and exposed to retrieval, either inline (ephemeral mode) or
// via a durable at-least-once worker pool (durable mode).
package index

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/core"
	"github.com/cortexmem/cortex/memory/backend"
	"github.com/cortexmem/cortex/memory/embed"
)

// Mode selects how the indexer exposes new memories to retrieval.
type Mode int

const (
	// Ephemeral embeds inline, synchronous with the write.
	Ephemeral Mode = iota
	// Durable enqueues for a worker pool; a crash mid-embed leaves the
	// memory committed but not yet searchable, never lost.
	Durable
)

const (
	// maxAttempts bounds how many times a durable job is tried before
	// the indexer gives up and leaves the memory for the retry sweep.
	maxAttempts = 3
	// dedupWindow suppresses re-enqueues of the same memory id; a burst
	// of writes to one memory indexes it once.
	dedupWindow = 60 * time.Second
)

// job is one durable indexing attempt. delay carries the job's own
// backoff state across retries.
type job struct {
	id      string
	attempt int
	delay   backoff.BackOff
}

func newJob(id string) job {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.Multiplier = 2.0
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0 // the attempt cap bounds retries, not wall clock
	eb.RandomizationFactor = 0.2
	return job{id: id, delay: eb}
}

// Indexer attaches embeddings to memories and persists them.
type Indexer struct {
	embedder embed.Embedder
	be       backend.Backend
	mode     Mode
	workers  int
	system   core.AccessContext // privileged context for background re-fetches
	queue    chan job
	logger   zerolog.Logger

	mu           sync.Mutex
	lastEnqueued map[string]time.Time

	// onEmbedded, if set, is called after a memory is successfully
	// embedded and persisted — the hook the auto-linker hangs off of,
	// in both ephemeral and durable modes.
	onEmbedded func(ctx context.Context, actx core.AccessContext, m core.Memory)
}

// OnEmbedded registers the callback run after a memory is embedded.
func (ix *Indexer) OnEmbedded(fn func(ctx context.Context, actx core.AccessContext, m core.Memory)) {
	ix.onEmbedded = fn
}

// New constructs an Indexer. system is the access context the durable
// worker pool uses to re-fetch queued memories regardless of the scope
// the original caller held.
func New(embedder embed.Embedder, be backend.Backend, mode Mode, workers int, system core.AccessContext, logger zerolog.Logger) *Indexer {
	if workers <= 0 {
		workers = 4
	}
	return &Indexer{
		embedder:     embedder,
		be:           be,
		mode:         mode,
		workers:      workers,
		system:       system,
		queue:        make(chan job, 1024),
		lastEnqueued: make(map[string]time.Time),
		logger:       logger.With().Str("component", "indexer").Logger(),
	}
}

// Dimensions reports the downstream embedder's vector length, or 0 when
// no embedder is configured. The write path uses it to validate a
// caller-supplied embedding before persisting it.
func (ix *Indexer) Dimensions() int {
	if ix.embedder == nil {
		return 0
	}
	return ix.embedder.Dimensions()
}

// Index makes m searchable. In ephemeral mode it embeds and persists
// before returning; in durable mode it enqueues and returns m as
// written (possibly without an embedding yet). Re-enqueues of the same
// memory id within dedupWindow are coalesced into the pending job.
func (ix *Indexer) Index(ctx context.Context, actx core.AccessContext, m core.Memory) (core.Memory, error) {
	if ix.mode == Ephemeral {
		return ix.embedAndPut(ctx, actx, m)
	}

	if !ix.markEnqueued(m.ID) {
		return m, nil // already enqueued within the uniqueness window
	}
	select {
	case ix.queue <- newJob(m.ID):
	default:
		ix.logger.Warn().Str("id", m.ID).Msg("indexer queue full, embedding inline")
		return ix.embedAndPut(ctx, actx, m)
	}
	return m, nil
}

// markEnqueued records an enqueue for id and reports whether it is
// outside the uniqueness window of the previous one. It also prunes
// stale entries so the map stays bounded under churn.
func (ix *Indexer) markEnqueued(id string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	now := time.Now()
	if last, ok := ix.lastEnqueued[id]; ok && now.Sub(last) < dedupWindow {
		return false
	}
	if len(ix.lastEnqueued) > 1024 {
		for k, t := range ix.lastEnqueued {
			if now.Sub(t) >= dedupWindow {
				delete(ix.lastEnqueued, k)
			}
		}
	}
	ix.lastEnqueued[id] = now
	return true
}

func (ix *Indexer) embedAndPut(ctx context.Context, actx core.AccessContext, m core.Memory) (core.Memory, error) {
	// Reload before embedding: a memory deleted since enqueue is
	// terminal success, not an error, and must not be re-created by the
	// Put below.
	current, err := ix.be.Get(ctx, actx, m.ID)
	if err != nil {
		if core.KindOf(err) == core.ErrNotFound {
			return m, nil
		}
		return core.Memory{}, err
	}
	m = current
	vec, err := ix.embedder.Embed(ctx, m.Content)
	if err != nil {
		return core.Memory{}, core.NewError(core.ErrEmbedding, "embed memory content", err)
	}
	if want := ix.embedder.Dimensions(); len(vec) != want {
		return core.Memory{}, core.NewError(core.ErrEmbedding, "embedding length does not match the configured dimensionality", nil)
	}
	m.Embedding = vec
	stored, err := ix.be.Put(ctx, actx, m)
	if err != nil {
		return core.Memory{}, err
	}
	if ix.onEmbedded != nil {
		ix.onEmbedded(ctx, actx, stored)
	}
	return stored, nil
}

// Run starts the durable worker pool. Call it once in its own goroutine
// per Indexer constructed with Durable mode.
func (ix *Indexer) Run(ctx context.Context) {
	for i := 0; i < ix.workers; i++ {
		go ix.worker(ctx)
	}
	<-ctx.Done()
}

func (ix *Indexer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ix.queue:
			ix.processOne(ctx, j)
		}
	}
}

// RetrySweep re-enqueues memories still missing an embedding — the
// durable queue lives only in process memory, so a crash between a
// commit and its embed needs this to pick the memory back up on
// restart (or on any later sweep, after a job exhausted its attempts).
func (ix *Indexer) RetrySweep(ctx context.Context) error {
	if ix.mode != Durable {
		return nil
	}
	stale, err := ix.be.ListUnembedded(ctx, cap(ix.queue))
	if err != nil {
		return core.NewError(core.ErrBackend, "list unembedded memories", err)
	}
	requeued := 0
	for _, m := range stale {
		if !ix.markEnqueued(m.ID) {
			continue
		}
		select {
		case ix.queue <- newJob(m.ID):
			requeued++
		default:
			ix.logger.Warn().Str("id", m.ID).Msg("retry sweep: queue full, will retry next sweep")
		}
	}
	if requeued > 0 {
		ix.logger.Info().Int("count", requeued).Msg("retry sweep re-enqueued unembedded memories")
	}
	return nil
}

func (ix *Indexer) processOne(ctx context.Context, j job) {
	m, err := ix.be.Get(ctx, ix.system, j.id)
	if err != nil {
		ix.logger.Error().Err(err).Str("id", j.id).Msg("durable index: memory vanished before embedding")
		return
	}
	if len(m.Embedding) > 0 {
		return // already embedded by a previous attempt; at-least-once is idempotent here
	}
	if _, err := ix.embedAndPut(ctx, ix.system, m); err != nil {
		ix.retry(ctx, j, err)
	}
}

// retry re-enqueues a failed job after its backoff delay, giving up
// once the attempt cap is reached — the periodic retry sweep then
// remains the only path back for that memory.
func (ix *Indexer) retry(ctx context.Context, j job, cause error) {
	j.attempt++
	if j.attempt >= maxAttempts {
		ix.logger.Error().Err(cause).Str("id", j.id).Int("attempts", j.attempt).
			Msg("durable index: giving up, retry sweep will reconsider")
		return
	}
	wait := j.delay.NextBackOff()
	ix.logger.Warn().Err(cause).Str("id", j.id).Int("attempt", j.attempt).Dur("backoff", wait).
		Msg("durable index: embed failed, retrying")
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(wait):
			select {
			case ix.queue <- j:
			default:
				ix.logger.Warn().Str("id", j.id).Msg("durable index: queue full on retry, dropping to sweep")
			}
		}
	}()
}
