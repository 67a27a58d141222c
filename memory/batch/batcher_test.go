package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/embed/testembed"
)

type countingEmbedder struct {
	mu     sync.Mutex
	inner  *testembed.Semantic
	calls  int
	sizes  []int
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.calls++
	c.sizes = append(c.sizes, len(texts))
	c.mu.Unlock()
	return c.inner.EmbedMany(ctx, texts)
}

func TestBatcherFlushesOnSize(t *testing.T) {
	embedder := &countingEmbedder{inner: testembed.NewSemantic(16)}
	b := New(embedder, Config{BatchSize: 3, BatchTimeout: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := b.Embed(ctx, "text"); err != nil {
				t.Errorf("Embed failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	embedder.mu.Lock()
	calls := embedder.calls
	embedder.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected exactly 1 EmbedMany call for a full batch, got %d", calls)
	}
}

func TestBatcherFlushesOnTimeout(t *testing.T) {
	embedder := &countingEmbedder{inner: testembed.NewSemantic(16)}
	b := New(embedder, Config{BatchSize: 100, BatchTimeout: 20 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	vec, err := b.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 16 {
		t.Errorf("expected 16-dim vector, got %d", len(vec))
	}

	embedder.mu.Lock()
	calls := embedder.calls
	embedder.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected exactly 1 timeout-triggered flush, got %d calls", calls)
	}
}

func TestBatcherStaleTimerDiscarded(t *testing.T) {
	embedder := &countingEmbedder{inner: testembed.NewSemantic(16)}
	b := New(embedder, Config{BatchSize: 2, BatchTimeout: 15 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			if _, err := b.Embed(ctx, "a"); err != nil {
				t.Errorf("Embed failed: %v", err)
			}
		}()
	}
	wg.Wait() // size-triggered flush happens before the 15ms timer fires

	// Give the already-flushed batch's timer time to fire into fireCh;
	// it must not cause a second flush.
	time.Sleep(40 * time.Millisecond)

	embedder.mu.Lock()
	calls := embedder.calls
	embedder.mu.Unlock()
	if calls != 1 {
		t.Errorf("expected 1 call after size flush plus a discarded stale timer, got %d", calls)
	}
}

func TestBatcherEmbedManyReturnsOneVectorPerText(t *testing.T) {
	embedder := &countingEmbedder{inner: testembed.NewSemantic(8)}
	b := New(embedder, Config{BatchSize: 4, BatchTimeout: 10 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	vecs, err := b.EmbedMany(ctx, []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("EmbedMany failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
}
