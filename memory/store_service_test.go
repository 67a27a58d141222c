package memory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/backend/inmemorybackend"
	"github.com/cortexmem/cortex/memory/embed/testembed"
	"github.com/cortexmem/cortex/memory/index"
	"github.com/cortexmem/cortex/memory/link"
)

// waitForEmbedding polls the backend until the async indexer has
// attached an embedding (or the deadline elapses), mirroring how the
// durable-mode indexer test observes its own background worker.
func waitForEmbedding(t *testing.T, be *inmemorybackend.Backend, actx AccessContext, id string) Memory {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		m, err := be.Get(context.Background(), actx, id)
		if err == nil && len(m.Embedding) > 0 {
			return m
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for memory %s to be embedded", id)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newTestStorage(t *testing.T) (*Storage, *inmemorybackend.Backend) {
	t.Helper()
	be := inmemorybackend.New(zerolog.Nop())
	actx := allScopesActx("system")
	ix := index.New(testembed.NewSemantic(16), be, index.Ephemeral, 1, actx, zerolog.Nop())
	linker := link.New(be, link.Config{Threshold: 0.1, MaxLinks: 5}, zerolog.Nop())
	return NewStorage(be, ix, linker, zerolog.Nop()), be
}

func TestStoreAssignsIDAndTimestamps(t *testing.T) {
	storage, be := newTestStorage(t)
	actx := allScopesActx("agent-1")

	stored, err := storage.Store(context.Background(), actx, Memory{Scope: ScopeGlobal, Type: TypeFact, Content: "the sky is blue"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if stored.ID == "" {
		t.Error("expected Store to assign an ID")
	}
	if stored.CreatedAt.IsZero() {
		t.Error("expected Store to set CreatedAt")
	}

	embedded := waitForEmbedding(t, be, actx, stored.ID)
	if len(embedded.Embedding) == 0 {
		t.Error("expected async indexing to eventually attach an embedding")
	}
}

func TestStoreRejectsInvalidDraft(t *testing.T) {
	storage, _ := newTestStorage(t)
	actx := allScopesActx("agent-1")

	_, err := storage.Store(context.Background(), actx, Memory{Scope: ScopeGlobal, OwnerID: "someone-else", Type: TypeFact, Content: "x"})
	if KindOf(err) != ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument for a global memory with an explicit owner, got %v", err)
	}
}

func TestStoreDemotesLowConfidenceToPrivate(t *testing.T) {
	storage, _ := newTestStorage(t)
	actx := allScopesActx("agent-1")

	stored, err := storage.Store(context.Background(), actx, Memory{Scope: ScopeShared, Type: TypeFact, Content: "x", Confidence: 0.5})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if stored.Scope != ScopePrivate {
		t.Errorf("expected confidence 0.5 to demote scope to private, got %v", stored.Scope)
	}
}

func TestStoreAcceptsMatchingPrecomputedEmbedding(t *testing.T) {
	storage, be := newTestStorage(t)
	actx := allScopesActx("agent-1")

	vec := make([]float32, 16)
	vec[0] = 1
	stored, err := storage.Store(context.Background(), actx, Memory{Scope: ScopeGlobal, Type: TypeFact, Content: "pre-embedded", Embedding: vec})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := be.Get(context.Background(), actx, stored.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Embedding) != 16 {
		t.Errorf("expected the caller-supplied embedding to be persisted as-is, got len %d", len(got.Embedding))
	}
}

func TestStoreRejectsWrongLengthEmbedding(t *testing.T) {
	storage, _ := newTestStorage(t)
	actx := allScopesActx("agent-1")

	_, err := storage.Store(context.Background(), actx, Memory{Scope: ScopeGlobal, Type: TypeFact, Content: "bad vector", Embedding: []float32{1, 2, 3}})
	if KindOf(err) != ErrInvalidArgument {
		t.Errorf("expected a wrong-length caller-supplied embedding to be rejected, got %v", err)
	}
}

func TestStoreTriggersAutoLink(t *testing.T) {
	storage, be := newTestStorage(t)
	actx := allScopesActx("agent-1")

	first, err := storage.Store(context.Background(), actx, Memory{Scope: ScopeGlobal, Type: TypeFact, Content: "paris is the capital of france"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	waitForEmbedding(t, be, actx, first.ID)

	second, err := storage.Store(context.Background(), actx, Memory{Scope: ScopeGlobal, Type: TypeFact, Content: "paris is the capital of france"})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	waitForEmbedding(t, be, actx, second.ID)

	deadline := time.After(2 * time.Second)
	for {
		edges, err := be.GetEdges(context.Background(), actx, second.ID, DirOutgoing, nil, 0)
		if err != nil {
			t.Fatalf("GetEdges failed: %v", err)
		}
		for _, e := range edges {
			if e.ToID == first.ID {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for an auto-link edge from %s to %s, got %+v", second.ID, first.ID, edges)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
