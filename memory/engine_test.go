package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/backend/inmemorybackend"
	"github.com/cortexmem/cortex/memory/embed/testembed"
	"github.com/cortexmem/cortex/memory/index"
	"github.com/cortexmem/cortex/memory/link"
)

func newTestEngine(t *testing.T) (*Engine, *inmemorybackend.Backend) {
	t.Helper()
	be := inmemorybackend.New(zerolog.Nop())
	actx := allScopesActx("system")
	ix := index.New(testembed.NewSemantic(16), be, index.Ephemeral, 1, actx, zerolog.Nop())
	linker := link.New(be, link.Config{Threshold: 0.1, MaxLinks: 5}, zerolog.Nop())
	storage := NewStorage(be, ix, linker, zerolog.Nop())
	graph := NewGraph(be, zerolog.Nop())
	retrieval := NewRetrieval(be, graph, testembed.NewSemantic(16), zerolog.Nop())
	reflector := NewReflector(retrieval, graph, storage, &stubSummarizer{text: "gist\ndetail"}, zerolog.Nop())
	return NewEngine(be, storage, retrieval, graph, reflector, zerolog.Nop()), be
}

func TestEngineRememberRecallForget(t *testing.T) {
	e, be := newTestEngine(t)
	ctx := context.Background()
	actx := allScopesActx("agent-1")

	stored, err := e.Remember(ctx, actx, Memory{Type: TypeFact, Content: "the mitochondria is the powerhouse of the cell"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	waitForEmbedding(t, be, actx, stored.ID)

	results, err := e.Recall(ctx, actx, "mitochondria powerhouse of the cell", RecallOptions{Limit: 5, Threshold: 0.1})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	found := false
	for _, m := range results {
		if m.ID == stored.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Recall to surface the remembered memory, got %+v", results)
	}

	if err := e.Forget(ctx, actx, stored.ID); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if _, err := e.Recall(ctx, actx, "mitochondria powerhouse of the cell", RecallOptions{Limit: 5, Threshold: 0.1}); err != nil {
		t.Fatalf("Recall after forget failed: %v", err)
	}
}

func TestEngineLinkAndNeighbors(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	actx := allScopesActx("agent-1")

	a, err := e.Remember(ctx, actx, Memory{Scope: ScopeGlobal, Type: TypeFact, Content: "a"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	b, err := e.Remember(ctx, actx, Memory{Scope: ScopeGlobal, Type: TypeFact, Content: "b"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	if err := e.Link(ctx, actx, a.ID, b.ID, EdgeCauses, 0.7); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	neighbors, err := e.Neighbors(ctx, actx, a.ID, NeighborOptions{Types: []EdgeType{EdgeCauses}})
	if err != nil {
		t.Fatalf("Neighbors failed: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].Edge.ToID != b.ID {
		t.Errorf("expected one causes edge to b, got %+v", neighbors)
	}

	if err := e.Unlink(ctx, actx, a.ID, b.ID, EdgeCauses); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	neighbors, err = e.Neighbors(ctx, actx, a.ID, NeighborOptions{Types: []EdgeType{EdgeCauses}})
	if err != nil {
		t.Fatalf("Neighbors after unlink failed: %v", err)
	}
	if len(neighbors) != 0 {
		t.Errorf("expected the causes edge to be gone, got %+v", neighbors)
	}
}

func TestEngineForgetRequiresOwnershipOrSystemRole(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	owner := allScopesActx("agent-1")

	m, err := e.Remember(ctx, owner, Memory{Type: TypeFact, Content: "mine alone"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	// A shared fixture another agent can read but does not own.
	shared, err := e.Remember(ctx, owner, Memory{Scope: ScopeShared, Type: TypeFact, Content: "team fact", Confidence: 0.9})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	other := allScopesActx("agent-2")
	if err := e.Forget(ctx, other, shared.ID); KindOf(err) != ErrAccessDenied {
		t.Errorf("expected access_denied deleting another agent's memory, got %v", err)
	}

	system := AccessContext{AgentID: "system", Role: RoleSystem}
	if err := e.Forget(ctx, system, shared.ID); err != nil {
		t.Errorf("expected system role to delete any memory, got %v", err)
	}
	if err := e.Forget(ctx, owner, m.ID); err != nil {
		t.Errorf("expected the owner to delete its own memory, got %v", err)
	}
}

func TestEngineListNewestFirst(t *testing.T) {
	e, be := newTestEngine(t)
	ctx := context.Background()
	actx := allScopesActx("agent-1")

	older, err := e.Remember(ctx, actx, Memory{Type: TypeFact, Content: "older", Tags: []string{"history"}})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	waitForEmbedding(t, be, actx, older.ID)
	newer, err := e.Remember(ctx, actx, Memory{Type: TypeObservation, Content: "newer"})
	if err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
	waitForEmbedding(t, be, actx, newer.ID)

	all, err := e.List(ctx, actx, ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != newer.ID || all[1].ID != older.ID {
		t.Errorf("expected newest-first ordering, got %+v", all)
	}

	tagged, err := e.List(ctx, actx, ListOptions{Tags: []string{"history"}})
	if err != nil {
		t.Fatalf("List by tag failed: %v", err)
	}
	if len(tagged) != 1 || tagged[0].ID != older.ID {
		t.Errorf("expected only the tagged memory, got %+v", tagged)
	}

	typed, err := e.List(ctx, actx, ListOptions{Types: []MemoryType{TypeObservation}})
	if err != nil {
		t.Fatalf("List by type failed: %v", err)
	}
	if len(typed) != 1 || typed[0].ID != newer.ID {
		t.Errorf("expected only the observation, got %+v", typed)
	}
}
