package link

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/core"
	"github.com/cortexmem/cortex/memory/backend/inmemorybackend"
)

func allScopes(agent string) core.AccessContext {
	return core.AccessContext{AgentID: agent, Scopes: []core.Scope{core.ScopePrivate, core.ScopeShared, core.ScopeGlobal}}
}

func TestLinkerCreatesEdgesToNearestNeighbors(t *testing.T) {
	be := inmemorybackend.New(zerolog.Nop())
	ctx := context.Background()
	actx := allScopes("agent-1")

	near, err := be.Put(ctx, actx, core.Memory{Scope: core.ScopeGlobal, Type: core.TypeFact, Content: "near", Embedding: []float32{1, 0, 0}})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	far, err := be.Put(ctx, actx, core.Memory{Scope: core.ScopeGlobal, Type: core.TypeFact, Content: "far", Embedding: []float32{0, 1, 0}})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	subject, err := be.Put(ctx, actx, core.Memory{Scope: core.ScopeGlobal, Type: core.TypeFact, Content: "subject", Embedding: []float32{0.9, 0.1, 0}})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	l := New(be, Config{Threshold: 0.5, MaxLinks: 5}, zerolog.Nop())
	if err := l.Link(ctx, actx, subject); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	edges, err := be.GetEdges(ctx, actx, subject.ID, core.DirOutgoing, nil, 0)
	if err != nil {
		t.Fatalf("GetEdges failed: %v", err)
	}
	if len(edges) != 1 || edges[0].ToID != near.ID {
		t.Errorf("expected one edge to the near neighbor, got %+v (far=%s)", edges, far.ID)
	}
}

func TestLinkerSetsConfidenceAndMetadataOnEdge(t *testing.T) {
	be := inmemorybackend.New(zerolog.Nop())
	ctx := context.Background()
	actx := allScopes("agent-1")

	near, err := be.Put(ctx, actx, core.Memory{Scope: core.ScopeGlobal, Type: core.TypeFact, Content: "near", Confidence: 0.8, Embedding: []float32{1, 0, 0}})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	subject, err := be.Put(ctx, actx, core.Memory{Scope: core.ScopeGlobal, Type: core.TypeFact, Content: "subject", Confidence: 0.9, Embedding: []float32{0.95, 0.05, 0}})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	l := New(be, Config{Threshold: 0.5, MaxLinks: 5}, zerolog.Nop())
	if err := l.Link(ctx, actx, subject); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	edges, err := be.GetEdges(ctx, actx, subject.ID, core.DirOutgoing, nil, 0)
	if err != nil {
		t.Fatalf("GetEdges failed: %v", err)
	}
	if len(edges) != 1 || edges[0].ToID != near.ID {
		t.Fatalf("expected one edge to the near neighbor, got %+v", edges)
	}
	e := edges[0]
	if e.Confidence != 0.8 {
		t.Errorf("expected confidence min(0.9,0.8)=0.8, got %v", e.Confidence)
	}
	if e.Metadata["linked_by"] != "auto" {
		t.Errorf("expected metadata linked_by=auto, got %+v", e.Metadata)
	}
	if _, ok := e.Metadata["similarity_score"]; !ok {
		t.Errorf("expected metadata similarity_score to be set, got %+v", e.Metadata)
	}
}

func TestLinkerSkipsWhenNoEmbedding(t *testing.T) {
	be := inmemorybackend.New(zerolog.Nop())
	l := New(be, Config{}, zerolog.Nop())
	if err := l.Link(context.Background(), allScopes("a"), core.Memory{ID: "x"}); err != nil {
		t.Errorf("expected no-op, got error: %v", err)
	}
}

func TestLinkerRespectsMaxLinks(t *testing.T) {
	be := inmemorybackend.New(zerolog.Nop())
	ctx := context.Background()
	actx := allScopes("agent-1")

	subject, _ := be.Put(ctx, actx, core.Memory{Scope: core.ScopeGlobal, Type: core.TypeFact, Content: "subject", Embedding: []float32{1, 0, 0}})
	for i := 0; i < 5; i++ {
		_, err := be.Put(ctx, actx, core.Memory{Scope: core.ScopeGlobal, Type: core.TypeFact, Content: "n", Embedding: []float32{1, 0, 0}})
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	l := New(be, Config{Threshold: 0.5, MaxLinks: 2}, zerolog.Nop())
	if err := l.Link(ctx, actx, subject); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	edges, _ := be.GetEdges(ctx, actx, subject.ID, core.DirOutgoing, nil, 0)
	if len(edges) != 2 {
		t.Errorf("expected MaxLinks=2 edges, got %d", len(edges))
	}
}
