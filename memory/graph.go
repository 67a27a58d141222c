package memory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/backend"
)

// Graph is the graph service: link/neighbors/expand over the edge
// graph.
type Graph struct {
	be     backend.Backend
	logger zerolog.Logger
}

func NewGraph(be backend.Backend, logger zerolog.Logger) *Graph {
	return &Graph{be: be, logger: logger.With().Str("component", "graph").Logger()}
}

// Link validates and upserts an edge between two existing memories,
// defaulting Confidence to 1.0 (a caller-authored edge is assumed
// certain). Use LinkEdge directly when a caller (the auto-linker, the
// reflect orchestrator) needs to set Confidence/Metadata explicitly.
func (g *Graph) Link(ctx context.Context, actx AccessContext, fromID, toID string, edgeType EdgeType, weight float64) error {
	e := Edge{
		FromID: fromID,
		ToID:   toID,
		Type:   edgeType,
		Weight: weight,
	}
	_, err := g.LinkEdge(ctx, actx, e)
	return err
}

// LinkEdge validates and upserts e as-is, applying
// Confidence's default and stamping CreatedAt when unset.
func (g *Graph) LinkEdge(ctx context.Context, actx AccessContext, e Edge) (Edge, error) {
	e = e.ApplyDefaults()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := e.ValidateInvariants(); err != nil {
		return Edge{}, err
	}
	return g.be.PutEdge(ctx, actx, e)
}

// Unlink removes the (from, to, type) edge. Unlinking an edge that was
// never created (or already removed) succeeds without effect.
func (g *Graph) Unlink(ctx context.Context, actx AccessContext, fromID, toID string, edgeType EdgeType) error {
	return g.be.DeleteEdge(ctx, actx, fromID, toID, edgeType)
}

// Neighbors returns id's direct {memory, edge} pairs in the requested
// direction, filtered per opts. Peers the caller cannot access are
// dropped, not surfaced as errors.
func (g *Graph) Neighbors(ctx context.Context, actx AccessContext, id string, opts NeighborOptions) ([]Neighbor, error) {
	opts = opts.WithDefaults()
	edges, err := g.be.GetEdges(ctx, actx, id, opts.Direction, opts.Types, opts.MinWeight)
	if err != nil {
		return nil, err
	}

	out := make([]Neighbor, 0, len(edges))
	for _, e := range edges {
		peerID := e.ToID
		if peerID == id {
			peerID = e.FromID
		}
		peer, err := g.be.Get(ctx, actx, peerID)
		if err != nil {
			continue
		}
		out = append(out, Neighbor{Memory: peer, Edge: e})
		if len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// EdgesAmong returns the induced subgraph over ids: every edge whose
// endpoints are both present in ids. Used by the reduction service to
// render "Memory Relationships" alongside a recalled result set.
func (g *Graph) EdgesAmong(ctx context.Context, actx AccessContext, ids []string) ([]Edge, error) {
	members := make(map[string]bool, len(ids))
	for _, id := range ids {
		members[id] = true
	}

	var out []Edge
	for _, id := range ids {
		edges, err := g.be.GetEdges(ctx, actx, id, DirOutgoing, nil, 0)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if members[e.ToID] {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

// Expand breadth-first traverses out from ids, capped at depth (max 3),
// returning only the newly-reached memories.
func (g *Graph) Expand(ctx context.Context, actx AccessContext, ids []string, depth int, opts ExpandOptions) ([]Memory, error) {
	opts = opts.WithDefaults()
	if depth > maxExpandDepth {
		depth = maxExpandDepth
	}
	return g.be.Expand(ctx, actx, ids, depth, opts.MinWeight, opts.MinConfidence, opts.Limit)
}

// ExpandSubgraph is Expand plus the seeds themselves and the induced
// edge set: every edge at or above opts.MinWeight whose endpoints are
// both in the returned memory set. Seeds the caller cannot access are
// dropped rather than surfaced as errors.
func (g *Graph) ExpandSubgraph(ctx context.Context, actx AccessContext, ids []string, depth int, opts ExpandOptions) ([]Memory, []Edge, error) {
	opts = opts.WithDefaults()

	var memories []Memory
	members := make(map[string]bool, len(ids))
	for _, id := range ids {
		seed, err := g.be.Get(ctx, actx, id)
		if err != nil {
			continue
		}
		memories = append(memories, seed)
		members[id] = true
	}

	reached, err := g.Expand(ctx, actx, ids, depth, opts)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range reached {
		if members[m.ID] {
			continue
		}
		memories = append(memories, m)
		members[m.ID] = true
	}

	var edges []Edge
	for _, m := range memories {
		out, err := g.be.GetEdges(ctx, actx, m.ID, DirOutgoing, nil, opts.MinWeight)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range out {
			if members[e.ToID] {
				edges = append(edges, e)
			}
		}
	}
	return memories, edges, nil
}
