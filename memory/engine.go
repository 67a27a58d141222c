package memory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/backend"
)

// Engine is the public facade every agent calls — the single entry
// point composing storage, retrieval, graph and reflect into one API.
type Engine struct {
	Storage   *Storage
	Retrieval *Retrieval
	Graph     *Graph
	Reflector *Reflector

	be     backend.Backend
	logger zerolog.Logger
}

// NewEngine assembles the facade from its already-constructed services.
func NewEngine(be backend.Backend, storage *Storage, retrieval *Retrieval, graph *Graph, reflector *Reflector, logger zerolog.Logger) *Engine {
	return &Engine{
		Storage:   storage,
		Retrieval: retrieval,
		Graph:     graph,
		Reflector: reflector,
		be:        be,
		logger:    logger.With().Str("component", "engine").Logger(),
	}
}

// Remember is a thin, agent-facing wrapper around the storage service.
func (e *Engine) Remember(ctx context.Context, actx AccessContext, draft Memory) (Memory, error) {
	return e.Storage.Store(ctx, actx, draft)
}

// Recall is a thin, agent-facing wrapper around the retrieval service.
func (e *Engine) Recall(ctx context.Context, actx AccessContext, query string, opts RecallOptions) ([]Memory, error) {
	return e.Retrieval.Recall(ctx, actx, query, opts)
}

// RecallContext recalls, then hands the scored
// result set (plus the induced edge subgraph, when requested) to the
// reduction service for token-budgeted formatting.
func (e *Engine) RecallContext(ctx context.Context, actx AccessContext, query string, recallOpts RecallOptions, reduceOpts ReduceOptions) (string, error) {
	scored, err := e.Retrieval.RecallScored(ctx, actx, query, recallOpts)
	if err != nil {
		return "", err
	}

	var edges []Edge
	if reduceOpts.IncludeEdges && len(scored) > 0 {
		ids := make([]string, len(scored))
		for i, s := range scored {
			ids[i] = s.Memory.ID
		}
		edges, err = e.Graph.EdgesAmong(ctx, actx, ids)
		if err != nil {
			e.logger.Warn().Err(err).Msg("fetch edges for recall context failed")
		}
	}

	return Reduce(scored, edges, reduceOpts)
}

// Get loads one memory under actx's access rules.
func (e *Engine) Get(ctx context.Context, actx AccessContext, id string) (Memory, error) {
	return e.Storage.Get(ctx, actx, id)
}

// List returns memories visible to actx, newest first.
func (e *Engine) List(ctx context.Context, actx AccessContext, opts ListOptions) ([]Memory, error) {
	return e.Storage.List(ctx, actx, opts)
}

// Forget removes a memory and its edges; only the memory's owner or a
// system-role context may do so.
func (e *Engine) Forget(ctx context.Context, actx AccessContext, id string) error {
	return e.Storage.Delete(ctx, actx, id)
}

// Link is a thin, agent-facing wrapper around the graph service.
func (e *Engine) Link(ctx context.Context, actx AccessContext, fromID, toID string, edgeType EdgeType, weight float64) error {
	return e.Graph.Link(ctx, actx, fromID, toID, edgeType, weight)
}

// Unlink removes one edge by its (from, to, type) triple.
func (e *Engine) Unlink(ctx context.Context, actx AccessContext, fromID, toID string, edgeType EdgeType) error {
	return e.Graph.Unlink(ctx, actx, fromID, toID, edgeType)
}

// Neighbors is a thin, agent-facing wrapper around the graph service.
func (e *Engine) Neighbors(ctx context.Context, actx AccessContext, id string, opts NeighborOptions) ([]Neighbor, error) {
	return e.Graph.Neighbors(ctx, actx, id, opts)
}

// Expand is a thin, agent-facing wrapper around the graph service,
// returning the seeds, the reached memories, and the induced edges.
func (e *Engine) Expand(ctx context.Context, actx AccessContext, ids []string, depth int, opts ExpandOptions) ([]Memory, []Edge, error) {
	return e.Graph.ExpandSubgraph(ctx, actx, ids, depth, opts)
}

// Reflect is a thin, agent-facing wrapper around the reflect orchestrator.
func (e *Engine) Reflect(ctx context.Context, actx AccessContext, topic string, opts ReflectOptions) (Memory, error) {
	return e.Reflector.Reflect(ctx, actx, topic, opts)
}
