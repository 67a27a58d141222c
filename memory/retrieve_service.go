package memory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/backend"
	"github.com/cortexmem/cortex/memory/embed"
)

// seedPoolSize bounds how many vector-search seeds feed the graph
// expansion and final rerank, independent of the caller's requested
// result Limit.
const seedPoolSize = 50

// expandedSimilarity is the flat similarity score assigned to a
// memory discovered only through graph expansion, never as a direct
// vector-search seed. A seed already in the candidate
// set keeps its real cosine similarity; expand never lowers it.
const expandedSimilarity = 0.5

// Retrieval is the read path: vector search -> graph expand -> composite
// rank -> budget.
type Retrieval struct {
	be       backend.Backend
	graph    *Graph
	embedder embed.Embedder
	logger   zerolog.Logger
}

func NewRetrieval(be backend.Backend, graph *Graph, embedder embed.Embedder, logger zerolog.Logger) *Retrieval {
	return &Retrieval{be: be, graph: graph, embedder: embedder, logger: logger.With().Str("component", "retrieval").Logger()}
}

// Recall embeds query and vector-searches for seeds. When
// opts.ExpandGraph is set it additionally expands the graph out to
// GraphDepth hops (merging each newly-discovered neighbor in at a flat
// similarity score, or keeping the higher of that and the existing
// score if already present),
// then re-sorts by composite score and rebudgets to threshold/limit in
// a single pass. Without ExpandGraph, recall is pure vector search.
func (r *Retrieval) Recall(ctx context.Context, actx AccessContext, query string, opts RecallOptions) ([]Memory, error) {
	scored, err := r.RecallScored(ctx, actx, query, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Memory, len(scored))
	for i, s := range scored {
		out[i] = s.Memory
	}
	return out, nil
}

// RecallScored is Recall's underlying implementation, preserving the
// per-memory similarity and composite score so the reduction service
// can use them without recomputing anything.
func (r *Retrieval) RecallScored(ctx context.Context, actx AccessContext, query string, opts RecallOptions) ([]Scored, error) {
	opts = opts.WithDefaults()

	// No adapter configured means no way to rank by similarity; recall
	// degrades to an empty result set rather than an error.
	if r.embedder == nil {
		return nil, nil
	}

	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, NewError(ErrEmbedding, "embed query", err)
	}

	seeds, err := r.be.VectorSearch(ctx, actx, qvec, backend.VectorSearchOptions{
		Limit:     seedPoolSize,
		Threshold: opts.Threshold,
		Query:     query,
	})
	if err != nil {
		return nil, NewError(ErrBackend, "vector search", err)
	}

	candidates := make(map[string]Scored, len(seeds))
	for _, s := range seeds {
		candidates[s.Memory.ID] = s
	}

	frontier := seeds
	if !opts.ExpandGraph {
		frontier = nil
	}
	for hop := 0; hop < opts.GraphDepth && hop < maxExpandDepth && len(frontier) > 0; hop++ {
		var next []Scored
		for _, c := range frontier {
			neighbors, err := r.graph.Neighbors(ctx, actx, c.Memory.ID, NeighborOptions{MinWeight: 0.3})
			if err != nil {
				continue
			}
			for _, n := range neighbors {
				if existing, ok := candidates[n.Memory.ID]; ok && existing.Similarity >= expandedSimilarity {
					continue
				}
				scored := Scored{Memory: n.Memory, Similarity: expandedSimilarity}
				candidates[n.Memory.ID] = scored
				next = append(next, scored)
			}
		}
		frontier = next
	}

	all := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		all = append(all, c)
	}

	results := RerankScored(all, opts.Threshold, opts.Limit, time.Now())

	ids := make([]string, len(results))
	for i, s := range results {
		ids[i] = s.Memory.ID
	}
	if err := r.be.Touch(ctx, actx, ids); err != nil {
		r.logger.Warn().Err(err).Msg("touch after recall failed")
	}

	return results, nil
}
