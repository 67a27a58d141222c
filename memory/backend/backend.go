// Package backend declares the storage contract satisfied by both the
// in-memory and relational implementations. Which implementation
// is wired up is a construction-time decision, never encoded in an
// operation's parameters.
package backend

import (
	"context"

	"github.com/cortexmem/cortex/memory/core"
)

// VectorSearchOptions tunes Backend.VectorSearch.
type VectorSearchOptions struct {
	Limit     int
	Threshold float64
	// Query, when non-empty, lets a backend additionally fold a
	// keyword/FTS pass into candidate selection (supplemented feature).
	Query string
}

// ListOptions tunes Backend.List. A memory matches Tags when it carries
// at least one of the requested tags.
type ListOptions struct {
	Limit int
	Types []core.MemoryType
	Tags  []string
}

// Backend is the storage contract. Every method re-applies ctx's access
// rules per row; a backend must never rely solely on callers
// pre-filtering by scope.
type Backend interface {
	Put(ctx context.Context, actx core.AccessContext, m core.Memory) (core.Memory, error)
	Get(ctx context.Context, actx core.AccessContext, id string) (core.Memory, error)
	Delete(ctx context.Context, actx core.AccessContext, id string) error

	// List returns memories visible to actx, newest first, filtered by
	// opts.Types/opts.Tags and capped at opts.Limit.
	List(ctx context.Context, actx core.AccessContext, opts ListOptions) ([]core.Memory, error)

	// VectorSearch returns memories visible to actx ranked by cosine
	// similarity to embedding, above opts.Threshold, capped at opts.Limit.
	VectorSearch(ctx context.Context, actx core.AccessContext, embedding []float32, opts VectorSearchOptions) ([]core.Scored, error)

	// Touch bumps AccessCount and LastAccessAt for the given ids,
	// required on both backends.
	Touch(ctx context.Context, actx core.AccessContext, ids []string) error

	PutEdge(ctx context.Context, actx core.AccessContext, e core.Edge) (core.Edge, error)

	// GetEdges returns the direct edges touching id in the given
	// direction, filtered by type (nil/empty = all) and minWeight. An
	// edge is only returned when its peer endpoint (the one that is not
	// id) is accessible to actx.
	GetEdges(ctx context.Context, actx core.AccessContext, id string, dir core.Direction, types []core.EdgeType, minWeight float64) ([]core.Edge, error)

	// DeleteEdge removes the edge identified by its (from, to, type)
	// triple. Deleting an absent edge is a no-op, not an error.
	DeleteEdge(ctx context.Context, actx core.AccessContext, fromID, toID string, typ core.EdgeType) error

	// Expand performs a breadth-first traversal from ids out to depth
	// hops, filtering by minWeight/minConfidence and capped at limit.
	// The relational implementation does this as a single parameterized
	// recursive CTE; identifiers and numeric bounds are bind parameters,
	// never interpolated into SQL text.
	Expand(ctx context.Context, actx core.AccessContext, ids []string, depth int, minWeight, minConfidence float64, limit int) ([]core.Memory, error)

	DeleteMemoriesAndEdges(ctx context.Context, actx core.AccessContext, ids []string) error

	// ListUnembedded returns up to limit memories with no embedding yet,
	// oldest first. The durable indexer's retry sweep uses this on
	// startup and periodically thereafter to re-enqueue memories a prior
	// process crashed before embedding, so a crash never loses one.
	ListUnembedded(ctx context.Context, limit int) ([]core.Memory, error)

	Close() error
}
