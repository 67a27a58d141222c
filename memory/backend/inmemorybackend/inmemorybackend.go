// Package inmemorybackend implements the backend contract entirely in
// process memory, guarded by a sync.RWMutex — suitable for tests and
// single-process deployments with no durability requirement.
package inmemorybackend

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/core"
	"github.com/cortexmem/cortex/memory/backend"
)

type edgeKey struct {
	from, to string
	typ      core.EdgeType
}

// Backend is an in-memory implementation of backend.Backend.
type Backend struct {
	mu      sync.RWMutex
	mems    map[string]core.Memory
	edges   map[edgeKey]core.Edge
	outEdge map[string][]edgeKey
	inEdge  map[string][]edgeKey
	logger  zerolog.Logger
}

// New constructs an empty in-memory backend.
func New(logger zerolog.Logger) *Backend {
	return &Backend{
		mems:    make(map[string]core.Memory),
		edges:   make(map[edgeKey]core.Edge),
		outEdge: make(map[string][]edgeKey),
		inEdge:  make(map[string][]edgeKey),
		logger:  logger.With().Str("component", "inmemorybackend").Logger(),
	}
}

func (b *Backend) Put(_ context.Context, actx core.AccessContext, m core.Memory) (core.Memory, error) {
	if err := m.ValidateInvariants(); err != nil {
		return core.Memory{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if existing, ok := b.mems[m.ID]; ok {
		if !actx.CanAccess(existing) {
			return core.Memory{}, core.NewError(core.ErrAccessDenied, "memory not accessible", nil)
		}
		if existing.OwnerID != m.OwnerID {
			return core.Memory{}, core.NewError(core.ErrInvalidArgument, "owner_id of a stored memory cannot change", nil)
		}
	}
	m.UpdatedAt = nowFn()
	b.mems[m.ID] = m
	return m, nil
}

func (b *Backend) Get(_ context.Context, actx core.AccessContext, id string) (core.Memory, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.mems[id]
	if !ok {
		return core.Memory{}, core.NewError(core.ErrNotFound, "memory not found", nil)
	}
	if !actx.CanAccess(m) {
		return core.Memory{}, core.NewError(core.ErrAccessDenied, "memory not accessible", nil)
	}
	return m, nil
}

func (b *Backend) Delete(_ context.Context, actx core.AccessContext, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteLocked(actx, id)
}

func (b *Backend) deleteLocked(actx core.AccessContext, id string) error {
	m, ok := b.mems[id]
	if !ok {
		return core.NewError(core.ErrNotFound, "memory not found", nil)
	}
	if !actx.CanAccess(m) {
		return core.NewError(core.ErrAccessDenied, "memory not accessible", nil)
	}
	delete(b.mems, id)
	for _, k := range append([]edgeKey{}, b.outEdge[id]...) {
		delete(b.edges, k)
		b.inEdge[k.to] = removeKey(b.inEdge[k.to], k)
	}
	for _, k := range append([]edgeKey{}, b.inEdge[id]...) {
		delete(b.edges, k)
		b.outEdge[k.from] = removeKey(b.outEdge[k.from], k)
	}
	delete(b.outEdge, id)
	delete(b.inEdge, id)
	return nil
}

func (b *Backend) List(_ context.Context, actx core.AccessContext, opts backend.ListOptions) ([]core.Memory, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	typeAllow := make(map[core.MemoryType]bool, len(opts.Types))
	for _, t := range opts.Types {
		typeAllow[t] = true
	}

	var out []core.Memory
	for _, m := range b.mems {
		if !actx.CanAccess(m) {
			continue
		}
		if len(opts.Types) > 0 && !typeAllow[m.Type] {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(m.Tags, opts.Tags) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

func (b *Backend) VectorSearch(_ context.Context, actx core.AccessContext, embedding []float32, opts backend.VectorSearchOptions) ([]core.Scored, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []core.Scored
	for _, m := range b.mems {
		if !actx.CanAccess(m) {
			continue
		}
		sim := core.CosineSimilarity(embedding, m.Embedding)
		if sim < opts.Threshold {
			continue
		}
		out = append(out, core.Scored{Memory: m, Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (b *Backend) Touch(_ context.Context, actx core.AccessContext, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		m, ok := b.mems[id]
		if !ok || !actx.CanAccess(m) {
			continue
		}
		m.AccessCount++
		m.LastAccessAt = nowFn()
		b.mems[id] = m
	}
	return nil
}

func (b *Backend) PutEdge(_ context.Context, actx core.AccessContext, e core.Edge) (core.Edge, error) {
	if err := e.ValidateInvariants(); err != nil {
		return core.Edge{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	from, ok := b.mems[e.FromID]
	if !ok {
		return core.Edge{}, core.NewError(core.ErrInvalidArgument, "from memory does not exist", nil)
	}
	to, ok := b.mems[e.ToID]
	if !ok {
		return core.Edge{}, core.NewError(core.ErrInvalidArgument, "to memory does not exist", nil)
	}
	if !actx.CanAccess(from) || !actx.CanAccess(to) {
		return core.Edge{}, core.NewError(core.ErrAccessDenied, "edge endpoints not accessible", nil)
	}
	e.Scope = core.EdgeScope(from.Scope, to.Scope)

	// A repeated put of the same (from,to,type) triple is a no-op
	// — the first writer's weight/confidence stand.
	k := edgeKey{from: e.FromID, to: e.ToID, typ: e.Type}
	if existing, exists := b.edges[k]; exists {
		return existing, nil
	}
	b.outEdge[e.FromID] = append(b.outEdge[e.FromID], k)
	b.inEdge[e.ToID] = append(b.inEdge[e.ToID], k)
	b.edges[k] = e
	return e, nil
}

func (b *Backend) GetEdges(_ context.Context, actx core.AccessContext, id string, dir core.Direction, types []core.EdgeType, minWeight float64) ([]core.Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	allow := make(map[core.EdgeType]bool, len(types))
	for _, t := range types {
		allow[t] = true
	}

	var keys []edgeKey
	if dir == core.DirOutgoing || dir == core.DirBoth {
		keys = append(keys, b.outEdge[id]...)
	}
	if dir == core.DirIncoming || dir == core.DirBoth {
		keys = append(keys, b.inEdge[id]...)
	}

	var out []core.Edge
	for _, k := range keys {
		e := b.edges[k]
		if len(types) > 0 && !allow[e.Type] {
			continue
		}
		if e.Weight < minWeight {
			continue
		}
		if !b.edgeVisibleLocked(actx, e) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteEdge removes the (from, to, type) edge if present. Absent edges
// are a no-op, keeping unlink idempotent.
func (b *Backend) DeleteEdge(_ context.Context, actx core.AccessContext, fromID, toID string, typ core.EdgeType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := edgeKey{from: fromID, to: toID, typ: typ}
	e, ok := b.edges[k]
	if !ok {
		return nil
	}
	if !b.edgeVisibleLocked(actx, e) {
		return core.NewError(core.ErrAccessDenied, "edge endpoints not accessible", nil)
	}
	delete(b.edges, k)
	b.outEdge[fromID] = removeKey(b.outEdge[fromID], k)
	b.inEdge[toID] = removeKey(b.inEdge[toID], k)
	return nil
}

func removeKey(keys []edgeKey, k edgeKey) []edgeKey {
	for i := range keys {
		if keys[i] == k {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

func (b *Backend) edgeVisibleLocked(actx core.AccessContext, e core.Edge) bool {
	from, ok := b.mems[e.FromID]
	if !ok || !actx.CanAccess(from) {
		return false
	}
	to, ok := b.mems[e.ToID]
	if !ok || !actx.CanAccess(to) {
		return false
	}
	return true
}

func (b *Backend) Expand(_ context.Context, actx core.AccessContext, ids []string, depth int, minWeight, minConfidence float64, limit int) ([]core.Memory, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	visited := make(map[string]bool)
	for _, id := range ids {
		visited[id] = true
	}
	frontier := append([]string{}, ids...)
	var out []core.Memory

	for hop := 0; hop < depth && hop < 3 && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, k := range b.outEdge[id] {
				e := b.edges[k]
				if e.Weight < minWeight || visited[e.ToID] {
					continue
				}
				m, ok := b.mems[e.ToID]
				if !ok || m.Confidence < minConfidence || !actx.CanAccess(m) {
					continue
				}
				visited[e.ToID] = true
				next = append(next, e.ToID)
				out = append(out, m)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (b *Backend) DeleteMemoriesAndEdges(_ context.Context, actx core.AccessContext, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if err := b.deleteLocked(actx, id); err != nil && core.KindOf(err) != core.ErrNotFound {
			return err
		}
	}
	return nil
}

// ListUnembedded returns up to limit memories with no embedding, oldest
// first, regardless of scope — the durable indexer's retry sweep runs
// with a privileged system context, not a caller's.
func (b *Backend) ListUnembedded(_ context.Context, limit int) ([]core.Memory, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []core.Memory
	for _, m := range b.mems {
		if len(m.Embedding) == 0 {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) Close() error { return nil }
