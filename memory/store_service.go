package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/backend"
	"github.com/cortexmem/cortex/memory/index"
	"github.com/cortexmem/cortex/memory/link"
)

// ListOptions tunes Storage.List; re-exported from the backend contract
// so facade callers never import the backend package directly.
type ListOptions = backend.ListOptions

// Storage is the write path: normalize -> embed -> persist -> index ->
// link. A caller-visible Store either fully commits or returns
// an error; embedding/linking failures in durable mode are retried by
// the indexer rather than surfaced here.
type Storage struct {
	be     backend.Backend
	ix     *index.Indexer
	linker *link.Linker
	logger zerolog.Logger
}

// NewStorage wires the write path. linker may be nil when auto-linking
// is disabled; no post-embed hook is registered in that case.
func NewStorage(be backend.Backend, ix *index.Indexer, linker *link.Linker, logger zerolog.Logger) *Storage {
	s := &Storage{be: be, ix: ix, linker: linker, logger: logger.With().Str("component", "storage").Logger()}
	if linker != nil {
		ix.OnEmbedded(func(ctx context.Context, actx AccessContext, m Memory) {
			if err := linker.Link(ctx, actx, m); err != nil {
				s.logger.Warn().Err(err).Str("id", m.ID).Msg("auto-link after embed failed")
			}
		})
	}
	return s
}

// Store applies the write path: context defaults, scope demotion
// (both for capability and for the low-confidence rule), invariant validation, a write
// access re-check, and persistence. Embedding is always asynchronous
// from Store's point of view — a memory is never rejected, and Store
// never blocks, because of an embedding failure.
func (s *Storage) Store(ctx context.Context, actx AccessContext, draft Memory) (Memory, error) {
	if draft.OwnerID == "" && draft.Scope != ScopeGlobal {
		draft.OwnerID = actx.AgentID
	}
	if draft.TenantID == "" {
		draft.TenantID = actx.TenantID
	}

	if !actx.CanWrite(draft.Scope) {
		draft.Scope = ScopePrivate
		if draft.OwnerID == "" {
			draft.OwnerID = actx.AgentID
		}
	}
	draft = draft.ApplyDefaults() // may further demote scope to private on low confidence
	if draft.Scope == ScopePrivate && draft.OwnerID == "" {
		draft.OwnerID = actx.AgentID
	}

	if err := draft.ValidateInvariants(); err != nil {
		return Memory{}, err
	}

	// A caller-supplied embedding must match the configured
	// dimensionality; anything else would silently corrupt similarity
	// comparisons against properly-indexed memories.
	if len(draft.Embedding) > 0 {
		if dims := s.ix.Dimensions(); dims > 0 && len(draft.Embedding) != dims {
			return Memory{}, NewError(ErrInvalidArgument, "embedding length does not match the configured dimensionality", nil)
		}
	}

	if !actx.CanWrite(draft.Scope) {
		return Memory{}, NewError(ErrAccessDenied, "caller may not write at scope "+draft.Scope.String(), nil)
	}

	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	now := time.Now()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.LastAccessAt = draft.CreatedAt

	committed, err := s.be.Put(ctx, actx, draft)
	if err != nil {
		return Memory{}, NewError(ErrBackend, "commit memory", err)
	}

	// A caller that supplied its own embedding bypasses the indexer; the
	// memory is immediately searchable as written.
	if len(committed.Embedding) > 0 {
		return committed, nil
	}

	// Indexing (embedding + auto-link) runs off the write path entirely;
	// its own failures are logged by the indexer/linker, never surfaced
	// here, and never delay the caller.
	go func() {
		bgCtx := context.WithoutCancel(ctx)
		if _, err := s.ix.Index(bgCtx, actx, committed); err != nil {
			s.logger.Warn().Err(err).Str("id", committed.ID).Msg("async indexing failed")
		}
	}()

	return committed, nil
}

// Get loads one memory under actx's access rules.
func (s *Storage) Get(ctx context.Context, actx AccessContext, id string) (Memory, error) {
	return s.be.Get(ctx, actx, id)
}

// List returns memories visible to actx, newest first.
func (s *Storage) List(ctx context.Context, actx AccessContext, opts ListOptions) ([]Memory, error) {
	return s.be.List(ctx, actx, opts)
}

// Delete removes a memory and every edge touching it. Beyond plain
// read access, deletion requires the caller to own the memory or hold
// the system role.
func (s *Storage) Delete(ctx context.Context, actx AccessContext, id string) error {
	m, err := s.be.Get(ctx, actx, id)
	if err != nil {
		return err
	}
	if actx.Role != RoleSystem && m.OwnerID != actx.AgentID {
		return NewError(ErrAccessDenied, "only the owner or the system role may delete a memory", nil)
	}
	return s.be.DeleteMemoriesAndEdges(ctx, actx, []string{id})
}
