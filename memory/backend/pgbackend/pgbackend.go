// Package pgbackend implements the backend contract on PostgreSQL with
// pgvector, following the DB-interface-over-*pgxpool.Pool/*pgx.Conn
// idiom and parameterized-query discipline the rest of the pack's pgx
// usage shows.
package pgbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/core"
	"github.com/cortexmem/cortex/memory/backend"
)

// DB is the subset of *pgxpool.Pool / *pgx.Conn the backend needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Backend is a PostgreSQL+pgvector implementation of backend.Backend.
type Backend struct {
	db     DB
	dims   int
	logger zerolog.Logger
}

// New wraps db (a *pgxpool.Pool or *pgx.Conn). Schema is applied
// separately via the migrations package; dims is the configured
// embedding dimension used for the vector(D) column.
func New(db DB, dims int, logger zerolog.Logger) *Backend {
	return &Backend{db: db, dims: dims, logger: logger.With().Str("component", "pgbackend").Logger()}
}

func toVector(v []float32) pgvector.Vector { return pgvector.NewVector(v) }

func (b *Backend) Put(ctx context.Context, actx core.AccessContext, m core.Memory) (core.Memory, error) {
	if err := m.ValidateInvariants(); err != nil {
		return core.Memory{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	existing, err := b.Get(ctx, actx, m.ID)
	switch {
	case err == nil:
		if existing.OwnerID != m.OwnerID {
			return core.Memory{}, core.NewError(core.ErrInvalidArgument, "owner_id of a stored memory cannot change", nil)
		}
	case core.KindOf(err) == core.ErrNotFound:
		// new row
	default:
		return core.Memory{}, err
	}

	metaJSON, err := json.Marshal(nonNilMap(m.Metadata))
	if err != nil {
		return core.Memory{}, core.NewError(core.ErrBackend, "marshal metadata", err)
	}

	const query = `
		INSERT INTO memories (id, scope, owner_id, tenant_id, session_id, type, summary, content, embedding, embedded,
			confidence, importance, tags, metadata, created_at, updated_at, last_access_at, access_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			scope=EXCLUDED.scope, owner_id=EXCLUDED.owner_id, tenant_id=EXCLUDED.tenant_id,
			session_id=EXCLUDED.session_id, type=EXCLUDED.type,
			summary=EXCLUDED.summary, content=EXCLUDED.content,
			embedding=EXCLUDED.embedding, embedded=EXCLUDED.embedded,
			confidence=EXCLUDED.confidence, importance=EXCLUDED.importance,
			tags=EXCLUDED.tags, metadata=EXCLUDED.metadata, updated_at=EXCLUDED.updated_at`

	m.UpdatedAt = time.Now()
	_, err = b.db.Exec(ctx, query,
		m.ID, m.Scope.String(), m.OwnerID, m.TenantID, m.SessionID, string(m.Type), m.Summary, m.Content, toVector(m.Embedding), len(m.Embedding) > 0,
		m.Confidence, m.Importance, nonNilSlice(m.Tags), metaJSON,
		m.CreatedAt, m.UpdatedAt, m.LastAccessAt, m.AccessCount)
	if err != nil {
		return core.Memory{}, core.NewError(core.ErrBackend, "insert memory", err)
	}
	return m, nil
}

func (b *Backend) Get(ctx context.Context, actx core.AccessContext, id string) (core.Memory, error) {
	const query = `
		SELECT id, scope, owner_id, tenant_id, session_id, type, summary, content, embedding, confidence, importance,
		       tags, metadata, created_at, updated_at, last_access_at, access_count
		FROM memories WHERE id = $1`

	m, err := scanMemory(b.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Memory{}, core.NewError(core.ErrNotFound, "memory not found", nil)
	}
	if err != nil {
		return core.Memory{}, core.NewError(core.ErrBackend, "get memory", err)
	}
	if !actx.CanAccess(m) {
		return core.Memory{}, core.NewError(core.ErrAccessDenied, "memory not accessible", nil)
	}
	return m, nil
}

func (b *Backend) Delete(ctx context.Context, actx core.AccessContext, id string) error {
	if _, err := b.Get(ctx, actx, id); err != nil {
		return err
	}
	_, err := b.db.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return core.NewError(core.ErrBackend, "delete memory", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, actx core.AccessContext, opts backend.ListOptions) ([]core.Memory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	typeStrs := make([]string, len(opts.Types))
	for i, t := range opts.Types {
		typeStrs[i] = string(t)
	}
	var typeArg, tagArg any
	if len(typeStrs) > 0 {
		typeArg = typeStrs
	}
	if len(opts.Tags) > 0 {
		tagArg = opts.Tags
	}

	const query = `
		SELECT id, scope, owner_id, tenant_id, session_id, type, summary, content, embedding, confidence, importance,
		       tags, metadata, created_at, updated_at, last_access_at, access_count
		FROM memories
		WHERE ($1::text[] IS NULL OR type = ANY($1::text[]))
		  AND ($2::text[] IS NULL OR tags && $2::text[])
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := b.db.Query(ctx, query, typeArg, tagArg, limit)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "list memories", err)
	}
	defer rows.Close()

	var out []core.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, core.NewError(core.ErrBackend, "scan list row", err)
		}
		if !actx.CanAccess(m) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (b *Backend) VectorSearch(ctx context.Context, actx core.AccessContext, embedding []float32, opts backend.VectorSearchOptions) ([]core.Scored, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	const query = `
		SELECT id, scope, owner_id, tenant_id, session_id, type, summary, content, embedding, confidence, importance,
		       tags, metadata, created_at, updated_at, last_access_at, access_count,
		       1 - (embedding <=> $1) AS similarity,
		       ts_rank_cd(to_tsvector('english', content), plainto_tsquery('english', $4)) AS text_rank
		FROM memories
		WHERE (1 - (embedding <=> $1)) >= $2
		   OR ($4 <> '' AND to_tsvector('english', content) @@ plainto_tsquery('english', $4))
		ORDER BY similarity DESC
		LIMIT $3`

	rows, err := b.db.Query(ctx, query, toVector(embedding), opts.Threshold, limit, opts.Query)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "vector search", err)
	}
	defer rows.Close()

	var out []core.Scored
	for rows.Next() {
		var sim, textRank float64
		m, err := scanMemoryRowsWithExtra(rows, &sim, &textRank)
		if err != nil {
			return nil, core.NewError(core.ErrBackend, "scan search row", err)
		}
		if !actx.CanAccess(m) {
			continue
		}
		score := sim
		if score == 0 {
			score = textRank
		}
		out = append(out, core.Scored{Memory: m, Similarity: score})
	}
	return out, nil
}

func (b *Backend) Touch(ctx context.Context, actx core.AccessContext, ids []string) error {
	for _, id := range ids {
		if _, err := b.Get(ctx, actx, id); err != nil {
			continue
		}
		_, err := b.db.Exec(ctx, `
			UPDATE memories SET access_count = access_count + 1, last_access_at = now()
			WHERE id = $1`, id)
		if err != nil {
			return core.NewError(core.ErrBackend, "touch memory", err)
		}
	}
	return nil
}

func (b *Backend) PutEdge(ctx context.Context, actx core.AccessContext, e core.Edge) (core.Edge, error) {
	if err := e.ValidateInvariants(); err != nil {
		return core.Edge{}, err
	}
	from, err := b.Get(ctx, actx, e.FromID)
	if err != nil {
		return core.Edge{}, err
	}
	to, err := b.Get(ctx, actx, e.ToID)
	if err != nil {
		return core.Edge{}, err
	}
	e.Scope = core.EdgeScope(from.Scope, to.Scope)

	edgeMetaJSON, err := json.Marshal(nonNilMap(e.Metadata))
	if err != nil {
		return core.Edge{}, core.NewError(core.ErrBackend, "marshal edge metadata", err)
	}

	// A repeated put of the same (from,to,type) triple is a no-op —
	// the first writer's weight/confidence stand.
	const query = `
		INSERT INTO edges (from_id, to_id, type, weight, confidence, scope, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (from_id, to_id, type) DO NOTHING`
	_, err = b.db.Exec(ctx, query, e.FromID, e.ToID, string(e.Type), e.Weight, e.Confidence, e.Scope.String(), edgeMetaJSON, e.CreatedAt)
	if err != nil {
		return core.Edge{}, core.NewError(core.ErrBackend, "insert edge", err)
	}
	stored, err := b.getEdge(ctx, e.FromID, e.ToID, e.Type)
	if err != nil {
		return core.Edge{}, err
	}
	return stored, nil
}

// getEdge fetches the single edge identified by its unique (from,to,type)
// triple, used by PutEdge to report what actually stuck after an
// ON CONFLICT DO NOTHING (first writer wins).
func (b *Backend) getEdge(ctx context.Context, fromID, toID string, typ core.EdgeType) (core.Edge, error) {
	const query = `
		SELECT from_id, to_id, type, weight, confidence, scope, metadata, created_at
		FROM edges
		WHERE from_id = $1 AND to_id = $2 AND type = $3`
	e, err := scanEdge(b.db.QueryRow(ctx, query, fromID, toID, string(typ)))
	if err != nil {
		return core.Edge{}, core.NewError(core.ErrBackend, "load edge after put", err)
	}
	return e, nil
}

func (b *Backend) GetEdges(ctx context.Context, actx core.AccessContext, id string, dir core.Direction, types []core.EdgeType, minWeight float64) ([]core.Edge, error) {
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}
	// The endpoint predicate is one of three fixed fragments keyed off
	// the Direction enum; caller data only ever travels as parameters.
	endpoint := "from_id = $1"
	switch dir {
	case core.DirIncoming:
		endpoint = "to_id = $1"
	case core.DirBoth:
		endpoint = "(from_id = $1 OR to_id = $1)"
	}
	query := `
		SELECT from_id, to_id, type, weight, confidence, scope, metadata, created_at
		FROM edges
		WHERE ` + endpoint + ` AND weight >= $2
		  AND ($3::text[] IS NULL OR cardinality($3::text[]) = 0 OR type = ANY($3::text[]))`
	var typeArg any
	if len(typeStrs) > 0 {
		typeArg = typeStrs
	}
	rows, err := b.db.Query(ctx, query, id, minWeight, typeArg)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "query edges", err)
	}
	defer rows.Close()

	var out []core.Edge
	for rows.Next() {
		e, err := scanEdgeRows(rows)
		if err != nil {
			return nil, core.NewError(core.ErrBackend, "scan edge", err)
		}
		peer := e.ToID
		if peer == id {
			peer = e.FromID
		}
		if _, err := b.Get(ctx, actx, peer); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteEdge removes the (from, to, type) edge. Deleting an absent edge
// is a no-op, keeping unlink idempotent.
func (b *Backend) DeleteEdge(ctx context.Context, actx core.AccessContext, fromID, toID string, typ core.EdgeType) error {
	if _, err := b.Get(ctx, actx, fromID); err != nil {
		if core.KindOf(err) == core.ErrNotFound {
			return nil
		}
		return err
	}
	if _, err := b.Get(ctx, actx, toID); err != nil {
		if core.KindOf(err) == core.ErrNotFound {
			return nil
		}
		return err
	}
	_, err := b.db.Exec(ctx, `DELETE FROM edges WHERE from_id = $1 AND to_id = $2 AND type = $3`,
		fromID, toID, string(typ))
	if err != nil {
		return core.NewError(core.ErrBackend, "delete edge", err)
	}
	return nil
}

// edgeScanner is satisfied by both pgx.Row and pgx.Rows.
type edgeScanner interface {
	Scan(dest ...any) error
}

func scanEdge(row edgeScanner) (core.Edge, error) {
	var e core.Edge
	var typeStr, scopeStr string
	var metaJSON []byte
	if err := row.Scan(&e.FromID, &e.ToID, &typeStr, &e.Weight, &e.Confidence, &scopeStr, &metaJSON, &e.CreatedAt); err != nil {
		return core.Edge{}, err
	}
	e.Type = core.EdgeType(typeStr)
	e.Scope, _ = core.ParseScope(scopeStr)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return core.Edge{}, err
		}
	}
	return e, nil
}

func scanEdgeRows(rows pgx.Rows) (core.Edge, error) { return scanEdge(rows) }

// Expand runs a single parameterized recursive CTE. Depth, weight and
// confidence bounds, and the seed id set, are all bind parameters — a
// prior security fix forbids ever string-interpolating them into the
// query text.
func (b *Backend) Expand(ctx context.Context, actx core.AccessContext, ids []string, depth int, minWeight, minConfidence float64, limit int) ([]core.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if depth > 3 {
		depth = 3
	}
	const query = `
		WITH RECURSIVE reach(id, hop) AS (
			SELECT id, 0 FROM memories WHERE id = ANY($1::text[])
			UNION
			SELECT e.to_id, r.hop + 1
			FROM edges e
			JOIN reach r ON r.id = e.from_id
			WHERE e.weight >= $2 AND r.hop + 1 <= $3
		)
		SELECT DISTINCT m.id, m.scope, m.owner_id, m.tenant_id, m.session_id, m.type, m.summary, m.content, m.embedding,
		       m.confidence, m.importance, m.tags, m.metadata, m.created_at,
		       m.updated_at, m.last_access_at, m.access_count
		FROM memories m
		JOIN reach r ON r.id = m.id AND r.hop > 0
		WHERE m.confidence >= $4
		LIMIT $5`

	rows, err := b.db.Query(ctx, query, ids, minWeight, depth, minConfidence, limit)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "expand query", err)
	}
	defer rows.Close()

	var out []core.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, core.NewError(core.ErrBackend, "scan expand row", err)
		}
		if !actx.CanAccess(m) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (b *Backend) DeleteMemoriesAndEdges(ctx context.Context, actx core.AccessContext, ids []string) error {
	for _, id := range ids {
		if _, err := b.Get(ctx, actx, id); err != nil && core.KindOf(err) != core.ErrNotFound {
			return err
		}
	}
	_, err := b.db.Exec(ctx, `DELETE FROM memories WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return core.NewError(core.ErrBackend, "bulk delete", err)
	}
	return nil
}

// ListUnembedded returns up to limit memories with no embedding yet,
// oldest first — the durable indexer's retry sweep uses this to
// re-enqueue memories a prior process crashed before embedding.
func (b *Backend) ListUnembedded(ctx context.Context, limit int) ([]core.Memory, error) {
	if limit <= 0 {
		limit = 1000
	}
	const query = `
		SELECT id, scope, owner_id, tenant_id, session_id, type, summary, content, embedding, confidence, importance,
		       tags, metadata, created_at, updated_at, last_access_at, access_count
		FROM memories
		WHERE NOT embedded
		ORDER BY created_at ASC
		LIMIT $1`
	rows, err := b.db.Query(ctx, query, limit)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "query unembedded", err)
	}
	defer rows.Close()

	var out []core.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, core.NewError(core.ErrBackend, "scan unembedded row", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (b *Backend) Close() error { return nil }

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func scanMemory(row pgx.Row) (core.Memory, error) {
	var m core.Memory
	var scopeStr, typeStr string
	var tags []string
	var metaJSON []byte
	var vec pgvector.Vector

	if err := row.Scan(&m.ID, &scopeStr, &m.OwnerID, &m.TenantID, &m.SessionID, &typeStr, &m.Summary, &m.Content, &vec,
		&m.Confidence, &m.Importance, &tags, &metaJSON,
		&m.CreatedAt, &m.UpdatedAt, &m.LastAccessAt, &m.AccessCount); err != nil {
		return core.Memory{}, err
	}
	return finishScan(m, scopeStr, typeStr, tags, metaJSON, vec)
}

func scanMemoryRows(rows pgx.Rows) (core.Memory, error) {
	var m core.Memory
	var scopeStr, typeStr string
	var tags []string
	var metaJSON []byte
	var vec pgvector.Vector

	if err := rows.Scan(&m.ID, &scopeStr, &m.OwnerID, &m.TenantID, &m.SessionID, &typeStr, &m.Summary, &m.Content, &vec,
		&m.Confidence, &m.Importance, &tags, &metaJSON,
		&m.CreatedAt, &m.UpdatedAt, &m.LastAccessAt, &m.AccessCount); err != nil {
		return core.Memory{}, err
	}
	return finishScan(m, scopeStr, typeStr, tags, metaJSON, vec)
}

func scanMemoryRowsWithExtra(rows pgx.Rows, sim, textRank *float64) (core.Memory, error) {
	var m core.Memory
	var scopeStr, typeStr string
	var tags []string
	var metaJSON []byte
	var vec pgvector.Vector

	if err := rows.Scan(&m.ID, &scopeStr, &m.OwnerID, &m.TenantID, &m.SessionID, &typeStr, &m.Summary, &m.Content, &vec,
		&m.Confidence, &m.Importance, &tags, &metaJSON,
		&m.CreatedAt, &m.UpdatedAt, &m.LastAccessAt, &m.AccessCount, sim, textRank); err != nil {
		return core.Memory{}, err
	}
	return finishScan(m, scopeStr, typeStr, tags, metaJSON, vec)
}

func finishScan(m core.Memory, scopeStr, typeStr string, tags []string, metaJSON []byte, vec pgvector.Vector) (core.Memory, error) {
	scope, ok := core.ParseScope(scopeStr)
	if !ok {
		return core.Memory{}, fmt.Errorf("pgbackend: unknown scope %q", scopeStr)
	}
	m.Scope = scope
	m.Type = core.MemoryType(typeStr)
	m.Tags = tags
	m.Embedding = vec.Slice()
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return core.Memory{}, err
		}
	}
	return m, nil
}
