// Package sqlitebackend implements the backend contract on SQLite,
// reusing the embedding blob encoding and squirrel query-builder idiom
// from the memory package's original store/search code, plus a
// Jaccard keyword fallback: when a query text is given, each memory
// whose vector similarity does not clear the threshold is scored by
// keyword overlap instead.
package sqlitebackend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/core"
	"github.com/cortexmem/cortex/memory/backend"
)

// Backend is a SQLite-backed implementation of backend.Backend. Schema
// is applied separately via the migrations package; Open only connects.
type Backend struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to the sqlite database at dsn. Callers are expected to
// have already run migrations against it.
func Open(dsn string, logger zerolog.Logger) (*Backend, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "open sqlite", err)
	}
	return &Backend{db: db, logger: logger.With().Str("component", "sqlitebackend").Logger()}, nil
}

func stmtBuilder() sq.StatementBuilderType { return sq.StatementBuilder }

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

	tagsJSON, _ := json.Marshal(m.Tags)
	metaJSON, _ := json.Marshal(m.Metadata)

	m.UpdatedAt = unixToTime(nowUnix())
	q, args, err := stmtBuilder().
		Insert("memories").
		Columns("id", "scope", "owner_id", "tenant_id", "session_id", "type", "summary", "content", "embedding", "embedded",
			"confidence", "importance", "tags", "metadata",
			"created_at", "updated_at", "last_access_at", "access_count").
		Values(m.ID, m.Scope.String(), m.OwnerID, m.TenantID, m.SessionID, string(m.Type), m.Summary, m.Content,
			core.EncodeEmbedding(m.Embedding), len(m.Embedding) > 0, m.Confidence, m.Importance,
			string(tagsJSON), string(metaJSON),
			m.CreatedAt.Unix(), m.UpdatedAt.Unix(), m.LastAccessAt.Unix(), m.AccessCount).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			scope=excluded.scope, owner_id=excluded.owner_id, tenant_id=excluded.tenant_id,
			session_id=excluded.session_id, type=excluded.type,
			summary=excluded.summary, content=excluded.content,
			embedding=excluded.embedding, embedded=excluded.embedded,
			confidence=excluded.confidence, importance=excluded.importance,
			tags=excluded.tags, metadata=excluded.metadata, updated_at=excluded.updated_at`).
		ToSql()
	if err != nil {
		return core.Memory{}, core.NewError(core.ErrBackend, "build insert", err)
	}
	if _, err := b.db.ExecContext(ctx, q, args...); err != nil {
		return core.Memory{}, core.NewError(core.ErrBackend, "insert memory", err)
	}
	return m, nil
}

func (b *Backend) Get(ctx context.Context, actx core.AccessContext, id string) (core.Memory, error) {
	q, args, err := stmtBuilder().
		Select(memoryColumns()...).
		From("memories").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return core.Memory{}, core.NewError(core.ErrBackend, "build select", err)
	}
	row := b.db.QueryRowContext(ctx, q, args...)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return core.Memory{}, core.NewError(core.ErrNotFound, "memory not found", nil)
	}
	if err != nil {
		return core.Memory{}, core.NewError(core.ErrBackend, "scan memory", err)
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
	return b.deleteByIDs(ctx, []string{id})
}

func (b *Backend) deleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := stmtBuilder().Delete("memories").Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return core.NewError(core.ErrBackend, "build delete", err)
	}
	if _, err := b.db.ExecContext(ctx, q, args...); err != nil {
		return core.NewError(core.ErrBackend, "delete memories", err)
	}
	eq, eargs, err := stmtBuilder().Delete("edges").
		Where(sq.Or{sq.Eq{"from_id": ids}, sq.Eq{"to_id": ids}}).ToSql()
	if err != nil {
		return core.NewError(core.ErrBackend, "build edge delete", err)
	}
	if _, err := b.db.ExecContext(ctx, eq, eargs...); err != nil {
		return core.NewError(core.ErrBackend, "delete edges", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, actx core.AccessContext, opts backend.ListOptions) ([]core.Memory, error) {
	builder := stmtBuilder().
		Select(memoryColumns()...).
		From("memories").
		OrderBy("created_at DESC")
	if len(opts.Types) > 0 {
		strs := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			strs[i] = string(t)
		}
		builder = builder.Where(sq.Eq{"type": strs})
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "build list query", err)
	}
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "list memories", err)
	}
	defer rows.Close()

	// Tags live in a JSON column, so the tag filter (like the scope
	// filter) runs over the scanned rows rather than in SQL.
	var out []core.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, core.NewError(core.ErrBackend, "scan list row", err)
		}
		if !actx.CanAccess(m) {
			continue
		}
		if len(opts.Tags) > 0 && !hasAnyTag(m.Tags, opts.Tags) {
			continue
		}
		out = append(out, m)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
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

func (b *Backend) VectorSearch(ctx context.Context, actx core.AccessContext, embedding []float32, opts backend.VectorSearchOptions) ([]core.Scored, error) {
	q, args, err := stmtBuilder().Select(memoryColumns()...).From("memories").ToSql()
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "build scan query", err)
	}
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "scan memories", err)
	}
	defer rows.Close()

	candidates := make(map[string]float64)
	var pool []core.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, core.NewError(core.ErrBackend, "scan memory row", err)
		}
		if !actx.CanAccess(m) {
			continue
		}
		pool = append(pool, m)
		sim := core.CosineSimilarity(embedding, m.Embedding)
		if sim >= opts.Threshold {
			candidates[m.ID] = sim
		}
	}

	if opts.Query != "" {
		for _, m := range pool {
			if candidates[m.ID] > 0 {
				continue
			}
			if jaccardKeywordScore(opts.Query, m.Content) >= opts.Threshold {
				candidates[m.ID] = jaccardKeywordScore(opts.Query, m.Content)
			}
		}
	}

	byID := make(map[string]core.Memory, len(pool))
	for _, m := range pool {
		byID[m.ID] = m
	}

	out := make([]core.Scored, 0, len(candidates))
	for id, sim := range candidates {
		out = append(out, core.Scored{Memory: byID[id], Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// jaccardKeywordScore provides the FTS fallback ranking when a backend
// has no full-text index available (supplemented feature).
func jaccardKeywordScore(query, content string) float64 {
	qs := strings.Fields(strings.ToLower(query))
	cs := strings.Fields(strings.ToLower(content))
	if len(qs) == 0 || len(cs) == 0 {
		return 0
	}
	set := make(map[string]bool, len(cs))
	for _, w := range cs {
		set[w] = true
	}
	hit := 0
	for _, w := range qs {
		if set[w] {
			hit++
		}
	}
	return float64(hit) / float64(len(qs))
}

func (b *Backend) Touch(ctx context.Context, actx core.AccessContext, ids []string) error {
	for _, id := range ids {
		m, err := b.Get(ctx, actx, id)
		if err != nil {
			continue
		}
		q, args, err := stmtBuilder().Update("memories").
			Set("access_count", m.AccessCount+1).
			Set("last_access_at", nowUnix()).
			Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return core.NewError(core.ErrBackend, "build touch", err)
		}
		if _, err := b.db.ExecContext(ctx, q, args...); err != nil {
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
	metaJSON, _ := json.Marshal(e.Metadata)

	// A repeated put of the same (from,to,type) triple is a no-op —
	// the first writer's weight/confidence stand.
	q, args, err := stmtBuilder().
		Insert("edges").
		Columns("from_id", "to_id", "type", "weight", "confidence", "scope", "metadata", "created_at").
		Values(e.FromID, e.ToID, string(e.Type), e.Weight, e.Confidence, e.Scope.String(), string(metaJSON), e.CreatedAt.Unix()).
		Suffix("ON CONFLICT(from_id, to_id, type) DO NOTHING").
		ToSql()
	if err != nil {
		return core.Edge{}, core.NewError(core.ErrBackend, "build edge insert", err)
	}
	if _, err := b.db.ExecContext(ctx, q, args...); err != nil {
		return core.Edge{}, core.NewError(core.ErrBackend, "insert edge", err)
	}
	return b.getEdge(ctx, e.FromID, e.ToID, e.Type)
}

// getEdge fetches the single edge identified by its unique (from,to,type)
// triple, used by PutEdge to report what actually stuck after an
// ON CONFLICT DO NOTHING (first writer wins).
func (b *Backend) getEdge(ctx context.Context, fromID, toID string, typ core.EdgeType) (core.Edge, error) {
	q, args, err := stmtBuilder().
		Select(edgeColumns()...).
		From("edges").
		Where(sq.Eq{"from_id": fromID, "to_id": toID, "type": string(typ)}).
		ToSql()
	if err != nil {
		return core.Edge{}, core.NewError(core.ErrBackend, "build edge select", err)
	}
	e, err := scanEdge(b.db.QueryRowContext(ctx, q, args...))
	if err != nil {
		return core.Edge{}, core.NewError(core.ErrBackend, "load edge after put", err)
	}
	return e, nil
}

func (b *Backend) GetEdges(ctx context.Context, actx core.AccessContext, id string, dir core.Direction, types []core.EdgeType, minWeight float64) ([]core.Edge, error) {
	builder := stmtBuilder().
		Select(edgeColumns()...).
		From("edges").
		Where(sq.GtOrEq{"weight": minWeight})
	switch dir {
	case core.DirIncoming:
		builder = builder.Where(sq.Eq{"to_id": id})
	case core.DirBoth:
		builder = builder.Where(sq.Or{sq.Eq{"from_id": id}, sq.Eq{"to_id": id}})
	default:
		builder = builder.Where(sq.Eq{"from_id": id})
	}
	if len(types) > 0 {
		strs := make([]string, len(types))
		for i, t := range types {
			strs[i] = string(t)
		}
		builder = builder.Where(sq.Eq{"type": strs})
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "build edges query", err)
	}
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "query edges", err)
	}
	defer rows.Close()

	var out []core.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
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
	q, args, err := stmtBuilder().Delete("edges").
		Where(sq.Eq{"from_id": fromID, "to_id": toID, "type": string(typ)}).ToSql()
	if err != nil {
		return core.NewError(core.ErrBackend, "build edge delete", err)
	}
	if _, err := b.db.ExecContext(ctx, q, args...); err != nil {
		return core.NewError(core.ErrBackend, "delete edge", err)
	}
	return nil
}

// Expand runs a parameterized recursive CTE bounding depth/weight/confidence
// entirely through bind parameters ($ placeholders below are sqlite '?'),
// never by interpolating caller-supplied identifiers into the SQL text.
func (b *Backend) Expand(ctx context.Context, actx core.AccessContext, ids []string, depth int, minWeight, minConfidence float64, limit int) ([]core.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if depth > 3 {
		depth = 3
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+4)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`
WITH RECURSIVE reach(id, hop) AS (
  SELECT id, 0 FROM memories WHERE id IN (%s)
  UNION
  SELECT e.to_id, r.hop + 1
  FROM edges e
  JOIN reach r ON r.id = e.from_id
  WHERE e.weight >= ? AND r.hop + 1 <= ?
)
SELECT DISTINCT m.%s
FROM memories m
JOIN reach r ON r.id = m.id AND r.hop > 0
WHERE m.confidence >= ?
LIMIT ?`, strings.Join(placeholders, ","), strings.Join(memoryColumns(), ", m."))
	args = append(args, minWeight, depth, minConfidence, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "expand query", err)
	}
	defer rows.Close()

	var out []core.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
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
	return b.deleteByIDs(ctx, ids)
}

// ListUnembedded returns up to limit memories with no embedding yet,
// oldest first — the durable indexer's retry sweep uses this to
// re-enqueue memories a prior process crashed before embedding.
func (b *Backend) ListUnembedded(ctx context.Context, limit int) ([]core.Memory, error) {
	builder := stmtBuilder().
		Select(memoryColumns()...).
		From("memories").
		Where(sq.Eq{"embedded": false}).
		OrderBy("created_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	q, args, err := builder.ToSql()
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "build unembedded query", err)
	}
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.NewError(core.ErrBackend, "query unembedded", err)
	}
	defer rows.Close()

	var out []core.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, core.NewError(core.ErrBackend, "scan unembedded row", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func memoryColumns() []string {
	return []string{"id", "scope", "owner_id", "tenant_id", "session_id", "type", "summary", "content", "embedding",
		"confidence", "importance", "tags", "metadata",
		"created_at", "updated_at", "last_access_at", "access_count"}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (core.Memory, error) {
	var m core.Memory
	var scopeStr, typeStr, tagsJSON, metaJSON string
	var embBlob []byte
	var createdAt, updatedAt, lastAccessAt int64

	if err := row.Scan(&m.ID, &scopeStr, &m.OwnerID, &m.TenantID, &m.SessionID, &typeStr, &m.Summary, &m.Content, &embBlob,
		&m.Confidence, &m.Importance, &tagsJSON, &metaJSON,
		&createdAt, &updatedAt, &lastAccessAt, &m.AccessCount); err != nil {
		return core.Memory{}, err
	}

	scope, _ := core.ParseScope(scopeStr)
	m.Scope = scope
	m.Type = core.MemoryType(typeStr)
	m.CreatedAt = unixToTime(createdAt)
	m.UpdatedAt = unixToTime(updatedAt)
	m.LastAccessAt = unixToTime(lastAccessAt)
	if len(tagsJSON) > 0 {
		_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal([]byte(metaJSON), &m.Metadata)
	}
	vec, err := core.DecodeEmbedding(embBlob)
	if err != nil {
		return core.Memory{}, err
	}
	m.Embedding = vec
	return m, nil
}

func edgeColumns() []string {
	return []string{"from_id", "to_id", "type", "weight", "confidence", "scope", "metadata", "created_at"}
}

func scanEdge(row rowScanner) (core.Edge, error) {
	var e core.Edge
	var typeStr, scopeStr, metaJSON string
	var createdAt int64
	if err := row.Scan(&e.FromID, &e.ToID, &typeStr, &e.Weight, &e.Confidence, &scopeStr, &metaJSON, &createdAt); err != nil {
		return core.Edge{}, err
	}
	e.Type = core.EdgeType(typeStr)
	scope, _ := core.ParseScope(scopeStr)
	e.Scope = scope
	if len(metaJSON) > 0 {
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
	}
	e.CreatedAt = unixToTime(createdAt)
	return e, nil
}
