package core

import "time"

// Scope orders memories by visibility. The order is total: a memory at
// a more restrictive scope is never visible to a context scoped more
// loosely at read time, and an edge between two memories always takes
// the stricter of its endpoints' scopes.
type Scope int

const (
	ScopePrivate Scope = iota
	ScopeShared
	ScopeGlobal
)

func (s Scope) String() string {
	switch s {
	case ScopePrivate:
		return "private"
	case ScopeShared:
		return "shared"
	case ScopeGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// ParseScope converts a stored/wire scope name back into a Scope.
func ParseScope(s string) (Scope, bool) {
	switch s {
	case "private":
		return ScopePrivate, true
	case "shared":
		return ScopeShared, true
	case "global":
		return ScopeGlobal, true
	default:
		return 0, false
	}
}

// stricter returns the more restrictive (lower) of two scopes.
func stricter(a, b Scope) Scope {
	if a < b {
		return a
	}
	return b
}

// MemoryType is the kind of atom stored.
type MemoryType string

const (
	TypeFact         MemoryType = "fact"
	TypeConversation MemoryType = "conversation"
	TypeEpisodic     MemoryType = "episodic"
	TypeReflection   MemoryType = "reflection"
	TypeObservation  MemoryType = "observation"
	TypeDecision     MemoryType = "decision"
	TypeArtifact     MemoryType = "artifact"
)

// EdgeType is the kind of relation an Edge encodes.
type EdgeType string

const (
	EdgeRelatesTo   EdgeType = "relates_to"
	EdgeSupports    EdgeType = "supports"
	EdgeContradicts EdgeType = "contradicts"
	EdgeCauses      EdgeType = "causes"
	EdgeFollows     EdgeType = "follows"
)

// Memory is a single atom of long-term memory.
type Memory struct {
	ID           string         `json:"id"`
	Scope        Scope          `json:"scope"`
	OwnerID      string         `json:"owner_id,omitempty"`
	TenantID     string         `json:"tenant_id,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Type         MemoryType     `json:"type"`
	Summary      string         `json:"summary,omitempty"`
	Content      string         `json:"content"`
	Embedding    []float32      `json:"embedding,omitempty"`
	Confidence   float64        `json:"confidence"`
	Importance   float64        `json:"importance"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	LastAccessAt time.Time      `json:"last_access_at"`
	AccessCount  int            `json:"access_count"`
}

// Edge is a typed, weighted relation between two memories.
type Edge struct {
	FromID     string         `json:"from_id"`
	ToID       string         `json:"to_id"`
	Type       EdgeType       `json:"type"`
	Weight     float64        `json:"weight"`
	Confidence float64        `json:"confidence"`
	Scope      Scope          `json:"scope"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EdgeScope derives an edge's effective scope from its endpoints: the
// stricter of the two.
func EdgeScope(from, to Scope) Scope {
	return stricter(from, to)
}

// Role classifies the caller behind an AccessContext.
type Role string

const (
	RoleAgent      Role = "agent"
	RoleSupervisor Role = "supervisor"
	RoleSystem     Role = "system"
)

// AccessContext identifies the caller, the scopes it may touch, and the
// tenant it belongs to.
type AccessContext struct {
	AgentID  string
	TenantID string
	Role     Role
	Scopes   []Scope
}

// CanAccess reports whether ctx may read or write m. Role = system is
// an unconditional bypass — the privileged context background workers
// such as the durable indexer use to reach a memory regardless of
// which agent wrote it. Otherwise m's scope must be one ctx holds; a
// private memory additionally requires ctx to be its owner, and a
// shared memory additionally requires the two tenants to match (an
// absent tenant on either side is treated as a wildcard, never a
// denial).
func (ctx AccessContext) CanAccess(m Memory) bool {
	if ctx.Role == RoleSystem {
		return true
	}
	allowed := false
	for _, s := range ctx.Scopes {
		if s == m.Scope {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	switch m.Scope {
	case ScopePrivate:
		if m.OwnerID != ctx.AgentID {
			return false
		}
	case ScopeShared:
		if ctx.TenantID != "" && m.TenantID != "" && ctx.TenantID != m.TenantID {
			return false
		}
	}
	return true
}

// CanWrite reports whether ctx may write at scope. Private is always
// writable by its owner; role = system may write any scope; shared
// additionally allows role = supervisor; beyond that, a write is
// allowed only when ctx already holds the target scope (capability
// flags are folded into the Scopes set assembled for ctx at
// construction).
func (ctx AccessContext) CanWrite(scope Scope) bool {
	if scope == ScopePrivate || ctx.Role == RoleSystem {
		return true
	}
	if scope == ScopeShared && ctx.Role == RoleSupervisor {
		return true
	}
	for _, s := range ctx.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ApplyDefaults fills in the confidence/importance defaults when a
// caller leaves them at the Go zero value, then demotes scope to
// private whenever confidence falls below 0.7. The demotion is
// re-applied any time these fields are set, not just at construction.
func (m Memory) ApplyDefaults() Memory {
	if m.Confidence == 0 {
		m.Confidence = 0.7
	}
	if m.Importance == 0 {
		m.Importance = 0.5
	}
	if m.Confidence < 0.7 {
		m.Scope = ScopePrivate
	}
	return m
}

// ValidateInvariants checks a draft or stored memory's structural
// constraints: value ranges, and scope/ownership consistency.
func (m Memory) ValidateInvariants() error {
	if m.Confidence < 0 || m.Confidence > 1 {
		return NewError(ErrInvalidArgument, "confidence must be in [0,1]", nil)
	}
	if m.Importance < 0 || m.Importance > 1 {
		return NewError(ErrInvalidArgument, "importance must be in [0,1]", nil)
	}
	if m.Scope == ScopePrivate && m.OwnerID == "" {
		return NewError(ErrInvalidArgument, "private memory must have an owner_id", nil)
	}
	if m.Scope == ScopeGlobal && m.OwnerID != "" {
		return NewError(ErrInvalidArgument, "global memory must not have an owner_id", nil)
	}
	return nil
}

// ValidateInvariants checks the structural pieces a backend can verify
// without consulting other rows (weight/confidence range, no
// self-edge, endpoints set).
func (e Edge) ValidateInvariants() error {
	if e.Weight < 0 || e.Weight > 1 {
		return NewError(ErrInvalidArgument, "edge weight must be in [0,1]", nil)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return NewError(ErrInvalidArgument, "edge confidence must be in [0,1]", nil)
	}
	if e.FromID == e.ToID {
		return NewError(ErrInvalidArgument, "self-edges are not allowed", nil)
	}
	if e.FromID == "" || e.ToID == "" {
		return NewError(ErrInvalidArgument, "edge endpoints must be set", nil)
	}
	return nil
}

// ApplyDefaults fills Confidence to 1.0 when unset — an edge created
// without an explicit confidence is assumed certain, matching the
// default a caller-authored (non auto-linked) edge implies.
func (e Edge) ApplyDefaults() Edge {
	if e.Confidence == 0 {
		e.Confidence = 1.0
	}
	return e
}

// RecallOptions tunes the retrieval read path. Graph expansion is
// strictly opt-in: GraphDepth only matters when ExpandGraph is set, and
// a plain recall performs pure vector search with no graph traversal.
type RecallOptions struct {
	Limit       int
	Threshold   float64
	ExpandGraph bool
	GraphDepth  int
}

func (o RecallOptions) WithDefaults() RecallOptions {
	if o.Limit <= 0 {
		o.Limit = 5
	}
	if o.Threshold <= 0 {
		o.Threshold = 0.3
	}
	if o.GraphDepth <= 0 {
		o.GraphDepth = 1
	}
	return o
}

// Direction selects which edges Neighbors walks relative to the
// queried memory.
type Direction int

const (
	DirOutgoing Direction = iota
	DirIncoming
	DirBoth
)

// Neighbor pairs an edge with the memory on its far side.
type Neighbor struct {
	Memory Memory
	Edge   Edge
}

// NeighborOptions tunes Graph.Neighbors. The zero value means: outgoing
// edges of any type, no weight floor, up to 50 results.
type NeighborOptions struct {
	Direction Direction
	Types     []EdgeType
	MinWeight float64
	Limit     int
}

func (o NeighborOptions) WithDefaults() NeighborOptions {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	return o
}

// ExpandOptions tunes Graph.Expand.
type ExpandOptions struct {
	MinWeight     float64
	MinConfidence float64
	Limit         int
}

func (o ExpandOptions) WithDefaults() ExpandOptions {
	if o.MinWeight <= 0 {
		o.MinWeight = 0.3
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = 0.5
	}
	if o.Limit <= 0 {
		o.Limit = 50
	}
	return o
}

// ReflectOptions tunes the reflect orchestrator. DryRun
// computes the reflection text without persisting it or linking
// sources.
type ReflectOptions struct {
	MinMemories int
	MaxMemories int
	DryRun      bool
}

func (o ReflectOptions) WithDefaults() ReflectOptions {
	if o.MinMemories <= 0 {
		o.MinMemories = 3
	}
	if o.MaxMemories <= 0 {
		o.MaxMemories = 15
	}
	return o
}

const maxExpandDepth = 3

// Scored pairs a Memory with the composite score the reduction service
// assigned it, and the similarity it was discovered at (its cosine
// similarity as a search seed, or the flat expansion score when it was
// only reached through the graph).
type Scored struct {
	Memory     Memory
	Similarity float64
	Score      float64
}
