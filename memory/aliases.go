package memory

import "github.com/cortexmem/cortex/memory/core"

// Re-exported so callers of this package never need to import
// memory/core directly — the split exists only to let backend/index/
// link/embed depend on the data model without importing the services
// that depend on them in turn.
type (
	Scope           = core.Scope
	MemoryType      = core.MemoryType
	EdgeType        = core.EdgeType
	Memory          = core.Memory
	Edge            = core.Edge
	AccessContext   = core.AccessContext
	RecallOptions   = core.RecallOptions
	NeighborOptions = core.NeighborOptions
	ExpandOptions   = core.ExpandOptions
	ReflectOptions  = core.ReflectOptions
	Scored          = core.Scored
	Neighbor        = core.Neighbor
	Direction       = core.Direction
	ErrorKind       = core.ErrorKind
	Error           = core.Error
	Role            = core.Role
)

const (
	ScopePrivate = core.ScopePrivate
	ScopeShared  = core.ScopeShared
	ScopeGlobal  = core.ScopeGlobal

	RoleAgent      = core.RoleAgent
	RoleSupervisor = core.RoleSupervisor
	RoleSystem     = core.RoleSystem

	DirOutgoing = core.DirOutgoing
	DirIncoming = core.DirIncoming
	DirBoth     = core.DirBoth

	TypeFact         = core.TypeFact
	TypeConversation = core.TypeConversation
	TypeEpisodic     = core.TypeEpisodic
	TypeReflection   = core.TypeReflection
	TypeObservation  = core.TypeObservation
	TypeDecision     = core.TypeDecision
	TypeArtifact     = core.TypeArtifact

	EdgeRelatesTo   = core.EdgeRelatesTo
	EdgeSupports    = core.EdgeSupports
	EdgeContradicts = core.EdgeContradicts
	EdgeCauses      = core.EdgeCauses
	EdgeFollows     = core.EdgeFollows

	ErrNotFound             = core.ErrNotFound
	ErrAccessDenied         = core.ErrAccessDenied
	ErrInvalidArgument      = core.ErrInvalidArgument
	ErrEmbedding            = core.ErrEmbedding
	ErrBackend              = core.ErrBackend
	ErrInsufficientMemories = core.ErrInsufficientMemories

	maxExpandDepth = 3
)

var (
	EdgeScope        = core.EdgeScope
	NewError         = core.NewError
	KindOf           = core.KindOf
	ParseScope       = core.ParseScope
	CosineSimilarity = core.CosineSimilarity
	EncodeEmbedding  = core.EncodeEmbedding
	DecodeEmbedding  = core.DecodeEmbedding
)
