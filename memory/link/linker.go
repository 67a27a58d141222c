// Package link implements the auto-linker: after a memory is embedded,
// it proposes relates_to edges to its nearest neighbors.
package link

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory/core"
	"github.com/cortexmem/cortex/memory/backend"
)

// Config tunes the auto-linker.
type Config struct {
	Threshold     float64
	MaxCandidates int
	MaxLinks      int
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 0.75
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 20
	}
	if c.MaxLinks <= 0 {
		c.MaxLinks = 5
	}
	return c
}

// Linker proposes edges between semantically related memories.
type Linker struct {
	be     backend.Backend
	cfg    Config
	logger zerolog.Logger
}

func New(be backend.Backend, cfg Config, logger zerolog.Logger) *Linker {
	return &Linker{be: be, cfg: cfg.withDefaults(), logger: logger.With().Str("component", "linker").Logger()}
}

// Link finds m's nearest neighbors and writes relates_to edges to the
// ones at or above the similarity threshold, highest similarity first,
// capped at MaxLinks.
func (l *Linker) Link(ctx context.Context, actx core.AccessContext, m core.Memory) error {
	if len(m.Embedding) == 0 {
		return nil
	}

	candidates, err := l.be.VectorSearch(ctx, actx, m.Embedding, backend.VectorSearchOptions{
		Limit:     l.cfg.MaxCandidates + 1, // +1 in case m itself is returned
		Threshold: l.cfg.Threshold,
	})
	if err != nil {
		return core.NewError(core.ErrBackend, "linker candidate search", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })

	linked := 0
	for _, c := range candidates {
		if c.Memory.ID == m.ID {
			continue
		}
		if linked >= l.cfg.MaxLinks {
			break
		}
		_, err := l.be.PutEdge(ctx, actx, core.Edge{
			FromID:     m.ID,
			ToID:       c.Memory.ID,
			Type:       core.EdgeRelatesTo,
			Weight:     c.Similarity,
			Confidence: minFloat(m.Confidence, c.Memory.Confidence),
			Metadata: map[string]any{
				"linked_by":        "auto",
				"similarity_score": c.Similarity,
			},
		})
		if err != nil {
			l.logger.Warn().Err(err).Str("from", m.ID).Str("to", c.Memory.ID).Msg("auto-link failed")
			continue
		}
		linked++
	}
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
