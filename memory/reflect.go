package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// defaultReflectTopic seeds the recall when the caller gives no topic.
const defaultReflectTopic = "important observations, facts, and decisions"

// maxReflectionSummary bounds the derived Summary line; an LLM whose
// first line runs long would otherwise produce an unwieldy summary.
const maxReflectionSummary = 140

// Summarizer condenses a cluster of source memories around a topic into
// free-form text. Implementations may return a multi-paragraph body;
// Reflect splits it on the first newline into Summary and Content.
type Summarizer interface {
	Summarize(ctx context.Context, topic string, sources []Memory) (string, error)
}

// memoryStorer is the slice of the storage service Reflect needs: the
// full write path, so a stored reflection is embedded and auto-linked
// like any other memory instead of being dropped straight into the
// backend unembedded.
type memoryStorer interface {
	Store(ctx context.Context, actx AccessContext, m Memory) (Memory, error)
}

// Reflector is the reflect orchestrator.
type Reflector struct {
	retrieval  *Retrieval
	graph      *Graph
	storage    memoryStorer
	summarizer Summarizer
	logger     zerolog.Logger
}

func NewReflector(retrieval *Retrieval, graph *Graph, storage memoryStorer, summarizer Summarizer, logger zerolog.Logger) *Reflector {
	return &Reflector{retrieval: retrieval, graph: graph, storage: storage, summarizer: summarizer, logger: logger.With().Str("component", "reflect").Logger()}
}

// Reflect recalls up to opts.MaxMemories memories relevant to topic
// (defaulting to a broad "important observations" query), requires at
// least opts.MinMemories or returns an error, condenses them — via the
// configured summarizer, or a deterministic bullet-list fallback when
// none is configured — and stores the result as a private reflection
// atom owned by the caller, linked to every source with a supports
// edge. The first line of the synthesized text becomes Summary and the
// remainder Content, so the substantive body is what gets embedded and
// recalled. With opts.DryRun the text is computed but nothing is
// persisted; the returned Memory is unstored (empty ID).
func (r *Reflector) Reflect(ctx context.Context, actx AccessContext, topic string, opts ReflectOptions) (Memory, error) {
	opts = opts.WithDefaults()
	if topic == "" {
		topic = defaultReflectTopic
	}

	sources, err := r.retrieval.Recall(ctx, actx, topic, RecallOptions{Limit: opts.MaxMemories, Threshold: 0.2, ExpandGraph: true, GraphDepth: 1})
	if err != nil {
		return Memory{}, err
	}
	if len(sources) < opts.MinMemories {
		return Memory{}, NewError(ErrInsufficientMemories, "insufficient material for reflection", nil)
	}

	var raw string
	if r.summarizer != nil {
		raw, err = r.summarizer.Summarize(ctx, topic, sources)
		if err != nil {
			return Memory{}, NewError(ErrBackend, "summarize sources", err)
		}
	} else {
		raw = defaultReflection(topic, sources)
	}

	summary, content := splitReflection(raw)

	sourceIDs := lo.Map(sources, func(s Memory, _ int) string { return s.ID })

	confidence := averageConfidence(sources) + 0.1
	if confidence > 1.0 {
		confidence = 1.0
	}

	reflection := Memory{
		Scope:      ScopePrivate,
		OwnerID:    actx.AgentID,
		Type:       TypeReflection,
		Summary:    summary,
		Content:    content,
		Confidence: confidence,
		Importance: 0.8,
		Metadata:   map[string]any{"topic": topic, "source_ids": sourceIDs},
		CreatedAt:  time.Now(),
	}

	if opts.DryRun {
		return reflection, nil
	}

	stored, err := r.storage.Store(ctx, actx, reflection)
	if err != nil {
		return Memory{}, NewError(ErrBackend, "store reflection", err)
	}

	for _, src := range sources {
		if err := r.graph.Link(ctx, actx, stored.ID, src.ID, EdgeSupports, 0.7); err != nil {
			r.logger.Warn().Err(err).Str("source", src.ID).Str("reflection", stored.ID).Msg("supports edge failed")
		}
	}

	return stored, nil
}

// defaultReflection renders the summarizer-free fallback: a header line
// naming the topic and source count, then one bullet per source.
func defaultReflection(topic string, sources []Memory) string {
	var b strings.Builder
	if topic == defaultReflectTopic {
		fmt.Fprintf(&b, "Reflection from %d memories:\n", len(sources))
	} else {
		fmt.Fprintf(&b, "Reflection about %s from %d memories:\n", topic, len(sources))
	}
	for _, src := range sources {
		fmt.Fprintf(&b, "- [%s] %s\n", src.Type, summaryOf(src))
	}
	return b.String()
}

// splitReflection divides raw on its first newline: the first line
// becomes the summary (bounded, so a long LLM opening line stays
// usable) and the remainder the content. Single-line input keeps the
// full text as content so the substantive synthesis is never lost to
// the summary field.
func splitReflection(raw string) (summary, content string) {
	raw = strings.TrimSpace(raw)
	idx := strings.IndexByte(raw, '\n')
	if idx < 0 {
		return truncateSummary(raw), raw
	}
	return truncateSummary(strings.TrimSpace(raw[:idx])), strings.TrimSpace(raw[idx+1:])
}

func truncateSummary(s string) string {
	if len(s) > maxReflectionSummary {
		return s[:maxReflectionSummary]
	}
	return s
}

func averageConfidence(sources []Memory) float64 {
	if len(sources) == 0 {
		return 0
	}
	return lo.SumBy(sources, func(s Memory) float64 { return s.Confidence }) / float64(len(sources))
}
