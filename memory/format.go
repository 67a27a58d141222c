package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format selects the rendering the reduction service produces.
type Format string

const (
	FormatText       Format = "text"
	FormatStructured Format = "structured"
	FormatJSON       Format = "json"
)

// ReduceOptions tunes Reduce's token budgeting and output shape.
type ReduceOptions struct {
	MaxTokens    int
	IncludeEdges bool
	Format       Format
}

func (o ReduceOptions) withDefaults() ReduceOptions {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 2000
	}
	if o.Format == "" {
		o.Format = FormatText
	}
	return o
}

// charsPerToken approximates the token->character budget conversion
// (a running character budget of roughly 4 characters per token).
const charsPerToken = 4

const maxRelationshipEdges = 10
const maxJSONEdges = 20

// Reduce deduplicates scored by memory id (first occurrence wins),
// greedily selects memories in descending composite-score order while
// a character budget derived from opts.MaxTokens holds, then renders
// the selection (restored to score-descending order) in opts.Format
// alongside at most maxRelationshipEdges/maxJSONEdges of edges.
func Reduce(scored []Scored, edges []Edge, opts ReduceOptions) (string, error) {
	opts = opts.withDefaults()

	seen := make(map[string]bool, len(scored))
	deduped := make([]Scored, 0, len(scored))
	for _, s := range scored {
		if seen[s.Memory.ID] {
			continue
		}
		seen[s.Memory.ID] = true
		deduped = append(deduped, s)
	}
	sortScoredDesc(deduped)

	budget := opts.MaxTokens * charsPerToken
	selected := make([]Scored, 0, len(deduped))
	used := 0
	for _, s := range deduped {
		cost := len(s.Memory.Content) + len(s.Memory.Type)
		if len(selected) > 0 && used+cost > budget {
			break
		}
		selected = append(selected, s)
		used += cost
	}

	switch opts.Format {
	case FormatStructured:
		return renderStructured(selected, edges, opts.IncludeEdges), nil
	case FormatJSON:
		return renderJSON(selected, edges, opts.IncludeEdges)
	default:
		return renderText(selected, edges, opts.IncludeEdges), nil
	}
}

// summaryOf returns the memory's summary, deriving a short line from
// its content for memories written without one.
func summaryOf(m Memory) string {
	if m.Summary != "" {
		return m.Summary
	}
	if idx := strings.IndexByte(m.Content, '\n'); idx >= 0 {
		return m.Content[:idx]
	}
	if len(m.Content) > 140 {
		return m.Content[:140]
	}
	return m.Content
}

func renderText(selected []Scored, edges []Edge, includeEdges bool) string {
	var b strings.Builder
	b.WriteString("## Relevant Memories\n\n")
	for _, s := range selected {
		fmt.Fprintf(&b, "- [%s] (confidence=%.2f, score=%.2f) %s\n", s.Memory.Type, s.Memory.Confidence, s.Score, s.Memory.Content)
	}
	if includeEdges && len(edges) > 0 {
		b.WriteString("\n## Memory Relationships\n\n")
		for i, e := range edges {
			if i >= maxRelationshipEdges {
				break
			}
			fmt.Fprintf(&b, "- %s --[%s]--> %s\n", e.FromID, e.Type, e.ToID)
		}
	}
	return b.String()
}

func renderStructured(selected []Scored, edges []Edge, includeEdges bool) string {
	var b strings.Builder
	for _, s := range selected {
		fmt.Fprintf(&b, "<memory id=%q type=%q confidence=%.2f><summary>%s</summary><content>%s</content></memory>\n",
			s.Memory.ID, s.Memory.Type, s.Memory.Confidence, summaryOf(s.Memory), s.Memory.Content)
	}
	if includeEdges && len(edges) > 0 {
		b.WriteString("<relationships>\n")
		for i, e := range edges {
			if i >= maxRelationshipEdges {
				break
			}
			fmt.Fprintf(&b, "<edge from=%q to=%q type=%q weight=%.2f/>\n", e.FromID, e.ToID, e.Type, e.Weight)
		}
		b.WriteString("</relationships>\n")
	}
	return b.String()
}

type jsonMemory struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Summary    string  `json:"summary"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Relevance  float64 `json:"relevance"`
	Score      float64 `json:"score"`
}

type jsonEdge struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

type jsonContext struct {
	Memories []jsonMemory `json:"memories"`
	Edges    []jsonEdge   `json:"edges,omitempty"`
}

func renderJSON(selected []Scored, edges []Edge, includeEdges bool) (string, error) {
	out := jsonContext{Memories: make([]jsonMemory, len(selected))}
	for i, s := range selected {
		out.Memories[i] = jsonMemory{
			ID:         s.Memory.ID,
			Type:       string(s.Memory.Type),
			Summary:    summaryOf(s.Memory),
			Content:    s.Memory.Content,
			Confidence: s.Memory.Confidence,
			Relevance:  s.Similarity,
			Score:      s.Score,
		}
	}
	if includeEdges {
		for i, e := range edges {
			if i >= maxJSONEdges {
				break
			}
			out.Edges = append(out.Edges, jsonEdge{From: e.FromID, To: e.ToID, Type: string(e.Type), Weight: e.Weight})
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", NewError(ErrBackend, "marshal reduced context", err)
	}
	return string(b), nil
}
