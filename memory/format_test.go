package memory

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestReduceDeduplicatesByID(t *testing.T) {
	now := time.Now()
	m := Memory{ID: "m1", Type: TypeFact, Content: "paris", CreatedAt: now}
	scored := []Scored{
		{Memory: m, Similarity: 0.9, Score: 0.9},
		{Memory: m, Similarity: 0.5, Score: 0.5},
	}

	out, err := Reduce(scored, nil, ReduceOptions{Format: FormatJSON})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	var parsed jsonContext
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(parsed.Memories) != 1 {
		t.Fatalf("expected deduplication to collapse to one memory, got %d", len(parsed.Memories))
	}
	if parsed.Memories[0].Score != 0.9 {
		t.Errorf("expected the first occurrence's score to win, got %v", parsed.Memories[0].Score)
	}
}

func TestReduceOrdersByCompositeScoreDescending(t *testing.T) {
	low := Scored{Memory: Memory{ID: "low", Content: "low"}, Score: 0.2}
	high := Scored{Memory: Memory{ID: "high", Content: "high"}, Score: 0.9}
	mid := Scored{Memory: Memory{ID: "mid", Content: "mid"}, Score: 0.5}

	out, err := Reduce([]Scored{low, high, mid}, nil, ReduceOptions{Format: FormatJSON})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	var parsed jsonContext
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(parsed.Memories) != 3 {
		t.Fatalf("expected all three memories, got %d", len(parsed.Memories))
	}
	if parsed.Memories[0].ID != "high" || parsed.Memories[1].ID != "mid" || parsed.Memories[2].ID != "low" {
		t.Errorf("expected descending score order, got %+v", parsed.Memories)
	}
}

func TestReduceRespectsTokenBudget(t *testing.T) {
	big := strings.Repeat("x", 100)
	scored := []Scored{
		{Memory: Memory{ID: "a", Type: TypeFact, Content: big}, Score: 0.9},
		{Memory: Memory{ID: "b", Type: TypeFact, Content: big}, Score: 0.8},
		{Memory: Memory{ID: "c", Type: TypeFact, Content: big}, Score: 0.7},
	}

	// budget of 40 tokens ~ 160 chars: only the top-scored memory fits.
	out, err := Reduce(scored, nil, ReduceOptions{Format: FormatJSON, MaxTokens: 40})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	var parsed jsonContext
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(parsed.Memories) != 1 || parsed.Memories[0].ID != "a" {
		t.Errorf("expected the budget to admit only the top-scored memory, got %+v", parsed.Memories)
	}
}

func TestReduceTextFormatHeadingsAndEdges(t *testing.T) {
	scored := []Scored{{Memory: Memory{ID: "a", Type: TypeFact, Content: "paris is the capital of france", Confidence: 0.9}, Score: 0.8}}
	edges := []Edge{{FromID: "a", ToID: "b", Type: EdgeRelatesTo, Weight: 0.8}}

	out, err := Reduce(scored, edges, ReduceOptions{Format: FormatText, IncludeEdges: true})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !strings.Contains(out, "Relevant Memories") {
		t.Errorf("expected a Relevant Memories heading, got %q", out)
	}
	if !strings.Contains(out, "Memory Relationships") {
		t.Errorf("expected a Memory Relationships heading, got %q", out)
	}
	if !strings.Contains(out, "a --[relates_to]--> b") {
		t.Errorf("expected arrow-notation edge rendering, got %q", out)
	}
}

func TestReduceStructuredFormat(t *testing.T) {
	scored := []Scored{{Memory: Memory{ID: "a", Type: TypeFact, Content: "paris", Confidence: 0.9}, Score: 0.8}}

	out, err := Reduce(scored, nil, ReduceOptions{Format: FormatStructured})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	if !strings.Contains(out, `<memory id="a" type="fact" confidence=0.90>`) {
		t.Errorf("expected an XML-like memory tag, got %q", out)
	}
}

func TestReduceJSONFormatLimitsEdgesTo20(t *testing.T) {
	scored := []Scored{{Memory: Memory{ID: "a", Type: TypeFact, Content: "x"}, Score: 0.5}}
	edges := make([]Edge, 25)
	for i := range edges {
		edges[i] = Edge{FromID: "a", ToID: "b", Type: EdgeRelatesTo, Weight: 0.5}
	}

	out, err := Reduce(scored, edges, ReduceOptions{Format: FormatJSON, IncludeEdges: true})
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	var parsed jsonContext
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(parsed.Edges) != 20 {
		t.Errorf("expected edges capped at 20, got %d", len(parsed.Edges))
	}
}
