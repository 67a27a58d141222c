package memory

import (
	"math"
	"testing"
	"time"
)

func TestRecencyScoreBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		age  time.Duration
		want float64
	}{
		{1 * time.Hour, 1.0},
		{24 * time.Hour, 1.0},
		{3 * 24 * time.Hour, 0.8},
		{7 * 24 * time.Hour, 0.8},
		{20 * 24 * time.Hour, 0.6},
		{30 * 24 * time.Hour, 0.6},
		{60 * 24 * time.Hour, 0.4},
		{90 * 24 * time.Hour, 0.4},
		{200 * 24 * time.Hour, 0.2},
	}
	for _, c := range cases {
		got := RecencyScore(now.Add(-c.age), now)
		if got != c.want {
			t.Errorf("age %v: RecencyScore = %v, want %v", c.age, got, c.want)
		}
	}
}

func TestAccessCountScoreBuckets(t *testing.T) {
	cases := []struct {
		count int
		want  float64
	}{
		{0, 0.3},
		{1, 0.6},
		{2, 0.7},
		{3, 0.8},
		{5, 1.0},
		{6, 1.0},
		{10, 1.0},
		{11, 1.0},
		{100, 1.0},
	}
	for _, c := range cases {
		if got := AccessCountScore(c.count); got != c.want {
			t.Errorf("count %d: AccessCountScore = %v, want %v", c.count, got, c.want)
		}
	}
}

func TestCompositeScoreFormula(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := Memory{
		Confidence:  0.9,
		Importance:  0.8,
		CreatedAt:   now.Add(-1 * time.Hour), // recency 1.0
		AccessCount: 4,                       // access score 0.9
	}
	similarity := 0.7

	want := 0.35*0.7 + 0.25*0.9 + 0.20*0.8 + 0.10*1.0 + 0.10*0.9
	got := CompositeScore(similarity, m, now)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("CompositeScore = %v, want %v", got, want)
	}
}

func TestRerankOrdersByScoreAndRebudgets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	low := Scored{Memory: Memory{ID: "low", CreatedAt: now}, Similarity: 0.5}
	high := Scored{Memory: Memory{ID: "high", Confidence: 1, Importance: 1, AccessCount: 20, CreatedAt: now}, Similarity: 0.9}
	mid := Scored{Memory: Memory{ID: "mid", Confidence: 0.5, CreatedAt: now}, Similarity: 0.6}

	out := Rerank([]Scored{low, mid, high}, 0.0, 2, now)
	if len(out) != 2 {
		t.Fatalf("expected limit to cap at 2, got %d", len(out))
	}
	if out[0].ID != "high" {
		t.Errorf("expected highest-scored memory first, got %s", out[0].ID)
	}
}

func TestRerankFiltersBelowThreshold(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	below := Scored{Memory: Memory{ID: "below", CreatedAt: now}, Similarity: 0.1}
	above := Scored{Memory: Memory{ID: "above", CreatedAt: now}, Similarity: 0.5}

	out := Rerank([]Scored{below, above}, 0.3, 10, now)
	if len(out) != 1 || out[0].ID != "above" {
		t.Errorf("expected only the above-threshold memory, got %+v", out)
	}
}
