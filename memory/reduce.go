package memory

import "time"

// composite score weights.
const (
	weightSimilarity  = 0.35
	weightConfidence  = 0.25
	weightImportance  = 0.20
	weightRecency     = 0.10
	weightAccessCount = 0.10
)

// RecencyScore buckets age since createdAt.
func RecencyScore(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	switch {
	case age <= 24*time.Hour:
		return 1.0
	case age <= 7*24*time.Hour:
		return 0.8
	case age <= 30*24*time.Hour:
		return 0.6
	case age <= 90*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

// AccessCountScore is the access-count term of the composite score: a
// never-accessed memory scores 0.3, everything else scales up with
// diminishing returns, capped at 1.0.
func AccessCountScore(count int) float64 {
	if count == 0 {
		return 0.3
	}
	score := 0.5 + 0.1*float64(count)
	if score > 1.0 {
		return 1.0
	}
	return score
}

// CompositeScore implements the reduction service's scoring formula.
func CompositeScore(similarity float64, m Memory, now time.Time) float64 {
	return weightSimilarity*similarity +
		weightConfidence*m.Confidence +
		weightImportance*m.Importance +
		weightRecency*RecencyScore(m.CreatedAt, now) +
		weightAccessCount*AccessCountScore(m.AccessCount)
}

// Rerank scores every candidate with CompositeScore, sorts descending,
// and rebudgets to threshold/limit in one pass — the canonical
// merge-then-resort-then-rebudget behavior recall+expand relies on.
func Rerank(candidates []Scored, threshold float64, limit int, now time.Time) []Memory {
	scored := RerankScored(candidates, threshold, limit, now)
	out := make([]Memory, len(scored))
	for i, s := range scored {
		out[i] = s.Memory
	}
	return out
}

// RerankScored is Rerank's Scored-preserving form, used wherever a
// caller (the reduction service) still needs the composite score and
// similarity that produced the ordering, not just the bare memories.
func RerankScored(candidates []Scored, threshold float64, limit int, now time.Time) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		c.Score = CompositeScore(c.Similarity, c.Memory, now)
		scored = append(scored, c)
	}
	sortScoredDesc(scored)

	out := make([]Scored, 0, limit)
	for _, s := range scored {
		if s.Similarity < threshold {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func sortScoredDesc(s []Scored) {
	// insertion sort is fine here: candidate sets are small (seed +
	// bounded graph expansion), and keeping it allocation-free avoids
	// pulling in sort.Slice's reflection for a handful of elements.
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Score > s[j-1].Score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
