// Package testembed provides deterministic embedders for tests, so no
// live Ollama/OpenAI endpoint is ever needed to exercise the search
// and indexing paths.
package testembed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Literal is a stub embedder for literal-value scenarios: it returns a
// fixed vector for each exact input string and the zero vector for
// anything unrecognized.
type Literal struct {
	Vectors    map[string][]float32
	dimensions int
}

func NewLiteral(dimensions int, vectors map[string][]float32) *Literal {
	return &Literal{Vectors: vectors, dimensions: dimensions}
}

func (l *Literal) Dimensions() int { return l.dimensions }

func (l *Literal) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := l.Vectors[text]; ok {
		return v, nil
	}
	return make([]float32, l.dimensions), nil
}

func (l *Literal) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Semantic hashes words into a fixed-width vector so that documents
// sharing words score a higher cosine similarity than unrelated ones.
// Deterministic, no external services — suitable for CI.
type Semantic struct {
	dimensions int
}

func NewSemantic(dimensions int) *Semantic { return &Semantic{dimensions: dimensions} }

func (s *Semantic) Dimensions() int { return s.dimensions }

func (s *Semantic) Embed(_ context.Context, text string) ([]float32, error) {
	words := strings.Fields(strings.ToLower(text))
	vec := make([]float32, s.dimensions)
	if len(words) == 0 {
		return vec, nil
	}
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		hash := h.Sum32()
		for i := 0; i < 3; i++ {
			dim := int((hash + uint32(i)*2654435761) % uint32(s.dimensions))
			vec[dim] += float32(math.Sin(float64(hash+uint32(i))*0.1) + 1.0)
		}
	}
	var mag float32
	for _, v := range vec {
		mag += v * v
	}
	mag = float32(math.Sqrt(float64(mag)))
	if mag > 0 {
		for i := range vec {
			vec[i] /= mag
		}
	}
	return vec, nil
}

func (s *Semantic) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
