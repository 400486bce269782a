// Package embedding turns normalized text into fixed-dimension unit vectors.
// Two interchangeable implementations are provided: a deterministic,
// no-I/O FastEmbedder and an artifact-backed SemanticEmbedder whose model
// weights are checksum-pinned at load time.
package embedding

import "math"

// Embedder turns normalized text into an L2-normalized float32 vector of a
// fixed dimension. Implementations must be deterministic for a given input
// and artifact version, and must never return an error for well-formed
// UTF-8 input — a zero vector is returned for empty input.
type Embedder interface {
	// Embed returns a vector of length Dimension(). ||output||_2 == 1, or
	// ~0 for empty input.
	Embed(text string) []float32
	// Dimension is the fixed size of every vector this embedder produces.
	Dimension() int
	// Name identifies the embedder for the vectorindex coupling guard —
	// an index seeded by one embedder rejects vectors from another.
	Name() string
}

// FastEmbedder is a deterministic, model-free embedder. For each codepoint
// c at position i in the input, it accumulates into bucket (c*31 + i*17)
// mod D, then L2-normalizes. O(len(text)) time, no I/O.
type FastEmbedder struct {
	dim int
}

// NewFastEmbedder returns a FastEmbedder producing dim-length vectors. dim
// must be positive.
func NewFastEmbedder(dim int) *FastEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &FastEmbedder{dim: dim}
}

func (f *FastEmbedder) Dimension() int { return f.dim }

func (f *FastEmbedder) Name() string { return "fast-hash-v1" }

func (f *FastEmbedder) Embed(text string) []float32 {
	v := make([]float32, f.dim)
	i := 0
	for _, c := range text {
		bucket := (int(c)*31 + i*17) % f.dim
		if bucket < 0 {
			bucket += f.dim
		}
		v[bucket]++
		i++
	}
	return l2Normalize(v)
}

func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
	return v
}
