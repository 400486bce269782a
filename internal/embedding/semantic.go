package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// SemanticArtifact is the on-disk shape of a small sentence-encoder: a flat
// token -> embedding vocabulary, mean-pooled at query time. It is loaded
// once at startup via LoadSemanticArtifact and never refetched.
type SemanticArtifact struct {
	Dimension int                  `json:"dimension"`
	Vocab     map[string][]float32 `json:"vocab"`
}

// LoadSemanticArtifact reads a SemanticArtifact from path and verifies its
// SHA-256 matches wantSHA256 before parsing. It performs no network I/O.
// A checksum mismatch or malformed artifact is a construction-time error;
// SemanticEmbedder is never built from an unverified artifact.
func LoadSemanticArtifact(path string, wantSHA256 string) (*SemanticArtifact, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading semantic artifact %q: %w", path, err)
	}

	sum := sha256.Sum256(raw)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, wantSHA256) {
		return nil, fmt.Errorf("semantic artifact %q checksum mismatch: got %s, want %s", path, got, wantSHA256)
	}

	var artifact SemanticArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("parsing semantic artifact %q: %w", path, err)
	}
	if artifact.Dimension <= 0 {
		return nil, fmt.Errorf("semantic artifact %q: dimension must be positive, got %d", path, artifact.Dimension)
	}
	for tok, vec := range artifact.Vocab {
		if len(vec) != artifact.Dimension {
			return nil, fmt.Errorf("semantic artifact %q: token %q has vector length %d, want %d", path, tok, len(vec), artifact.Dimension)
		}
	}
	return &artifact, nil
}

// SemanticEmbedder mean-pools token embeddings from a checksum-pinned local
// artifact and L2-normalizes the result. Tokens absent from the artifact's
// vocabulary are skipped.
type SemanticEmbedder struct {
	artifact *SemanticArtifact
}

// NewSemanticEmbedder constructs a SemanticEmbedder from an already-loaded,
// checksum-verified artifact.
func NewSemanticEmbedder(artifact *SemanticArtifact) *SemanticEmbedder {
	return &SemanticEmbedder{artifact: artifact}
}

func (s *SemanticEmbedder) Dimension() int { return s.artifact.Dimension }

func (s *SemanticEmbedder) Name() string { return "semantic-meanpool-v1" }

func (s *SemanticEmbedder) Embed(text string) []float32 {
	dim := s.artifact.Dimension
	sum := make([]float32, dim)
	count := 0

	for _, tok := range strings.Fields(text) {
		vec, ok := s.artifact.Vocab[tok]
		if !ok {
			continue
		}
		for i, x := range vec {
			sum[i] += x
		}
		count++
	}
	if count == 0 {
		return sum
	}
	for i := range sum {
		sum[i] /= float32(count)
	}
	return l2Normalize(sum)
}
