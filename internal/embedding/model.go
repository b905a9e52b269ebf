package embedding

import (
	"context"
	"math"

	"pharma-docs-platform/internal/config"
)

// Model converts free text into fixed-width float vectors. Implementations
// keep their backend resident for the process lifetime once initialized.
type Model interface {
	// Initialize loads the backend. Idempotent; returns *ModelLoadError when
	// the backend is unavailable.
	Initialize(ctx context.Context) error

	// Embed returns one vector per input text, in input order, batched to
	// bound memory. When normalize is true vectors are unit-length so inner
	// product equals cosine similarity. Empty input or backend failure yields
	// *EmbeddingGenerationError. The context is checked between batches so
	// long jobs can abort at batch boundaries.
	Embed(ctx context.Context, texts []string, normalize bool) ([][]float32, error)

	// Dimension reports the vector width. Requires a prior Initialize.
	Dimension() int

	Name() string
}

// NewModel selects the provider configured in EMBEDDINGS_PROVIDER.
func NewModel(cfg *config.Config) Model {
	switch cfg.EmbeddingsProvider {
	case "local":
		return NewHashingModel(cfg.EmbeddingDimensions)
	default:
		return NewGeminiModel(cfg)
	}
}

// Normalize scales v to unit L2 length in place. Zero vectors are returned
// unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
