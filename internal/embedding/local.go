package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashingModel is a deterministic, dependency-free embedding provider: each
// token is hashed into a fixed-width bag-of-words projection. Similarity is
// crude compared to a learned model, but it is stable across processes, needs
// no network, and respects the same contract as the hosted providers. Used
// when EMBEDDINGS_PROVIDER=local and throughout the test suite.
type HashingModel struct {
	dimension   int
	initialized bool
}

func NewHashingModel(dimension int) *HashingModel {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashingModel{dimension: dimension}
}

func (m *HashingModel) Name() string { return "local/hashing" }

func (m *HashingModel) Initialize(ctx context.Context) error {
	m.initialized = true
	return nil
}

func (m *HashingModel) Dimension() int { return m.dimension }

func (m *HashingModel) Embed(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &EmbeddingGenerationError{Provider: m.Name(), Batch: -1, Err: fmt.Errorf("no input texts")}
	}
	if !m.initialized {
		if err := m.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, &EmbeddingGenerationError{Provider: m.Name(), Batch: i, Err: err}
		}

		vec := make([]float32, m.dimension)
		for _, token := range tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(token))
			vec[int(h.Sum32())%m.dimension]++
		}
		if normalize {
			vec = Normalize(vec)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
