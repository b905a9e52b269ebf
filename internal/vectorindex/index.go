// Package vectorindex implements an exact inner-product nearest-neighbor
// index with an order-aligned chunk list. The ordinal position of a vector is
// its stable ID: hit N maps back to chunk N. Vectors are expected to be
// unit-normalized so inner product equals cosine similarity.
package vectorindex

import (
	"sort"
	"sync"

	"pharma-docs-platform/models"
)

// IndexTypeFlatIP is the only index type currently produced. Exact linear
// scan, not approximate, despite the generic ANN naming in the artifacts.
const IndexTypeFlatIP = "flat_ip"

// SearchHit is one ranked result from a similarity query.
type SearchHit struct {
	Ordinal    int                  `json:"ordinal"`
	Similarity float32              `json:"similarity"`
	Text       string               `json:"text"`
	Metadata   models.ChunkMetadata `json:"metadata"`
}

// Index holds vectors and their chunks. All state transitions happen through
// Build, which swaps the whole structure atomically: a concurrent Search
// observes either the old index or the new one, never a partial rebuild.
type Index struct {
	mu        sync.RWMutex
	dimension int
	threshold float64
	vectors   [][]float32
	chunks    []models.Chunk
}

// New creates an empty index sized to the given embedding width.
func New(dimension int, threshold float64) *Index {
	return &Index{
		dimension: dimension,
		threshold: threshold,
	}
}

// Build replaces the index contents with the given embeddings and chunks.
// Counts must match; embeddings must share one width. All-or-nothing: on any
// error the previous state is untouched.
func (idx *Index) Build(embeddings [][]float32, chunks []models.Chunk) error {
	if len(embeddings) != len(chunks) {
		return dbErrorf("build", "embedding count %d does not match chunk count %d", len(embeddings), len(chunks))
	}

	dim := idx.Dimension()
	if len(embeddings) > 0 {
		dim = len(embeddings[0])
	}

	vectors := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		if len(e) != dim {
			return dbErrorf("build", "vector %d has width %d, want %d", i, len(e), dim)
		}
		v := make([]float32, dim)
		copy(v, e)
		vectors[i] = v
	}

	newChunks := make([]models.Chunk, len(chunks))
	copy(newChunks, chunks)

	idx.mu.Lock()
	idx.vectors = vectors
	idx.chunks = newChunks
	idx.dimension = dim
	idx.mu.Unlock()
	return nil
}

// Search returns up to k hits ordered by descending inner product. Hits below
// threshold and empty-slot sentinels (negative ordinals) are dropped. An empty
// index yields an empty slice, not an error.
func (idx *Index) Search(query []float32, k int, threshold float64) []SearchHit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vectors) == 0 || k <= 0 {
		return []SearchHit{}
	}

	hits := make([]SearchHit, 0, len(idx.vectors))
	for ordinal, v := range idx.vectors {
		if ordinal < 0 {
			continue
		}
		sim := dotProduct(query, v)
		if float64(sim) < threshold {
			continue
		}
		hit := SearchHit{Ordinal: ordinal, Similarity: sim}
		if ordinal < len(idx.chunks) {
			hit.Text = idx.chunks[ordinal].Text
			hit.Metadata = idx.chunks[ordinal].Metadata()
		}
		hits = append(hits, hit)
	}

	// Stable sort keeps insertion order for equal similarities.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Count returns the number of resident vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Dimension returns the vector width the index was built or sized with.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// Threshold returns the default similarity cutoff.
func (idx *Index) Threshold() float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.threshold
}

// SetThreshold replaces the default similarity cutoff.
func (idx *Index) SetThreshold(t float64) {
	idx.mu.Lock()
	idx.threshold = t
	idx.mu.Unlock()
}

// Chunks returns a copy of the order-aligned chunk list.
func (idx *Index) Chunks() []models.Chunk {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]models.Chunk, len(idx.chunks))
	copy(out, idx.chunks)
	return out
}

// ReconstructAll returns copies of every stored vector in ordinal order.
// Callers rebuild on mutation: old vectors are reconstructed here, unioned
// with new ones, and fed back through Build.
func (idx *Index) ReconstructAll() [][]float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([][]float32, len(idx.vectors))
	for i, v := range idx.vectors {
		c := make([]float32, len(v))
		copy(c, v)
		out[i] = c
	}
	return out
}

// Reconstruct returns a copy of the vector at the given ordinal, or nil when
// out of range.
func (idx *Index) Reconstruct(ordinal int) []float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if ordinal < 0 || ordinal >= len(idx.vectors) {
		return nil
	}
	c := make([]float32, len(idx.vectors[ordinal]))
	copy(c, idx.vectors[ordinal])
	return c
}

func dotProduct(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum float32
	for i := 0; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}
