package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"pharma-docs-platform/internal/config"
	"pharma-docs-platform/internal/embedding"
	"pharma-docs-platform/internal/vectorindex"
	"pharma-docs-platform/models"
)

// IndexPipeline orchestrates extract -> chunk -> embed -> build for one
// index, and embeds ad-hoc queries against it. Any stage failure aborts the
// whole pipeline; nothing is persisted on error.
type IndexPipeline struct {
	extractor *DocumentExtractor
	chunker   *DocumentChunker
	embedder  embedding.Model
	index     *vectorindex.Index
	saveDir   string
}

// NewIndexPipeline builds a pipeline over the given index. saveDir may be
// empty to disable persistence after builds.
func NewIndexPipeline(cfg *config.Config, embedder embedding.Model, index *vectorindex.Index, saveDir string) *IndexPipeline {
	return &IndexPipeline{
		extractor: NewDocumentExtractor(cfg),
		chunker:   NewDocumentChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxChunks),
		embedder:  embedder,
		index:     index,
		saveDir:   saveDir,
	}
}

// Index exposes the pipeline's vector index.
func (p *IndexPipeline) Index() *vectorindex.Index { return p.index }

// Chunker exposes the pipeline's chunker for callers that pre-chunk.
func (p *IndexPipeline) Chunker() *DocumentChunker { return p.chunker }

// Extractor exposes the pipeline's document extractor.
func (p *IndexPipeline) Extractor() *DocumentExtractor { return p.extractor }

// ProcessDocument runs one document through the full pipeline and rebuilds
// the index from its chunks. Returns the number of chunks produced; zero
// chunks is not an error, the index is simply left untouched.
func (p *IndexPipeline) ProcessDocument(ctx context.Context, path, indexName string) (int, error) {
	tracer := otel.Tracer("pharma-docs-platform/pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.process_document")
	defer span.End()
	span.SetAttributes(attribute.String("document.path", path))

	text, err := p.extractor.Extract(path)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", path, err)
	}

	chunks := p.chunker.ChunkText(text)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.Embed(ctx, texts, true)
	if err != nil {
		return 0, fmt.Errorf("embed %s: %w", path, err)
	}

	if err := p.index.Build(vectors, chunks); err != nil {
		return 0, fmt.Errorf("build index for %s: %w", path, err)
	}

	if p.saveDir != "" {
		if err := p.index.Save(p.saveDir, indexName); err != nil {
			return 0, fmt.Errorf("save index %s: %w", indexName, err)
		}
	}

	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// EmbedChunks embeds pre-built chunks, normalized, in order.
func (p *IndexPipeline) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return p.embedder.Embed(ctx, texts, true)
}

// EmbedQuery returns the normalized vector for one query string.
func (p *IndexPipeline) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedder.Embed(ctx, []string{text}, true)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// SearchSimilar embeds text and queries the index. A non-negative threshold
// overrides the index default for the scope of this call only; the previous
// value is restored even when embedding fails.
func (p *IndexPipeline) SearchSimilar(ctx context.Context, text string, k int, threshold float64) ([]vectorindex.SearchHit, error) {
	effective := p.index.Threshold()
	if threshold >= 0 {
		previous := effective
		p.index.SetThreshold(threshold)
		defer p.index.SetThreshold(previous)
		effective = threshold
	}

	query, err := p.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return p.index.Search(query, k, effective), nil
}
