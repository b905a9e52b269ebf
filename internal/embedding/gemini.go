package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"

	"pharma-docs-platform/internal/config"
	"pharma-docs-platform/internal/logger"
)

// GeminiModel generates embeddings via Google Generative AI. The client is
// created once and kept for the process lifetime; calls go through a circuit
// breaker and a requests-per-minute rate limiter.
type GeminiModel struct {
	apiKey    string
	modelName string
	batchSize int

	mu        sync.Mutex
	client    *genai.Client
	dimension int

	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

func NewGeminiModel(cfg *config.Config) *GeminiModel {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiEmbeddings",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	batchSize := cfg.EmbeddingBatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	return &GeminiModel{
		apiKey:    cfg.GeminiAPIKey,
		modelName: cfg.GoogleEmbeddingsModel,
		batchSize: batchSize,
		breaker:   breaker,
		// 100 RPM free-tier budget with some headroom
		rateLimiter: rate.NewLimiter(rate.Limit(90.0/60.0), 10),
	}
}

func (m *GeminiModel) Name() string { return "google/" + m.modelName }

// Initialize creates the Gemini client and probes the model once to learn the
// vector width. Safe to call repeatedly.
func (m *GeminiModel) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return nil
	}

	if m.apiKey == "" {
		return &ModelLoadError{Provider: m.Name(), Err: fmt.Errorf("missing GEMINI_API_KEY")}
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return &ModelLoadError{Provider: m.Name(), Err: err}
	}

	// Probe for the embedding dimension; the API does not expose it statically.
	em := client.EmbeddingModel(m.modelName)
	resp, err := em.EmbedContent(ctx, genai.Text("dimension probe"))
	if err != nil {
		client.Close()
		return &ModelLoadError{Provider: m.Name(), Err: err}
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		client.Close()
		return &ModelLoadError{Provider: m.Name(), Err: fmt.Errorf("probe returned no embedding")}
	}

	m.client = client
	m.dimension = len(resp.Embedding.Values)
	logger.Info("Embedding model initialized", "provider", m.Name(), "dimension", m.dimension)
	return nil
}

func (m *GeminiModel) Dimension() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dimension
}

func (m *GeminiModel) Embed(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &EmbeddingGenerationError{Provider: m.Name(), Batch: -1, Err: fmt.Errorf("no input texts")}
	}

	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for batch := 0; batch*m.batchSize < len(texts); batch++ {
		// Abort between batches when the caller gave up.
		if err := ctx.Err(); err != nil {
			return nil, &EmbeddingGenerationError{Provider: m.Name(), Batch: batch, Err: err}
		}

		start := batch * m.batchSize
		end := start + m.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batchVecs, err := m.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, &EmbeddingGenerationError{Provider: m.Name(), Batch: batch, Err: err}
		}
		vectors = append(vectors, batchVecs...)
	}

	if normalize {
		for i := range vectors {
			vectors[i] = Normalize(vectors[i])
		}
	}
	return vectors, nil
}

func (m *GeminiModel) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		em := m.client.EmbeddingModel(m.modelName)
		b := em.NewBatch()
		for _, t := range texts {
			b = b.AddContent(genai.Text(t))
		}
		return em.BatchEmbedContents(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	resp := result.(*genai.BatchEmbedContentsResponse)
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at position %d", i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}
