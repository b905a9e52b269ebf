package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	SearchCounter     metric.Int64Counter
	SearchDuration    metric.Float64Histogram
	IngestCounter     metric.Int64Counter
	IngestDuration    metric.Float64Histogram
	BackupCounter     metric.Int64Counter
	EvictionCounter   metric.Int64Counter
	ResidentSessions  metric.Int64UpDownCounter
	EmbeddingRequests metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("pharma-docs-platform")

	searchCounter, err := meter.Int64Counter(
		"vector.searches.total",
		metric.WithDescription("Total vector searches served"),
	)
	if err != nil {
		return nil, err
	}

	searchDuration, err := meter.Float64Histogram(
		"vector.search.duration",
		metric.WithDescription("Vector search duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ingestCounter, err := meter.Int64Counter(
		"vector.documents.ingested",
		metric.WithDescription("Total documents ingested into session indices"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"vector.ingest.duration",
		metric.WithDescription("Document ingest duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	backupCounter, err := meter.Int64Counter(
		"vector.backups.total",
		metric.WithDescription("Total session backup uploads"),
	)
	if err != nil {
		return nil, err
	}

	evictionCounter, err := meter.Int64Counter(
		"vector.sessions.evicted",
		metric.WithDescription("Total sessions evicted from memory"),
	)
	if err != nil {
		return nil, err
	}

	residentSessions, err := meter.Int64UpDownCounter(
		"vector.sessions.resident",
		metric.WithDescription("Sessions currently resident in memory"),
	)
	if err != nil {
		return nil, err
	}

	embeddingRequests, err := meter.Int64Counter(
		"embedding.requests.total",
		metric.WithDescription("Total embedding backend requests"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		SearchCounter:     searchCounter,
		SearchDuration:    searchDuration,
		IngestCounter:     ingestCounter,
		IngestDuration:    ingestDuration,
		BackupCounter:     backupCounter,
		EvictionCounter:   evictionCounter,
		ResidentSessions:  residentSessions,
		EmbeddingRequests: embeddingRequests,
	}, nil
}

// RecordSearch records one vector search
func (m *Metrics) RecordSearch(userID string, hits int, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("user.id", userID),
		attribute.Int("search.hits", hits),
	}

	m.SearchCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.SearchDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordIngest records one document ingest
func (m *Metrics) RecordIngest(userID string, documents int, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("user.id", userID),
	}

	m.IngestCounter.Add(context.Background(), int64(documents), metric.WithAttributes(attrs...))
	m.IngestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordBackup records one backup attempt
func (m *Metrics) RecordBackup(success bool) {
	attrs := []attribute.KeyValue{
		attribute.Bool("backup.success", success),
	}

	m.BackupCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordEviction records one session eviction
func (m *Metrics) RecordEviction(reason string) {
	attrs := []attribute.KeyValue{
		attribute.String("eviction.reason", reason),
	}

	m.EvictionCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// SessionLoaded tracks the resident session gauge
func (m *Metrics) SessionLoaded(delta int64) {
	m.ResidentSessions.Add(context.Background(), delta)
}
