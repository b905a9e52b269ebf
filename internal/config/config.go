package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	Port        string
	GinMode     string
	CORSOrigins []string

	// Upload limits
	MaxFileSize         int64
	AllowedTypes        []string
	SyncProcessingLimit int64
	FileStorageDir      string

	// Chunking
	ChunkSize    int
	ChunkOverlap int
	MaxChunks    int

	// Embeddings configuration
	EmbeddingsProvider    string // "google" (default), "local"
	GeminiAPIKey          string
	GoogleEmbeddingsModel string // e.g., "text-embedding-004"
	EmbeddingDimensions   int    // used by the local provider
	EmbeddingBatchSize    int

	// Search
	SimilarityThreshold float64
	DefaultTopK         int

	// Session lifecycle
	SessionTTLMinutes    int
	IdleTimeoutMinutes   int
	SweepIntervalMinutes int
	BackupBucket         string

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Rate limiting
	RateLimitReqs   int
	RateLimitWindow int // seconds

	// JWT
	JWTSecret    string
	AccessSecret string

	// Tracing
	OTLPEndpoint   string
	TracingEnabled bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/pharma_docs"),
		DBName:      getEnv("DB_NAME", "pharma_docs"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),

		MaxFileSize:         getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB
		AllowedTypes:        strings.Split(getEnv("ALLOWED_FILE_TYPES", "application/pdf,text/plain,text/markdown"), ","),
		SyncProcessingLimit: getEnvInt64("SYNC_PROCESSING_LIMIT", 20971520), // 20MB handled inline, larger goes async
		FileStorageDir:      getEnv("FILE_STORAGE_DIR", "./storage"),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),
		MaxChunks:    getEnvInt("MAX_CHUNKS", 500),

		EmbeddingsProvider:    getEnv("EMBEDDINGS_PROVIDER", "google"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GoogleEmbeddingsModel: getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		EmbeddingDimensions:   getEnvInt("EMBEDDING_DIM", 768),
		EmbeddingBatchSize:    getEnvInt("EMBEDDING_BATCH_SIZE", 32),

		SimilarityThreshold: getEnvFloat64("SIMILARITY_THRESHOLD", 0.3),
		DefaultTopK:         getEnvInt("DEFAULT_TOP_K", 5),

		SessionTTLMinutes:    getEnvInt("SESSION_TTL_MINUTES", 1440),
		IdleTimeoutMinutes:   getEnvInt("SESSION_IDLE_MINUTES", 60),
		SweepIntervalMinutes: getEnvInt("SESSION_SWEEP_MINUTES", 10),
		BackupBucket:         getEnv("BACKUP_BUCKET", "session_backups"),

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		AccessSecret: getEnv("ACCESS_SECRET", ""),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required - set it in .env file")
	}

	if cfg.EmbeddingsProvider == "google" && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the google embeddings provider - set it in .env file")
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
