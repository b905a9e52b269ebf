package main

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"pharma-docs-platform/internal/config"
	"pharma-docs-platform/internal/embedding"
	"pharma-docs-platform/internal/logger"
	"pharma-docs-platform/internal/queue"
	"pharma-docs-platform/internal/storage"
	"pharma-docs-platform/internal/telemetry"
	"pharma-docs-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to initialize metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	// Embedding backend
	embedder := embedding.NewModel(cfg)
	{
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := embedder.Initialize(ctx); err != nil {
			cancel()
			log.Fatal("Failed to initialize embedding model:", err)
		}
		cancel()
	}

	store, err := storage.NewGridFSStore(db, cfg.BackupBucket)
	if err != nil {
		log.Fatal("Failed to create backup store:", err)
	}

	manager := services.NewSessionManager(cfg, embedder, store, db.Collection("ingest_audit"), metrics)

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Failed to build queue options:", err)
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6, // ingest jobs
				"default":  3, // backup jobs
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task failed: %s, error: %v", task.Type(), err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(manager)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestDocuments, processor.HandleIngestDocuments)
	mux.HandleFunc(queue.TaskBackupSession, processor.HandleBackupSession)

	log.Println("Starting ingest worker...")
	log.Printf("   Queues: critical(6), default(3), low(1)")

	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
