package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"pharma-docs-platform/internal/config"
	"pharma-docs-platform/internal/embedding"
	"pharma-docs-platform/internal/logger"
	"pharma-docs-platform/internal/schedule"
	"pharma-docs-platform/internal/storage"
	"pharma-docs-platform/internal/telemetry"
	"pharma-docs-platform/middleware"
	"pharma-docs-platform/routes"
	"pharma-docs-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	// Tracing is optional; metrics are always registered
	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("pharma-docs-platform", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to initialize tracer:", err)
		}
		defer shutdown()
	}

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

	// Connect to Redis (token revocation, task queue)
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Failed to build queue options:", err)
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

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

	// Session backups live in GridFS
	store, err := storage.NewGridFSStore(db, cfg.BackupBucket)
	if err != nil {
		log.Fatal("Failed to create backup store:", err)
	}

	manager := services.NewSessionManager(cfg, embedder, store, db.Collection("ingest_audit"), metrics)

	// TTL sweep evicts and tears down expired sessions
	scheduler := schedule.NewScheduler()
	sweepEvery := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	err = scheduler.ScheduleInterval("session-ttl-sweep", sweepEvery, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n := manager.CleanupExpired(ctx); n > 0 {
			log.Printf("TTL sweep removed %d sessions", n)
		}
		return nil
	})
	if err != nil {
		log.Fatal("Failed to schedule TTL sweep:", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Idle sweep evicts inactive sessions but keeps them re-enterable
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	idleSweeper := services.NewIdleSweeper(manager, sweepEvery, time.Duration(cfg.IdleTimeoutMinutes)*time.Minute)
	go idleSweeper.Run(sweepCtx)

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RateLimitMiddleware(rdb, cfg))
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "healthy",
			"timestamp":         time.Now(),
			"resident_sessions": manager.ResidentCount(),
		})
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg, rdb)
	routes.SetupVectorRoutes(router, cfg, manager, asynqClient, authMiddleware)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	// Flush dirty sessions before exit
	stopSweep()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer flushCancel()
	if n := manager.Shutdown(flushCtx); n > 0 {
		log.Printf("Flushed %d sessions on shutdown", n)
	}

	log.Println("Server exited")
}
