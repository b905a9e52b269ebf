package routes

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"pharma-docs-platform/internal/config"
	"pharma-docs-platform/internal/embedding"
	"pharma-docs-platform/internal/queue"
	"pharma-docs-platform/internal/vectorindex"
	"pharma-docs-platform/middleware"
	"pharma-docs-platform/services"
	"pharma-docs-platform/utils"
)

type searchRequest struct {
	Query     string   `json:"query" binding:"required"`
	TopK      int      `json:"top_k"`
	Threshold *float64 `json:"threshold"`
}

type backupRequest struct {
	Force bool `json:"force"`
}

// SetupVectorRoutes mounts the thin REST surface over the session manager.
// asynqClient may be nil; uploads are then always processed inline.
func SetupVectorRoutes(router *gin.Engine, cfg *config.Config, mgr *services.SessionManager, asynqClient *asynq.Client, authMW *middleware.AuthMiddleware) {
	group := router.Group("/api/sessions/:sessionID")
	group.Use(authMW.RequireAuth())

	group.POST("/documents", middleware.RequestSizeLimit(cfg.MaxFileSize), func(c *gin.Context) {
		userID := c.GetString("userID")
		sessionID := c.Param("sessionID")

		form, err := c.MultipartForm()
		if err != nil {
			utils.RespondWithBadRequest(c, "multipart form required", err.Error())
			return
		}
		files := form.File["documents"]
		if len(files) == 0 {
			utils.RespondWithBadRequest(c, "no documents provided", nil)
			return
		}

		uploadDir := filepath.Join(cfg.FileStorageDir, "uploads", uuid.NewString())
		if err := os.MkdirAll(uploadDir, 0755); err != nil {
			utils.RespondWithInternalError(c, "failed to stage upload", nil)
			return
		}

		var paths []string
		var totalSize int64
		for _, file := range files {
			if file.Size > cfg.MaxFileSize {
				utils.RespondWithBadRequest(c, "file exceeds size limit", file.Filename)
				return
			}
			dest := filepath.Join(uploadDir, filepath.Base(file.Filename))
			if err := c.SaveUploadedFile(file, dest); err != nil {
				utils.RespondWithInternalError(c, "failed to store upload", err.Error())
				return
			}
			paths = append(paths, dest)
			totalSize += file.Size
		}

		// Large batches go to the worker so embedding does not block the
		// request path.
		if asynqClient != nil && (c.Query("async") == "true" || totalSize > cfg.SyncProcessingLimit) {
			task, err := queue.NewIngestTask(userID, sessionID, paths)
			if err != nil {
				utils.RespondWithInternalError(c, "failed to create ingest task", nil)
				return
			}
			info, err := asynqClient.Enqueue(task)
			if err != nil {
				utils.RespondWithInternalError(c, "failed to enqueue ingest task", nil)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "queued", "task_id": info.ID})
			return
		}

		if ok := mgr.InitializeSession(c.Request.Context(), userID, sessionID); !ok {
			utils.RespondWithSessionUnavailable(c, "session could not be initialized")
			return
		}

		result, err := mgr.AddDocuments(c.Request.Context(), userID, sessionID, paths)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		if err := mgr.Backup(c.Request.Context(), userID, sessionID, false); err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	})

	group.POST("/search", func(c *gin.Context) {
		userID := c.GetString("userID")
		sessionID := c.Param("sessionID")

		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "invalid search request", err.Error())
			return
		}

		if ok := mgr.InitializeSession(c.Request.Context(), userID, sessionID); !ok {
			utils.RespondWithSessionUnavailable(c, "session could not be initialized")
			return
		}

		threshold := -1.0
		if req.Threshold != nil {
			threshold = *req.Threshold
		}

		hits, err := mgr.Search(c.Request.Context(), userID, sessionID, req.Query, req.TopK, threshold)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"results": hits, "count": len(hits)})
	})

	group.POST("/backup", func(c *gin.Context) {
		userID := c.GetString("userID")
		sessionID := c.Param("sessionID")

		var req backupRequest
		c.ShouldBindJSON(&req)

		if err := mgr.Backup(c.Request.Context(), userID, sessionID, req.Force); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group.GET("/stats", func(c *gin.Context) {
		userID := c.GetString("userID")
		sessionID := c.Param("sessionID")

		stats, ok := mgr.Stats(userID, sessionID)
		if !ok {
			utils.RespondWithNotFound(c, "unknown session")
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	group.DELETE("", func(c *gin.Context) {
		userID := c.GetString("userID")
		sessionID := c.Param("sessionID")

		backupFirst := c.DefaultQuery("backup", "true") != "false"
		if err := mgr.Cleanup(c.Request.Context(), userID, sessionID, backupFirst); err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "evicted"})
	})
}

// respondServiceError maps typed core errors onto HTTP responses.
func respondServiceError(c *gin.Context, err error) {
	var unsupported *services.UnsupportedFormatError
	var processing *services.DocumentProcessingError
	var modelLoad *embedding.ModelLoadError
	var generation *embedding.EmbeddingGenerationError
	var dbErr *vectorindex.VectorDBError

	switch {
	case errors.Is(err, services.ErrSessionUnavailable):
		utils.RespondWithSessionUnavailable(c, err.Error())
	case errors.As(err, &unsupported):
		utils.RespondWithUnsupportedMedia(c, unsupported.Error())
	case errors.As(err, &processing):
		utils.RespondWithBadRequest(c, processing.Error(), nil)
	case errors.As(err, &modelLoad):
		utils.RespondWithRetryable(c, "embedding backend unavailable", modelLoad.Error())
	case errors.As(err, &generation):
		utils.RespondWithRetryable(c, "embedding generation failed", generation.Error())
	case errors.As(err, &dbErr):
		utils.RespondWithInternalError(c, dbErr.Error(), nil)
	default:
		utils.RespondWithInternalError(c, "operation failed", err.Error())
	}
}
