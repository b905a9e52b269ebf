package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"pharma-docs-platform/internal/logger"
	"pharma-docs-platform/services"
)

const (
	TaskIngestDocuments = "vector:ingest"
	TaskBackupSession   = "vector:backup"
)

type IngestPayload struct {
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Paths     []string `json:"paths"`
}

type BackupPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Force     bool   `json:"force"`
}

// Task creators
func NewIngestTask(userID, sessionID string, paths []string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		UserID:    userID,
		SessionID: sessionID,
		Paths:     paths,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocuments,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

func NewBackupTask(userID, sessionID string, force bool) (*asynq.Task, error) {
	payload, err := json.Marshal(BackupPayload{
		UserID:    userID,
		SessionID: sessionID,
		Force:     force,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskBackupSession,
		payload,
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("default"),
	), nil
}

// TaskProcessor runs queued session work. Large embedding batches live here,
// off the request-handling path.
type TaskProcessor struct {
	manager *services.SessionManager
}

func NewTaskProcessor(manager *services.SessionManager) *TaskProcessor {
	return &TaskProcessor{manager: manager}
}

func (p *TaskProcessor) HandleIngestDocuments(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Processing ingest task",
		"user", payload.UserID, "session", payload.SessionID, "documents", len(payload.Paths))

	if ok := p.manager.InitializeSession(ctx, payload.UserID, payload.SessionID); !ok {
		return fmt.Errorf("session %s/%s unavailable", payload.UserID, payload.SessionID)
	}

	result, err := p.manager.AddDocuments(ctx, payload.UserID, payload.SessionID, payload.Paths)
	if err != nil {
		return err
	}

	if err := p.manager.Backup(ctx, payload.UserID, payload.SessionID, false); err != nil {
		// The session stays dirty; the next backup attempt or the eviction
		// sweep will persist it. Retrying the whole task would re-ingest.
		logger.Error("Post-ingest backup failed",
			"user", payload.UserID, "session", payload.SessionID, "error", err)
	}

	logger.Info("Ingest task complete",
		"user", payload.UserID, "session", payload.SessionID,
		"chunks", result.ChunksAdded, "skipped", len(result.SkippedDocuments))
	return nil
}

func (p *TaskProcessor) HandleBackupSession(ctx context.Context, t *asynq.Task) error {
	var payload BackupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	return p.manager.Backup(ctx, payload.UserID, payload.SessionID, payload.Force)
}
