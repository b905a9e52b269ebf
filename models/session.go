package models

import "time"

// SessionStats is a read-only snapshot of one resident vector session.
type SessionStats struct {
	UserID        string    `json:"user_id" bson:"user_id"`
	SessionID     string    `json:"session_id" bson:"session_id"`
	Loaded        bool      `json:"loaded" bson:"loaded"`
	Dirty         bool      `json:"dirty" bson:"dirty"`
	DocumentCount int       `json:"document_count" bson:"document_count"`
	VectorCount   int       `json:"vector_count" bson:"vector_count"`
	CreatedAt     time.Time `json:"created_at" bson:"created_at"`
	LastActivity  time.Time `json:"last_activity" bson:"last_activity"`
	ExpiresAt     time.Time `json:"expires_at" bson:"expires_at"`
	LastBackupAt  time.Time `json:"last_backup_at,omitempty" bson:"last_backup_at,omitempty"`
	IdleSeconds   float64   `json:"idle_seconds" bson:"idle_seconds"`
}

// SkippedDocument records an uploaded document that produced no chunks.
// These are surfaced as warnings alongside an overall success, and audited
// for later inspection.
type SkippedDocument struct {
	Path   string `json:"path" bson:"path"`
	Reason string `json:"reason" bson:"reason"`
}

// AddResult reports the outcome of adding documents to a session.
type AddResult struct {
	DocumentsAdded   int               `json:"documents_added"`
	ChunksAdded      int               `json:"chunks_added"`
	VectorCount      int               `json:"vector_count"`
	SkippedDocuments []SkippedDocument `json:"skipped_documents,omitempty"`
}

// IngestAudit is the per-upload audit record written to MongoDB.
type IngestAudit struct {
	UserID      string            `bson:"user_id"`
	SessionID   string            `bson:"session_id"`
	Documents   []string          `bson:"documents"`
	ChunksAdded int               `bson:"chunks_added"`
	Skipped     []SkippedDocument `bson:"skipped,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}
