package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"pharma-docs-platform/internal/config"
	"pharma-docs-platform/internal/embedding"
	"pharma-docs-platform/internal/logger"
	"pharma-docs-platform/internal/storage"
	"pharma-docs-platform/internal/telemetry"
	"pharma-docs-platform/internal/vectorindex"
	"pharma-docs-platform/models"
)

// indexArtifactName is the base name of the three on-disk artifacts inside a
// session's temp workspace and its backup bundles.
const indexArtifactName = "index"

type sessionKey struct {
	userID    string
	sessionID string
}

// vectorSession is one tenant's resident state. All mutable fields are
// guarded by mu; the index additionally carries its own lock so searches and
// rebuilds coordinate without going through the manager.
type vectorSession struct {
	mu sync.RWMutex

	userID    string
	sessionID string

	index   *vectorindex.Index
	tempDir string

	createdAt    time.Time
	lastActivity time.Time
	expiresAt    time.Time
	lastBackup   time.Time

	loaded        bool
	dirty         bool
	documentCount int

	// mutations increments on every rebuild so a backup only clears dirty
	// when nothing changed between snapshot and upload.
	mutations uint64
}

// SessionManager maps (userID, sessionID) to resident vector indices.
// Residency is a cache: sessions restore lazily from the remote store, are
// backed up when dirty, and are reclaimed by the expiry and idle sweeps.
type SessionManager struct {
	cfg       *config.Config
	embedder  embedding.Model
	extractor *DocumentExtractor
	chunker   *DocumentChunker
	store     storage.RemoteStore
	auditCol  *mongo.Collection
	metrics   *telemetry.Metrics

	// Coarse catalog lock: insert/remove/lookup only. Per-session work
	// happens under the session's own lock so the catalog stays cheap.
	mu       sync.RWMutex
	sessions map[sessionKey]*vectorSession
}

// NewSessionManager wires the manager. auditCol and metrics may be nil.
func NewSessionManager(cfg *config.Config, embedder embedding.Model, store storage.RemoteStore, auditCol *mongo.Collection, metrics *telemetry.Metrics) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		embedder:  embedder,
		extractor: NewDocumentExtractor(cfg),
		chunker:   NewDocumentChunker(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxChunks),
		store:     store,
		auditCol:  auditCol,
		metrics:   metrics,
		sessions:  make(map[sessionKey]*vectorSession),
	}
}

func (m *SessionManager) bundleKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

func (m *SessionManager) lookup(userID, sessionID string) *vectorSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionKey{userID, sessionID}]
}

// InitializeSession makes the session resident: a no-op when already loaded,
// otherwise it restores the latest remote backup into a fresh temp workspace,
// or builds an empty index when no backup exists. Returns false on
// unrecoverable restore errors; callers must treat false as
// session-unavailable, never as an empty session.
func (m *SessionManager) InitializeSession(ctx context.Context, userID, sessionID string) bool {
	k := sessionKey{userID, sessionID}

	m.mu.Lock()
	s, ok := m.sessions[k]
	if !ok {
		now := time.Now()
		s = &vectorSession{
			userID:    userID,
			sessionID: sessionID,
			createdAt: now,
		}
		m.sessions[k] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		s.lastActivity = time.Now()
		return true
	}

	tempDir, err := m.newWorkspace(userID, sessionID)
	if err != nil {
		logger.Error("Failed to create session workspace", "user", userID, "session", sessionID, "error", err)
		return false
	}

	idx, ok := m.restoreIndex(ctx, userID, sessionID, tempDir)
	if !ok {
		os.RemoveAll(tempDir)
		return false
	}

	now := time.Now()
	s.index = idx
	s.tempDir = tempDir
	s.loaded = true
	s.dirty = false
	s.lastActivity = now
	s.expiresAt = now.Add(time.Duration(m.cfg.SessionTTLMinutes) * time.Minute)

	if m.metrics != nil {
		m.metrics.SessionLoaded(1)
	}
	logger.Info("Session initialized", "user", userID, "session", sessionID, "vectors", idx.Count())
	return true
}

func (m *SessionManager) newWorkspace(userID, sessionID string) (string, error) {
	base := filepath.Join(m.cfg.FileStorageDir, "sessions")
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, fmt.Sprintf("%s_%s_*", sanitizePart(userID), sanitizePart(sessionID)))
}

// restoreIndex downloads and unpacks the latest backup bundle. A legacy bare
// binary that fails to parse degrades to an empty index; a corrupt archive is
// unrecoverable.
func (m *SessionManager) restoreIndex(ctx context.Context, userID, sessionID, tempDir string) (*vectorindex.Index, bool) {
	bundlePath := filepath.Join(tempDir, "restore.bundle")
	found, err := m.store.DownloadLatest(ctx, m.bundleKey(userID, sessionID), bundlePath)
	if err != nil {
		logger.Error("Backup download failed", "user", userID, "session", sessionID, "error", err)
		return nil, false
	}

	if !found {
		if err := m.embedder.Initialize(ctx); err != nil {
			logger.Error("Embedder unavailable for fresh session", "user", userID, "session", sessionID, "error", err)
			return nil, false
		}
		return vectorindex.New(m.embedder.Dimension(), m.cfg.SimilarityThreshold), true
	}

	data, err := os.ReadFile(bundlePath)
	if err != nil {
		logger.Error("Failed to read downloaded bundle", "user", userID, "session", sessionID, "error", err)
		return nil, false
	}

	idx := vectorindex.New(0, m.cfg.SimilarityThreshold)
	switch kind := vectorindex.ClassifyBundle(data); kind {
	case vectorindex.BundleArchive:
		name, err := vectorindex.UnpackBundle(bundlePath, tempDir)
		if err != nil {
			logger.Error("Backup bundle unpack failed", "user", userID, "session", sessionID, "error", err)
			return nil, false
		}
		if err := idx.Load(tempDir, name); err != nil {
			logger.Error("Backup bundle load failed", "user", userID, "session", sessionID, "error", err)
			return nil, false
		}

	case vectorindex.BundleLegacyRawIndex:
		rawPath := filepath.Join(tempDir, indexArtifactName+".index")
		if err := os.WriteFile(rawPath, data, 0644); err != nil {
			logger.Error("Failed to stage legacy bundle", "user", userID, "session", sessionID, "error", err)
			return nil, false
		}
		if err := idx.Load(tempDir, indexArtifactName); err != nil {
			// Legacy restores degrade to an empty index rather than
			// failing initialization.
			logger.Warn("Legacy bundle unreadable, starting empty",
				"user", userID, "session", sessionID, "error", err)
			if err := m.embedder.Initialize(ctx); err != nil {
				return nil, false
			}
			idx = vectorindex.New(m.embedder.Dimension(), m.cfg.SimilarityThreshold)
		}

	default:
		logger.Error("Backup bundle has unknown format", "user", userID, "session", sessionID, "kind", kind.String())
		return nil, false
	}

	return idx, true
}

// GetIndex returns the session's resident index, or nil when the session is
// not loaded. Touches last-activity on success.
func (m *SessionManager) GetIndex(userID, sessionID string) *vectorindex.Index {
	s := m.lookup(userID, sessionID)
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return nil
	}
	s.lastActivity = time.Now()
	return s.index
}

// AddDocuments chunks and embeds the given documents and rebuilds the
// session's index over the union of old and new vectors. Every mutation is a
// full rebuild; existing vectors are reconstructed from the resident index.
// Documents yielding zero chunks are reported and audited but do not fail the
// batch. Marks the session dirty.
func (m *SessionManager) AddDocuments(ctx context.Context, userID, sessionID string, paths []string) (*models.AddResult, error) {
	s := m.lookup(userID, sessionID)
	if s == nil {
		return nil, fmt.Errorf("session %s/%s: %w", userID, sessionID, ErrSessionUnavailable)
	}

	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return nil, fmt.Errorf("session %s/%s: %w", userID, sessionID, ErrSessionUnavailable)
	}

	existingVectors := s.index.ReconstructAll()
	existingChunks := s.index.Chunks()

	var (
		newChunks []models.Chunk
		skipped   []models.SkippedDocument
		added     int
	)
	for _, path := range paths {
		text, err := m.extractor.Extract(path)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", path, err)
		}

		chunks := m.chunker.ChunkText(text)
		if len(chunks) == 0 {
			skipped = append(skipped, models.SkippedDocument{Path: path, Reason: "no extractable chunks"})
			continue
		}
		newChunks = append(newChunks, chunks...)
		added++
	}

	if len(newChunks) > 0 {
		texts := make([]string, len(newChunks))
		for i := range newChunks {
			texts[i] = newChunks[i].Text
			newChunks[i].ChunkIndex = len(existingChunks) + i
		}

		vectors, err := m.embedder.Embed(ctx, texts, true)
		if err != nil {
			return nil, fmt.Errorf("session %s/%s: %w", userID, sessionID, err)
		}

		allVectors := append(existingVectors, vectors...)
		allChunks := append(existingChunks, newChunks...)
		if err := s.index.Build(allVectors, allChunks); err != nil {
			return nil, fmt.Errorf("session %s/%s: %w", userID, sessionID, err)
		}

		s.dirty = true
		s.mutations++
		s.documentCount += added
	}
	s.lastActivity = time.Now()

	m.auditIngest(userID, sessionID, paths, len(newChunks), skipped)
	if m.metrics != nil {
		m.metrics.RecordIngest(userID, added, time.Since(started).Seconds())
	}

	if len(skipped) > 0 {
		logger.Warn("Some documents produced no chunks",
			"user", userID, "session", sessionID, "skipped", len(skipped))
	}

	return &models.AddResult{
		DocumentsAdded:   added,
		ChunksAdded:      len(newChunks),
		VectorCount:      s.index.Count(),
		SkippedDocuments: skipped,
	}, nil
}

// Search embeds the query and runs it against the session's index. A
// negative threshold uses the index default.
func (m *SessionManager) Search(ctx context.Context, userID, sessionID, query string, k int, threshold float64) ([]vectorindex.SearchHit, error) {
	idx := m.GetIndex(userID, sessionID)
	if idx == nil {
		return nil, fmt.Errorf("session %s/%s: %w", userID, sessionID, ErrSessionUnavailable)
	}

	if k <= 0 {
		k = m.cfg.DefaultTopK
	}
	if threshold < 0 {
		threshold = idx.Threshold()
	}

	started := time.Now()
	vector, err := m.embedder.Embed(ctx, []string{query}, true)
	if err != nil {
		return nil, fmt.Errorf("session %s/%s: %w", userID, sessionID, err)
	}

	hits := idx.Search(vector[0], k, threshold)
	if m.metrics != nil {
		m.metrics.RecordSearch(userID, len(hits), time.Since(started).Seconds())
	}
	return hits, nil
}

// Backup serializes the three artifacts into one bundle and uploads it.
// Clean sessions are a no-op unless force is set. The snapshot happens under
// the session lock; the upload does not, so live traffic proceeds during the
// transfer. A failed upload leaves the session dirty.
func (m *SessionManager) Backup(ctx context.Context, userID, sessionID string, force bool) error {
	s := m.lookup(userID, sessionID)
	if s == nil {
		return fmt.Errorf("session %s/%s: %w", userID, sessionID, ErrSessionUnavailable)
	}

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	if !s.dirty && !force {
		s.mu.Unlock()
		return nil
	}

	bundlePath := filepath.Join(s.tempDir, fmt.Sprintf("backup-%d.bundle", time.Now().UnixNano()))
	if err := s.index.Save(s.tempDir, indexArtifactName); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session %s/%s snapshot: %w", userID, sessionID, err)
	}
	if err := vectorindex.PackBundle(s.tempDir, indexArtifactName, bundlePath); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session %s/%s snapshot: %w", userID, sessionID, err)
	}
	snapshotSeq := s.mutations
	vectorCount := s.index.Count()
	documentCount := s.documentCount
	s.mu.Unlock()

	metadata := map[string]string{
		"user_id":        userID,
		"session_id":     sessionID,
		"vector_count":   strconv.Itoa(vectorCount),
		"document_count": strconv.Itoa(documentCount),
	}
	_, uploadErr := m.store.Upload(ctx, bundlePath, m.bundleKey(userID, sessionID), metadata)
	os.Remove(bundlePath)

	if uploadErr != nil {
		if m.metrics != nil {
			m.metrics.RecordBackup(false)
		}
		return fmt.Errorf("session %s/%s backup upload: %w", userID, sessionID, uploadErr)
	}

	s.mu.Lock()
	if s.mutations == snapshotSeq {
		s.dirty = false
	}
	s.lastBackup = time.Now()
	s.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordBackup(true)
	}
	logger.Info("Session backed up", "user", userID, "session", sessionID, "vectors", vectorCount)
	return nil
}

// Cleanup evicts the session from memory: optional backup, then the index
// and temp workspace are freed. The catalog entry survives so stats remain
// queryable and the session is re-enterable via InitializeSession. Safe to
// call on an already-evicted session.
func (m *SessionManager) Cleanup(ctx context.Context, userID, sessionID string, backupFirst bool) error {
	s := m.lookup(userID, sessionID)
	if s == nil {
		return nil
	}

	if backupFirst {
		// A failed backup is logged but never blocks freeing resources.
		if err := m.Backup(ctx, userID, sessionID, false); err != nil {
			logger.Error("Backup before eviction failed, evicting anyway",
				"user", userID, "session", sessionID, "error", err)
		}
	}

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	if s.dirty {
		logger.Warn("Evicting dirty session without a successful backup",
			"user", userID, "session", sessionID)
	}
	tempDir := s.tempDir
	s.index = nil
	s.tempDir = ""
	s.loaded = false
	s.mu.Unlock()

	if tempDir != "" {
		os.RemoveAll(tempDir)
	}

	if m.metrics != nil {
		m.metrics.SessionLoaded(-1)
	}
	logger.Info("Session evicted", "user", userID, "session", sessionID)
	return nil
}

// CleanupExpired tears down sessions past their absolute TTL, backing them up
// first and removing their catalog entries. Candidates are enumerated under
// the catalog lock; the per-session work happens outside it.
func (m *SessionManager) CleanupExpired(ctx context.Context) int {
	now := time.Now()

	var expired []sessionKey
	m.mu.RLock()
	for k, s := range m.sessions {
		s.mu.RLock()
		if !s.expiresAt.IsZero() && now.After(s.expiresAt) {
			expired = append(expired, k)
		}
		s.mu.RUnlock()
	}
	m.mu.RUnlock()

	for _, k := range expired {
		m.Cleanup(ctx, k.userID, k.sessionID, true)
		m.mu.Lock()
		delete(m.sessions, k)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordEviction("expired")
		}
	}

	if len(expired) > 0 {
		logger.Info("Expired session sweep complete", "removed", len(expired))
	}
	return len(expired)
}

// CleanupIdle evicts sessions idle beyond the threshold. Memory is freed but
// catalog entries persist, so stats survive and later initialization restores
// the backed-up data.
func (m *SessionManager) CleanupIdle(ctx context.Context, idleThreshold time.Duration) int {
	now := time.Now()

	var idle []sessionKey
	m.mu.RLock()
	for k, s := range m.sessions {
		s.mu.RLock()
		if s.loaded && now.Sub(s.lastActivity) > idleThreshold {
			idle = append(idle, k)
		}
		s.mu.RUnlock()
	}
	m.mu.RUnlock()

	for _, k := range idle {
		m.Cleanup(ctx, k.userID, k.sessionID, true)
		if m.metrics != nil {
			m.metrics.RecordEviction("idle")
		}
	}

	if len(idle) > 0 {
		logger.Info("Idle session sweep complete", "evicted", len(idle))
	}
	return len(idle)
}

// Shutdown backs up and evicts every resident session. Used on process exit
// so no dirty session is lost.
func (m *SessionManager) Shutdown(ctx context.Context) int {
	var keys []sessionKey
	m.mu.RLock()
	for k, s := range m.sessions {
		s.mu.RLock()
		if s.loaded {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
	}
	m.mu.RUnlock()

	for _, k := range keys {
		m.Cleanup(ctx, k.userID, k.sessionID, true)
	}

	if len(keys) > 0 {
		logger.Info("Shutdown flush complete", "sessions", len(keys))
	}
	return len(keys)
}

// Stats returns a read-only snapshot of one session, or false when the
// session is unknown.
func (m *SessionManager) Stats(userID, sessionID string) (*models.SessionStats, bool) {
	s := m.lookup(userID, sessionID)
	if s == nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.SessionStats{
		UserID:        userID,
		SessionID:     sessionID,
		Loaded:        s.loaded,
		Dirty:         s.dirty,
		DocumentCount: s.documentCount,
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
		ExpiresAt:     s.expiresAt,
		LastBackupAt:  s.lastBackup,
		IdleSeconds:   time.Since(s.lastActivity).Seconds(),
	}
	if s.loaded {
		stats.VectorCount = s.index.Count()
	}
	return stats, true
}

// ResidentCount reports how many sessions are currently loaded.
func (m *SessionManager) ResidentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, s := range m.sessions {
		s.mu.RLock()
		if s.loaded {
			count++
		}
		s.mu.RUnlock()
	}
	return count
}

func (m *SessionManager) auditIngest(userID, sessionID string, paths []string, chunksAdded int, skipped []models.SkippedDocument) {
	if m.auditCol == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := m.auditCol.InsertOne(ctx, models.IngestAudit{
		UserID:      userID,
		SessionID:   sessionID,
		Documents:   paths,
		ChunksAdded: chunksAdded,
		Skipped:     skipped,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		logger.Error("Failed to write ingest audit record", "user", userID, "session", sessionID, "error", err)
	}
}

func sanitizePart(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
