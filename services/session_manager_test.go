package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"pharma-docs-platform/internal/embedding"
	"pharma-docs-platform/internal/storage"
)

// countingStore wraps a RemoteStore and counts uploads.
type countingStore struct {
	inner   storage.RemoteStore
	uploads atomic.Int64
	fail    atomic.Bool
}

func (s *countingStore) Upload(ctx context.Context, localBundlePath, sessionKey string, metadata map[string]string) (string, error) {
	if s.fail.Load() {
		return "", errors.New("upload rejected")
	}
	s.uploads.Add(1)
	return s.inner.Upload(ctx, localBundlePath, sessionKey, metadata)
}

func (s *countingStore) DownloadLatest(ctx context.Context, sessionKey, localPath string) (bool, error) {
	return s.inner.DownloadLatest(ctx, sessionKey, localPath)
}

func newTestManager(t *testing.T) (*SessionManager, *countingStore) {
	t.Helper()
	cfg := testConfig(t)

	fs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	store := &countingStore{inner: fs}

	embedder := embedding.NewModel(cfg)
	return NewSessionManager(cfg, embedder, store, nil, nil), store
}

const leafletText = "1. Composition\nEach tablet contains aspirin 500mg and excipients.\n" +
	"2. Dosage\nAdults take one aspirin tablet twice daily after meals.\n" +
	"3. Storage\nStore below 25 degrees away from moisture.\n"

func TestInitializeEmptySession(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	if ok := mgr.InitializeSession(ctx, "u1", "s1"); !ok {
		t.Fatalf("initialize failed for fresh session")
	}

	idx := mgr.GetIndex("u1", "s1")
	if idx == nil {
		t.Fatalf("no index after initialize")
	}
	if idx.Count() != 0 {
		t.Fatalf("fresh session has %d vectors", idx.Count())
	}

	hits, err := mgr.Search(ctx, "u1", "s1", "anything", 5, -1)
	if err != nil {
		t.Fatalf("search on empty session: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("empty session returned %d hits", len(hits))
	}

	if got := store.uploads.Load(); got != 0 {
		t.Fatalf("fresh session triggered %d uploads", got)
	}
}

func TestOperationsRequireResidentSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.Search(ctx, "ghost", "s1", "q", 5, -1); !errors.Is(err, ErrSessionUnavailable) {
		t.Fatalf("search on unknown session: %v", err)
	}
	if _, err := mgr.AddDocuments(ctx, "ghost", "s1", nil); !errors.Is(err, ErrSessionUnavailable) {
		t.Fatalf("add on unknown session: %v", err)
	}
}

func TestAddDocumentsRebuildsUnion(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	if ok := mgr.InitializeSession(ctx, "u1", "s1"); !ok {
		t.Fatalf("initialize failed")
	}

	first := writeDoc(t, docs, "first.txt", leafletText)
	res1, err := mgr.AddDocuments(ctx, "u1", "s1", []string{first})
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if res1.ChunksAdded == 0 || res1.VectorCount != res1.ChunksAdded {
		t.Fatalf("first add result: %+v", res1)
	}

	second := writeDoc(t, docs, "second.txt", "1. Warnings\nDo not exceed the stated dose.\n")
	res2, err := mgr.AddDocuments(ctx, "u1", "s1", []string{second})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if res2.VectorCount != res1.VectorCount+res2.ChunksAdded {
		t.Fatalf("union rebuild lost vectors: %d + %d != %d",
			res1.VectorCount, res2.ChunksAdded, res2.VectorCount)
	}

	// New chunks continue the ordinal sequence.
	chunks := mgr.GetIndex("u1", "s1").Chunks()
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d carries index %d", i, c.ChunkIndex)
		}
	}
}

func TestAddDocumentsSkipsEmpty(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	mgr.InitializeSession(ctx, "u1", "s1")

	good := writeDoc(t, docs, "good.txt", leafletText)
	blank := writeDoc(t, docs, "blank.txt", "   \n")
	res, err := mgr.AddDocuments(ctx, "u1", "s1", []string{good, blank})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.DocumentsAdded != 1 {
		t.Fatalf("documents added = %d, want 1", res.DocumentsAdded)
	}
	if len(res.SkippedDocuments) != 1 || res.SkippedDocuments[0].Path != blank {
		t.Fatalf("skipped = %+v, want the blank document", res.SkippedDocuments)
	}
}

func TestAddDocumentsUnsupportedFormatFailsBatch(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	mgr.InitializeSession(ctx, "u1", "s1")

	bad := writeDoc(t, docs, "report.xlsx", "binary")
	_, err := mgr.AddDocuments(ctx, "u1", "s1", []string{bad})
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want UnsupportedFormatError", err)
	}
}

func TestBackupSkipsCleanSessions(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	mgr.InitializeSession(ctx, "u1", "s1")

	if err := mgr.Backup(ctx, "u1", "s1", false); err != nil {
		t.Fatalf("backup clean: %v", err)
	}
	if got := store.uploads.Load(); got != 0 {
		t.Fatalf("clean session uploaded %d bundles", got)
	}

	doc := writeDoc(t, docs, "doc.txt", leafletText)
	if _, err := mgr.AddDocuments(ctx, "u1", "s1", []string{doc}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := mgr.Backup(ctx, "u1", "s1", false); err != nil {
		t.Fatalf("backup dirty: %v", err)
	}
	if got := store.uploads.Load(); got != 1 {
		t.Fatalf("dirty backup uploaded %d bundles, want 1", got)
	}

	// Now clean again; a second backup is a no-op, force overrides.
	if err := mgr.Backup(ctx, "u1", "s1", false); err != nil {
		t.Fatalf("repeat backup: %v", err)
	}
	if got := store.uploads.Load(); got != 1 {
		t.Fatalf("repeat backup uploaded, total %d", got)
	}
	if err := mgr.Backup(ctx, "u1", "s1", true); err != nil {
		t.Fatalf("forced backup: %v", err)
	}
	if got := store.uploads.Load(); got != 2 {
		t.Fatalf("forced backup total = %d, want 2", got)
	}
}

func TestFailedBackupKeepsDirty(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	mgr.InitializeSession(ctx, "u1", "s1")
	doc := writeDoc(t, docs, "doc.txt", leafletText)
	if _, err := mgr.AddDocuments(ctx, "u1", "s1", []string{doc}); err != nil {
		t.Fatalf("add: %v", err)
	}

	store.fail.Store(true)
	if err := mgr.Backup(ctx, "u1", "s1", false); err == nil {
		t.Fatalf("expected backup failure")
	}

	stats, ok := mgr.Stats("u1", "s1")
	if !ok || !stats.Dirty {
		t.Fatalf("session not dirty after failed upload: %+v", stats)
	}

	// A later successful backup clears the flag.
	store.fail.Store(false)
	if err := mgr.Backup(ctx, "u1", "s1", false); err != nil {
		t.Fatalf("retry backup: %v", err)
	}
	stats, _ = mgr.Stats("u1", "s1")
	if stats.Dirty {
		t.Fatalf("session still dirty after successful backup")
	}
}

func TestEvictionAndRestore(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	mgr.InitializeSession(ctx, "u1", "s1")
	doc := writeDoc(t, docs, "doc.txt", leafletText)
	res, err := mgr.AddDocuments(ctx, "u1", "s1", []string{doc})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := mgr.Cleanup(ctx, "u1", "s1", true); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if got := store.uploads.Load(); got != 1 {
		t.Fatalf("eviction uploaded %d bundles, want 1", got)
	}
	if idx := mgr.GetIndex("u1", "s1"); idx != nil {
		t.Fatalf("index still resident after eviction")
	}

	// Stats survive eviction; the catalog entry is kept.
	stats, ok := mgr.Stats("u1", "s1")
	if !ok || stats.Loaded {
		t.Fatalf("post-eviction stats = %+v, ok=%v", stats, ok)
	}

	if ok := mgr.InitializeSession(ctx, "u1", "s1"); !ok {
		t.Fatalf("re-initialize after eviction failed")
	}
	idx := mgr.GetIndex("u1", "s1")
	if idx == nil || idx.Count() != res.VectorCount {
		t.Fatalf("restore lost vectors: got %v, want %d", idx, res.VectorCount)
	}

	hits, err := mgr.Search(ctx, "u1", "s1", "aspirin dosage tablet", 5, -1)
	if err != nil {
		t.Fatalf("search after restore: %v", err)
	}
	if len(hits) == 0 {
		t.Fatalf("no hits after restore")
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Similarity > hits[i-1].Similarity {
			t.Fatalf("restored hits not sorted by similarity")
		}
	}
}

func TestRestoreLegacyRawBundle(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	// Produce a bare index binary by saving and stripping the sidecars.
	mgr.InitializeSession(ctx, "u1", "s1")
	doc := writeDoc(t, docs, "doc.txt", leafletText)
	res, err := mgr.AddDocuments(ctx, "u1", "s1", []string{doc})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	artifacts := t.TempDir()
	if err := mgr.GetIndex("u1", "s1").Save(artifacts, "index"); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Upload the raw binary as the whole bundle, the pre-archive format.
	raw := filepath.Join(artifacts, "index.index")
	if _, err := mgr.store.Upload(ctx, raw, mgr.bundleKey("u2", "old"), nil); err != nil {
		t.Fatalf("upload raw: %v", err)
	}

	if ok := mgr.InitializeSession(ctx, "u2", "old"); !ok {
		t.Fatalf("legacy restore failed")
	}
	idx := mgr.GetIndex("u2", "old")
	if idx == nil || idx.Count() != res.VectorCount {
		t.Fatalf("legacy restore count = %v, want %d", idx, res.VectorCount)
	}
	// Legacy bundles carry no chunk text.
	if got := len(idx.Chunks()); got != 0 {
		t.Fatalf("legacy restore synthesized %d chunks", got)
	}
}

func TestSearchThresholdExcludesAll(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	mgr.InitializeSession(ctx, "u1", "s1")
	doc := writeDoc(t, docs, "doc.txt", leafletText)
	if _, err := mgr.AddDocuments(ctx, "u1", "s1", []string{doc}); err != nil {
		t.Fatalf("add: %v", err)
	}

	hits, err := mgr.Search(ctx, "u1", "s1", "completely unrelated forklift telemetry", 5, 0.99)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("threshold 0.99 returned %d hits", len(hits))
	}
}

func TestCleanupExpiredRemovesEntry(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.cfg.SessionTTLMinutes = 0
	ctx := context.Background()

	mgr.InitializeSession(ctx, "u1", "s1")
	time.Sleep(10 * time.Millisecond)

	if n := mgr.CleanupExpired(ctx); n != 1 {
		t.Fatalf("expired sweep removed %d, want 1", n)
	}
	if _, ok := mgr.Stats("u1", "s1"); ok {
		t.Fatalf("catalog entry survived TTL teardown")
	}
}

func TestCleanupIdleKeepsEntry(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	mgr.InitializeSession(ctx, "u1", "s1")
	time.Sleep(10 * time.Millisecond)

	if n := mgr.CleanupIdle(ctx, time.Nanosecond); n != 1 {
		t.Fatalf("idle sweep evicted %d, want 1", n)
	}

	stats, ok := mgr.Stats("u1", "s1")
	if !ok {
		t.Fatalf("catalog entry removed by idle sweep")
	}
	if stats.Loaded {
		t.Fatalf("session still loaded after idle eviction")
	}
	if mgr.ResidentCount() != 0 {
		t.Fatalf("resident count = %d after idle sweep", mgr.ResidentCount())
	}
}

func TestShutdownFlushesDirtySessions(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	mgr.InitializeSession(ctx, "u1", "s1")
	mgr.InitializeSession(ctx, "u2", "s2")
	doc := writeDoc(t, docs, "doc.txt", leafletText)
	if _, err := mgr.AddDocuments(ctx, "u1", "s1", []string{doc}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if n := mgr.Shutdown(ctx); n != 2 {
		t.Fatalf("shutdown flushed %d sessions, want 2", n)
	}
	// Only the dirty session needed an upload.
	if got := store.uploads.Load(); got != 1 {
		t.Fatalf("shutdown uploaded %d bundles, want 1", got)
	}
	if mgr.ResidentCount() != 0 {
		t.Fatalf("resident count = %d after shutdown", mgr.ResidentCount())
	}
}

func TestSessionIsolation(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	docs := t.TempDir()

	mgr.InitializeSession(ctx, "alice", "s1")
	mgr.InitializeSession(ctx, "bob", "s1")

	doc := writeDoc(t, docs, "doc.txt", leafletText)
	if _, err := mgr.AddDocuments(ctx, "alice", "s1", []string{doc}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := mgr.GetIndex("bob", "s1").Count(); got != 0 {
		t.Fatalf("bob's session sees %d of alice's vectors", got)
	}
}
