package routes

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"pharma-docs-platform/internal/auth"
	"pharma-docs-platform/internal/config"
	"pharma-docs-platform/internal/embedding"
	"pharma-docs-platform/internal/storage"
	"pharma-docs-platform/middleware"
	"pharma-docs-platform/services"
)

func testStack(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		MaxFileSize:         10 << 20,
		SyncProcessingLimit: 10 << 20,
		FileStorageDir:      t.TempDir(),
		ChunkSize:           200,
		ChunkOverlap:        40,
		MaxChunks:           500,
		EmbeddingsProvider:  "local",
		EmbeddingDimensions: 64,
		SimilarityThreshold: 0.0,
		DefaultTopK:         5,
		SessionTTLMinutes:   60,
		JWTSecret:           "test-secret",
	}

	store, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}

	mgr := services.NewSessionManager(cfg, embedding.NewModel(cfg), store, nil, nil)

	router := gin.New()
	SetupVectorRoutes(router, cfg, mgr, nil, middleware.NewAuthMiddleware(cfg, nil))

	token, err := auth.IssueAccessToken("user-1", cfg.JWTSecret, nil)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return router, token
}

func uploadRequest(t *testing.T, url, token, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("documents", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestUploadAndSearchFlow(t *testing.T) {
	router, token := testStack(t)

	doc := "1. Dosage\nAdults take one aspirin tablet twice daily.\n" +
		"2. Storage\nStore below 25 degrees.\n"
	req := uploadRequest(t, "/api/sessions/s1/documents", token, "leaflet.txt", doc)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}

	var addResp struct {
		ChunksAdded int `json:"chunks_added"`
		VectorCount int `json:"vector_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &addResp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if addResp.ChunksAdded == 0 || addResp.VectorCount != addResp.ChunksAdded {
		t.Fatalf("upload response: %+v", addResp)
	}

	searchBody := strings.NewReader(`{"query": "aspirin dosage"}`)
	req = httptest.NewRequest(http.MethodPost, "/api/sessions/s1/search", searchBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", rec.Code, rec.Body.String())
	}

	var searchResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &searchResp); err != nil {
		t.Fatalf("decode search response: %v", err)
	}
	if searchResp.Count == 0 {
		t.Fatalf("search returned no results")
	}
}

func TestUploadUnsupportedFormat(t *testing.T) {
	router, token := testStack(t)

	req := uploadRequest(t, "/api/sessions/s1/documents", token, "report.xlsx", "binary")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415: %s", rec.Code, rec.Body.String())
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	router, token := testStack(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/search", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	router, _ := testStack(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/search", strings.NewReader(`{"query":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestStatsAndEviction(t *testing.T) {
	router, token := testStack(t)

	req := uploadRequest(t, "/api/sessions/s1/documents", token, "doc.txt", "Take one tablet daily.")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/s1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d: %s", rec.Code, rec.Body.String())
	}

	var stats struct {
		Loaded      bool `json:"loaded"`
		VectorCount int  `json:"vector_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if !stats.Loaded || stats.VectorCount == 0 {
		t.Fatalf("stats = %+v", stats)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/sessions/s1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/s1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats after eviction = %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Loaded {
		t.Fatalf("session still loaded after eviction")
	}
}

func TestUnknownSessionStats(t *testing.T) {
	router, token := testStack(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope/stats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
