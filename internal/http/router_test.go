package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-receipt-backend/internal/config"
	"github.com/tbourn/go-receipt-backend/internal/domain"
	"github.com/tbourn/go-receipt-backend/internal/http/middleware"
	"github.com/tbourn/go-receipt-backend/internal/repo"
	"github.com/tbourn/go-receipt-backend/internal/services"
)

// --- stub scanner; routes under test never reach a real pipeline ---
type stubScanner struct{}

func (stubScanner) Scan(context.Context, []byte, services.ScanOptions) (*services.ScanResult, error) {
	return &services.ScanResult{}, nil
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      50,
		ScanRateRPS:    100,
		ScanRateBurst:  50,
		MaxBodyBytes:   1 << 20,
		MaxUploadBytes: 1 << 20,
		IdempotencyTTL: time.Hour,
		CORS:           config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:       config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	r := gin.New()
	RegisterRoutes(r, Deps{
		DB:      db,
		Scanner: stubScanner{},
		Syncer:  &services.SyncService{DB: db, Concurrency: 1},
	}, cfg)
	return r, db
}

func do(r http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	// /health works
	w := do(r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	// /metrics is wired
	w = do(r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	if w = do(r, http.MethodGet, "/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	if w = do(r, http.MethodPost, "/health", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off by default
	if w = do(r, http.MethodGet, "/swagger/index.html", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger disabled expected 404, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newRouter(t, cfg)

	w := do(r, http.MethodGet, "/health", "", map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// API mounted under the configured base path
	if w = do(r, http.MethodGet, "/api/v2/receipts/sync", "", nil); w.Code != http.StatusOK {
		t.Fatalf("GET /api/v2/receipts/sync = %d", w.Code)
	}
}

func TestRegisterRoutes_SwaggerEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _ := newRouter(t, cfg)

	w := do(r, http.MethodGet, "/swagger/index.html", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/index.html = %d", w.Code)
	}
}

func TestRegisterRoutes_PushThenPullAndGet(t *testing.T) {
	r, _ := newRouter(t, testConfig())
	hdr := map[string]string{middleware.HeaderUserID: "u1"}

	body := `{"entries":[{"localId":"r1","payload":{"merchant":{"name":"Cafe"}},"updatedAt":"2025-03-01T10:00:00.000Z"}]}`
	w := do(r, http.MethodPost, "/api/v1/receipts/sync", body, hdr)
	if w.Code != http.StatusOK {
		t.Fatalf("push = %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"synced":1`) {
		t.Fatalf("push body: %s", w.Body.String())
	}

	w = do(r, http.MethodGet, "/api/v1/receipts/sync", "", hdr)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"localId":"r1"`) {
		t.Fatalf("pull = %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("ETag") == "" {
		t.Fatalf("expected ETag on pull")
	}

	if w = do(r, http.MethodGet, "/api/v1/receipts/r1", "", hdr); w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	// Another owner sees nothing
	if w = do(r, http.MethodGet, "/api/v1/receipts/r1", "", map[string]string{middleware.HeaderUserID: "u2"}); w.Code != http.StatusNotFound {
		t.Fatalf("get as other owner = %d", w.Code)
	}
}

func TestRegisterRoutes_IdempotentPushReplays(t *testing.T) {
	r, db := newRouter(t, testConfig())
	hdr := map[string]string{
		middleware.HeaderUserID:         "u1",
		middleware.HeaderIdempotencyKey: "push-1",
	}
	body := `{"entries":[{"localId":"r1","payload":{"merchant":{"name":"Cafe"}},"updatedAt":"2025-03-01T10:00:00.000Z"}]}`

	first := do(r, http.MethodPost, "/api/v1/receipts/sync", body, hdr)
	if first.Code != http.StatusOK {
		t.Fatalf("first push = %d", first.Code)
	}
	if first.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first push must not be a replay")
	}

	second := do(r, http.MethodPost, "/api/v1/receipts/sync", body, hdr)
	if second.Code != http.StatusOK {
		t.Fatalf("second push = %d", second.Code)
	}
	if second.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("expected replay header on second push")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body differs: %q vs %q", second.Body.String(), first.Body.String())
	}

	var n int64
	if err := db.Model(&domain.Idempotency{}).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("idempotency rows = %d err=%v", n, err)
	}

	// Malformed key is rejected before the handler runs
	bad := do(r, http.MethodPost, "/api/v1/receipts/sync", body, map[string]string{
		middleware.HeaderIdempotencyKey: "has spaces",
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("bad key = %d", bad.Code)
	}
}

func TestRegisterRoutes_SyncBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 64
	r, _ := newRouter(t, cfg)

	body := `{"entries":[{"localId":"r1","payload":{"merchant":{"name":"` + strings.Repeat("x", 200) + `"}},"updatedAt":"2025-03-01T10:00:00.000Z"}]}`
	w := do(r, http.MethodPost, "/api/v1/receipts/sync", body, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "payload_too_large") {
		t.Fatalf("expected payload_too_large code, got %s", w.Body.String())
	}
}

func TestRegisterRoutes_PullIsGzipped(t *testing.T) {
	r, _ := newRouter(t, testConfig())

	w := do(r, http.MethodGet, "/api/v1/receipts/sync", "", map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("pull = %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	plain, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	if !strings.Contains(string(plain), `"records":[]`) {
		t.Fatalf("unexpected pull body: %s", plain)
	}
}

func TestRegisterRoutes_ScanHasOwnRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.ScanRateRPS = 0.001
	cfg.ScanRateBurst = 1
	r, _ := newRouter(t, cfg)
	hdr := map[string]string{middleware.HeaderUserID: "scanner"}

	// First call spends the only token (and fails validation: no file)
	if w := do(r, http.MethodPost, "/api/v1/receipts/scan", "", hdr); w.Code != http.StatusBadRequest {
		t.Fatalf("first scan = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/api/v1/receipts/scan", "", hdr)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second scan expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	// Sync routes are not affected by the scan bucket
	if w = do(r, http.MethodGet, "/api/v1/receipts/sync", "", hdr); w.Code != http.StatusOK {
		t.Fatalf("pull after scan limit = %d", w.Code)
	}
}

func Test_idempotencyRepo(t *testing.T) {
	db := newTestDB(t)
	s := idempotencyRepo{db: db, ttl: time.Hour}
	ctx := context.Background()

	got, err := s.Lookup(ctx, "u1", "POST /x", "k1", time.Now())
	if err != nil || got != nil {
		t.Fatalf("miss expected (nil, nil), got (%v, %v)", got, err)
	}

	resp := middleware.StoredResponse{Status: http.StatusOK, Body: []byte(`{"synced":1}`)}
	if err := s.Record(ctx, "u1", "POST /x", "k1", resp); err != nil {
		t.Fatalf("record: %v", err)
	}
	// duplicate is absorbed
	if err := s.Record(ctx, "u1", "POST /x", "k1", resp); err != nil {
		t.Fatalf("duplicate record: %v", err)
	}

	got, err = s.Lookup(ctx, "u1", "POST /x", "k1", time.Now())
	if err != nil || got == nil {
		t.Fatalf("hit expected, got (%v, %v)", got, err)
	}
	if got.Status != http.StatusOK || string(got.Body) != `{"synced":1}` {
		t.Fatalf("stored response mismatch: %+v", got)
	}

	// expired records are invisible
	if got, _ := s.Lookup(ctx, "u1", "POST /x", "k1", time.Now().Add(2*time.Hour)); got != nil {
		t.Fatalf("expired record should not be returned")
	}
}

func Test_idempotencyRepo_ErrorBranch(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	s := idempotencyRepo{db: db, ttl: time.Hour}
	if _, err := s.Lookup(context.Background(), "u1", "POST /x", "k", time.Now()); err == nil {
		t.Fatalf("expected error on closed DB")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
