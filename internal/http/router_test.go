package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-auras-backend/internal/catalog"
	"github.com/tbourn/go-auras-backend/internal/config"
	"github.com/tbourn/go-auras-backend/internal/http/middleware"
	"github.com/tbourn/go-auras-backend/internal/kv"
	"github.com/tbourn/go-auras-backend/internal/relationship"
	"github.com/tbourn/go-auras-backend/internal/repo"
	"github.com/tbourn/go-auras-backend/internal/services"
)

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
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newTestService builds the real service over an in-memory store, the
// built-in catalog and local-only text generation.
func newTestService(t *testing.T) *services.RelationshipService {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	store := relationship.New(kv.NewMemory())
	t.Cleanup(func() { _ = store.Close() })
	return &services.RelationshipService{Store: store, Catalog: cat, MaxMessageRunes: 1000}
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath:        "/api/v1",
		RateRPS:            100,
		RateBurst:          10,
		AutopilotRateRPS:   100,
		AutopilotRateBurst: 10,
		IdempotencyTTL:     time.Hour,
		LogRedact:          true,
		CORS:               config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:           config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:               config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestEngine(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), newTestService(t), cfg)
	return r
}

func serve(r http.Handler, method, path string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r := newTestEngine(t, baseConfig())

	w := serve(r, http.MethodGet, "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	w = serve(r, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	if w = serve(r, http.MethodGet, "/nope", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	if w = serve(r, http.MethodPost, "/health", nil, nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Swagger is off unless enabled.
	if w = serve(r, http.MethodGet, "/swagger/doc.json", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := newTestEngine(t, cfg)

	w := serve(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "http://example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	if w = serve(r, http.MethodGet, "/api/v2/profiles", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("GET /api/v2/profiles = %d", w.Code)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	cfg := baseConfig()
	cfg.SwaggerEnabled = true
	r := newTestEngine(t, cfg)

	w := serve(r, http.MethodGet, "/swagger/doc.json", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /swagger/doc.json = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"basePath": "/api/v1"`)) {
		t.Fatalf("doc.json missing basePath: %.200s", w.Body.String())
	}
}

func TestRegisterRoutes_ConversationFlow(t *testing.T) {
	r := newTestEngine(t, baseConfig())
	hdr := map[string]string{"Content-Type": "application/json", "X-User-ID": "user123", "X-User-Name": "Jamie"}

	if w := serve(r, http.MethodPost, "/api/v1/counterparts/2/open", nil, hdr); w.Code != http.StatusOK {
		t.Fatalf("open = %d %s", w.Code, w.Body.String())
	}
	w := serve(r, http.MethodPost, "/api/v1/counterparts/2/messages", bytes.NewBufferString(`{"text":"hi there"}`), hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("send = %d %s", w.Code, w.Body.String())
	}

	w = serve(r, http.MethodGet, "/api/v1/counterparts/2/messages", nil, hdr)
	if w.Code != http.StatusOK || w.Header().Get("ETag") == "" {
		t.Fatalf("list = %d etag=%q", w.Code, w.Header().Get("ETag"))
	}
	etag := w.Header().Get("ETag")
	w = serve(r, http.MethodGet, "/api/v1/counterparts/2/messages", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional list = %d", w.Code)
	}

	if w = serve(r, http.MethodPost, "/api/v1/counterparts/unknown/open", nil, hdr); w.Code != http.StatusNotFound {
		t.Fatalf("unknown counterpart = %d", w.Code)
	}

	if w = serve(r, http.MethodDelete, "/api/v1/counterparts/2", nil, hdr); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", w.Code, w.Body.String())
	}
	if w = serve(r, http.MethodDelete, "/api/v1/counterparts/2", nil, hdr); w.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", w.Code)
	}
}

func TestRegisterRoutes_IdempotentReplay(t *testing.T) {
	r := newTestEngine(t, baseConfig())
	hdr := map[string]string{
		"X-User-ID":                     "user123",
		middleware.HeaderIdempotencyKey: "req-match-1",
	}

	first := serve(r, http.MethodPost, "/api/v1/counterparts/3/match-requests", nil, hdr)
	if first.Code != http.StatusCreated {
		t.Fatalf("first = %d %s", first.Code, first.Body.String())
	}
	if first.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first response must not be marked as replay")
	}

	second := serve(r, http.MethodPost, "/api/v1/counterparts/3/match-requests", nil, hdr)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay = %d", second.Code)
	}
	if second.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("replay header missing")
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	// Same key from another viewer is a fresh request.
	hdr["X-User-ID"] = "someone-else"
	third := serve(r, http.MethodPost, "/api/v1/counterparts/3/match-requests", nil, hdr)
	if third.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("keys must be scoped per viewer")
	}

	bad := serve(r, http.MethodPost, "/api/v1/counterparts/3/match-requests", nil, map[string]string{
		middleware.HeaderIdempotencyKey: "has spaces",
	})
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("invalid key = %d", bad.Code)
	}
}

func TestRegisterRoutes_AutopilotLimiter(t *testing.T) {
	cfg := baseConfig()
	cfg.AutopilotRateRPS = 0.001
	cfg.AutopilotRateBurst = 1
	r := newTestEngine(t, cfg)

	w := serve(r, http.MethodPost, "/api/v1/counterparts/2/autopilot", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("first autopilot = %d %s", w.Code, w.Body.String())
	}
	w = serve(r, http.MethodPost, "/api/v1/counterparts/2/autopilot", nil, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second autopilot = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After missing")
	}

	// The bucket is per counterpart.
	if w = serve(r, http.MethodPost, "/api/v1/counterparts/3/autopilot", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("other counterpart = %d", w.Code)
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	r := newTestEngine(t, baseConfig())

	w := serve(r, http.MethodGet, "/api/v1/profiles", nil, map[string]string{"Accept-Encoding": "gzip"})
	if w.Code != http.StatusOK {
		t.Fatalf("GET /profiles = %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"), nil) // 12 bytes
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := serve(r, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}

func Test_originPatterns(t *testing.T) {
	if got := originPatterns(nil); len(got) != 1 || got[0] != "*" {
		t.Fatalf("nil origins = %v", got)
	}
	got := originPatterns([]string{"https://auras.app/", "http://localhost:5173", "  "})
	if len(got) != 2 || got[0] != "auras.app" || got[1] != "localhost:5173" {
		t.Fatalf("patterns = %v", got)
	}
}

func Test_idempotencyStore(t *testing.T) {
	db := newTestDB(t)
	s := idempotencyStore{db: db, ttl: time.Hour}
	ctx := context.Background()
	now := time.Now().UTC()

	if _, _, found, err := s.Lookup(ctx, "u1", "2", "k1", now); err != nil || found {
		t.Fatalf("lookup on empty store: found=%v err=%v", found, err)
	}
	if err := s.Save(ctx, "u1", "2", "k1", http.StatusCreated, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A racing duplicate is not an error.
	if err := s.Save(ctx, "u1", "2", "k1", http.StatusCreated, []byte(`{"ok":false}`)); err != nil {
		t.Fatalf("duplicate save: %v", err)
	}
	status, body, found, err := s.Lookup(ctx, "u1", "2", "k1", now)
	if err != nil || !found || status != http.StatusCreated || string(body) != `{"ok":true}` {
		t.Fatalf("lookup = %d %s %v %v", status, body, found, err)
	}

	// Unscoped saves are skipped.
	if err := s.Save(ctx, "u1", "", "k2", http.StatusOK, []byte(`{}`)); err != nil {
		t.Fatalf("unscoped save: %v", err)
	}
	var n int64
	db.Table("idempotency").Count(&n)
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}
