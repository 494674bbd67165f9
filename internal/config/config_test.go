package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Clear all env that might affect defaults. t.Setenv isolates per test.
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("CATALOG_PATH", "profiles.yaml")
	t.Setenv("MAX_MESSAGE_RUNES", "500")
	t.Setenv("AUTOPILOT_REVEAL_INTERVAL", "1s")
	t.Setenv("STORE_BACKEND", " Redis ")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_PREFIX", "test:")
	t.Setenv("QUEUE_SHARDS", "8")
	t.Setenv("QUEUE_SIZE", "x") // -> default 128
	t.Setenv("QUEUE_ENQUEUE_TIMEOUT", "250ms")

	// Text generation
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_MODEL", "some/model")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// App
	if cfg.DBPath != "db.sqlite" || cfg.CatalogPath != "profiles.yaml" || cfg.MaxMessageRunes != 500 || cfg.AutopilotRevealInterval != time.Second {
		t.Fatalf("app fields unexpected: %+v", cfg)
	}
	if cfg.Store.Backend != BackendRedis || cfg.Store.RedisAddr != "redis:6379" || cfg.Store.RedisDB != 2 || cfg.Store.RedisPrefix != "test:" {
		t.Fatalf("store fields unexpected: %+v", cfg.Store)
	}
	if cfg.Queue.Shards != 8 || cfg.Queue.Size != 128 || cfg.Queue.EnqueueTimeout != 250*time.Millisecond || cfg.Queue.MaxAttempts != 5 {
		t.Fatalf("queue fields unexpected: %+v", cfg.Queue)
	}

	// Text generation
	if !cfg.LLM.Enabled() || cfg.LLM.Model != "some/model" || cfg.LLM.BaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("llm fields unexpected: %+v", cfg.LLM)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Idempotency
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	t.Run("invalid LOG_LEVEL", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		if _, err := Load(); err == nil {
			t.Fatalf("expected LOG_LEVEL validation error")
		}
	})
	t.Run("empty PORT via spaces", func(t *testing.T) {
		t.Setenv("PORT", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "PORT must not be empty") {
			t.Fatalf("expected port validation error, got: %v", err)
		}
	})
	t.Run("non-positive timeouts", func(t *testing.T) {
		t.Setenv("READ_TIMEOUT", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "timeouts must be positive") {
			t.Fatalf("expected timeouts validation error, got: %v", err)
		}
	})
	t.Run("max header bytes <= 0", func(t *testing.T) {
		t.Setenv("MAX_HEADER_BYTES", "0")
		if _, err := Load(); err == nil || !containsErr(err, "MAX_HEADER_BYTES") {
			t.Fatalf("expected MAX_HEADER_BYTES validation error, got: %v", err)
		}
	})
	t.Run("empty DB_PATH", func(t *testing.T) {
		t.Setenv("DB_PATH", "   ")
		if _, err := Load(); err == nil || !containsErr(err, "DB_PATH must not be empty") {
			t.Fatalf("expected DB_PATH validation error, got: %v", err)
		}
	})
	t.Run("unknown STORE_BACKEND", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "mongo")
		if _, err := Load(); err == nil || !containsErr(err, "STORE_BACKEND") {
			t.Fatalf("expected STORE_BACKEND validation error, got: %v", err)
		}
	})
	t.Run("memory backend ignores DB_PATH", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "memory")
		t.Setenv("DB_PATH", "   ")
		if _, err := Load(); err != nil {
			t.Fatalf("memory backend should not need DB_PATH, got: %v", err)
		}
	})
	t.Run("redis backend needs REDIS_ADDR", func(t *testing.T) {
		t.Setenv("STORE_BACKEND", "redis")
		t.Setenv("REDIS_ADDR", " ")
		if _, err := Load(); err == nil || !containsErr(err, "REDIS_ADDR") {
			t.Fatalf("expected REDIS_ADDR validation error, got: %v", err)
		}
	})
	t.Run("max message runes <= 0", func(t *testing.T) {
		t.Setenv("MAX_MESSAGE_RUNES", "0")
		if _, err := Load(); err == nil || !containsErr(err, "MAX_MESSAGE_RUNES") {
			t.Fatalf("expected MAX_MESSAGE_RUNES validation error, got: %v", err)
		}
	})
	t.Run("reveal interval <= 0", func(t *testing.T) {
		t.Setenv("AUTOPILOT_REVEAL_INTERVAL", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "AUTOPILOT_REVEAL_INTERVAL") {
			t.Fatalf("expected AUTOPILOT_REVEAL_INTERVAL validation error, got: %v", err)
		}
	})
	t.Run("queue shards < 1", func(t *testing.T) {
		t.Setenv("QUEUE_SHARDS", "0")
		if _, err := Load(); err == nil || !containsErr(err, "QUEUE_SHARDS") {
			t.Fatalf("expected QUEUE_SHARDS validation error, got: %v", err)
		}
	})
	t.Run("bad OPENROUTER_TIMEOUT", func(t *testing.T) {
		t.Setenv("OPENROUTER_TIMEOUT", "soon")
		if _, err := Load(); err == nil || !containsErr(err, "llm: load config") {
			t.Fatalf("expected llm config error, got: %v", err)
		}
	})
	t.Run("rate rps negative", func(t *testing.T) {
		t.Setenv("RATE_RPS", "-1")
		if _, err := Load(); err == nil || !containsErr(err, "RATE_RPS") {
			t.Fatalf("expected RATE_RPS validation error, got: %v", err)
		}
	})
	t.Run("rate burst < 1", func(t *testing.T) {
		t.Setenv("RATE_BURST", "0")
		if _, err := Load(); err == nil || !containsErr(err, "RATE_BURST") {
			t.Fatalf("expected RATE_BURST validation error, got: %v", err)
		}
	})
	t.Run("autopilot burst < 1", func(t *testing.T) {
		t.Setenv("AUTOPILOT_RATE_BURST", "0")
		if _, err := Load(); err == nil || !containsErr(err, "AUTOPILOT_RATE_BURST") {
			t.Fatalf("expected AUTOPILOT_RATE_BURST validation error, got: %v", err)
		}
	})
	t.Run("hsts max age negative", func(t *testing.T) {
		t.Setenv("HSTS_MAX_AGE", "-1s")
		if _, err := Load(); err == nil || !containsErr(err, "HSTS_MAX_AGE") {
			t.Fatalf("expected HSTS_MAX_AGE validation error, got: %v", err)
		}
	})
	t.Run("idempotency ttl non-positive", func(t *testing.T) {
		t.Setenv("IDEMPOTENCY_TTL", "0s")
		if _, err := Load(); err == nil || !containsErr(err, "IDEMPOTENCY_TTL") {
			t.Fatalf("expected IDEMPOTENCY_TTL validation error, got: %v", err)
		}
	})
	t.Run("otel sample ratio out of range", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
		if _, err := Load(); err == nil || !containsErr(err, "OTEL_TRACES_SAMPLER_ARG") {
			t.Fatalf("expected OTEL_TRACES_SAMPLER_ARG validation error, got: %v", err)
		}
	})

	// Note: API_BASE_PATH validation is effectively unreachable due to normalizeBasePath
	// always ensuring a leading '/' and returning "/" for empty input.
}

// --- env parsing ---

func TestEnvParsing(t *testing.T) {
	t.Setenv("AURAS_T_PORT", "9090")
	t.Setenv("AURAS_T_EMPTY", "")
	t.Setenv("AURAS_T_RPS", "0.5")
	t.Setenv("AURAS_T_RPS_BAD", "fast")
	t.Setenv("AURAS_T_SHARDS", "8")
	t.Setenv("AURAS_T_SHARDS_BAD", "eight")
	t.Setenv("AURAS_T_REVEAL", "150ms")
	t.Setenv("AURAS_T_REVEAL_BAD", "soon")

	cases := []struct {
		name      string
		got, want any
	}{
		{"string set", getenv("AURAS_T_PORT", "8080"), "9090"},
		{"string empty falls back", getenv("AURAS_T_EMPTY", "8080"), "8080"},
		{"string unset falls back", getenv("AURAS_T_UNSET", "auras.db"), "auras.db"},
		{"float", getfloat("AURAS_T_RPS", 5), 0.5},
		{"float bad", getfloat("AURAS_T_RPS_BAD", 5), 5.0},
		{"int", getint("AURAS_T_SHARDS", 4), 8},
		{"int bad", getint("AURAS_T_SHARDS_BAD", 4), 4},
		{"duration", getdur("AURAS_T_REVEAL", time.Second), 150 * time.Millisecond},
		{"duration bad", getdur("AURAS_T_REVEAL_BAD", 2500*time.Millisecond), 2500 * time.Millisecond},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s: got %v (%T), want %v (%T)", tc.name, tc.got, tc.got, tc.want, tc.want)
		}
	}
}

func TestEnvParsing_Bool(t *testing.T) {
	cases := map[string]struct {
		def, want bool
	}{
		"1": {false, true}, "true": {false, true}, "TRUE": {false, true},
		" yes ": {false, true}, "Y": {false, true}, "On": {false, true},
		"0": {true, false}, "false": {true, false}, " no ": {true, false},
		"N": {true, false}, "off": {true, false},
		"maybe": {true, true}, "": {false, false},
	}
	for v, tc := range cases {
		t.Setenv("AURAS_T_BOOL", v)
		if got := getbool("AURAS_T_BOOL", tc.def); got != tc.want {
			t.Errorf("getbool(%q, %v) = %v, want %v", v, tc.def, got, tc.want)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ,", nil},
		{"https://a.test", []string{"https://a.test"}},
		{" https://a.test, ,http://b.test ,", []string{"https://a.test", "http://b.test"}},
	}
	for _, tc := range cases {
		if got := splitCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitCSV(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{" / ", "/"},
		{"v1", "/v1"},
		{"/api/v1/", "/api/v1"},
		{"api/v2//", "/api/v2"},
	}
	for _, tc := range cases {
		if got := normalizeBasePath(tc.in); got != tc.want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}

func TestLoad_Defaults_APIBasePathDefault_And_CatalogOptional(t *testing.T) {
	t.Setenv("DB_PATH", "db.sqlite")
	// Intentionally leave CATALOG_PATH and API_BASE_PATH unset

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	// default per code is "/api/v1"
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("API_BASE_PATH default expected '/api/v1', got %q", cfg.APIBasePath)
	}
	// CatalogPath remains empty when unset (built-in catalog)
	if cfg.CatalogPath != "" {
		t.Fatalf("expected empty CatalogPath when unset, got %q", cfg.CatalogPath)
	}
	if cfg.Store.Backend != BackendSQLite || cfg.AutopilotRevealInterval != 2500*time.Millisecond || !cfg.LogRedact {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SearchStopwords != nil || cfg.SearchMaxDocs != 0 {
		t.Fatalf("search defaults: stopwords=%v max=%d", cfg.SearchStopwords, cfg.SearchMaxDocs)
	}
}

func TestLoad_SearchTuning(t *testing.T) {
	t.Setenv("SEARCH_STOPWORDS", "the, a ,love")
	t.Setenv("SEARCH_MAX_DOCS", "25")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !reflect.DeepEqual(cfg.SearchStopwords, []string{"the", "a", "love"}) || cfg.SearchMaxDocs != 25 {
		t.Fatalf("search tuning: stopwords=%v max=%d", cfg.SearchStopwords, cfg.SearchMaxDocs)
	}

	t.Setenv("SEARCH_MAX_DOCS", "-1")
	if _, err := Load(); err == nil || !containsErr(err, "SEARCH_MAX_DOCS") {
		t.Fatalf("expected SEARCH_MAX_DOCS error, got %v", err)
	}
}
