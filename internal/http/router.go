// Package httpapi wires the HTTP transport (Gin) to the relationship
// service, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, compression, metrics, CORS, security headers, idempotency, and
// rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-auras-backend/docs"
	"github.com/tbourn/go-auras-backend/internal/config"
	"github.com/tbourn/go-auras-backend/internal/http/handlers"
	"github.com/tbourn/go-auras-backend/internal/http/middleware"
	"github.com/tbourn/go-auras-backend/internal/repo"
)

// idempotencyStore adapts the repo functions to middleware.IdempotencyStore.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// Lookup proxies repo.GetIdempotency.
func (s idempotencyStore) Lookup(ctx context.Context, userID, counterpartID, key string, now time.Time) (int, []byte, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, counterpartID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	return rec.Status, []byte(rec.Body), true, nil
}

// Save proxies repo.CreateIdempotency. A concurrent retry that stored the
// same key first wins. Requests without an id path parameter are not
// recorded since Lookup never matches them.
func (s idempotencyStore) Save(ctx context.Context, userID, counterpartID, key string, status int, body []byte) error {
	if strings.TrimSpace(counterpartID) == "" {
		return nil
	}
	_, err := repo.CreateIdempotency(ctx, s.db, userID, counterpartID, key, status, body, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. db backs the idempotency records; svc serves the API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID and Identity: correlation id and viewer
//  3. Access log (redacting unless LOG_REDACT=false)
//  4. Recovery: capture panics after logger
//  5. Body size limiter and gzip
//  6. Metrics
//  7. Idempotency replay (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc handlers.RelationshipService, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	r.Use(middleware.RequestID(), middleware.Identity())

	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
		}))
	} else {
		r.Use(middleware.Logger())
	}

	r.Use(middleware.Recovery())

	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyStore{db: db, ttl: cfg.IdempotencyTTL},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderUserName, middleware.HeaderIdempotencyKey,
		"If-None-Match",
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc)
	h.RevealInterval = cfg.AutopilotRevealInterval
	h.OriginPatterns = originPatterns(cfg.CORS.AllowedOrigins)

	// Autopilot fans out to several text-generation calls per run.
	autopilotRL := middleware.NewRateLimiter(cfg.AutopilotRateRPS, cfg.AutopilotRateBurst, middleware.KeyByUserAndCounterpart())

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Profiles and preferences
		api.GET("/profiles", h.BrowseProfiles)
		api.GET("/profiles/search", h.SearchProfiles)
		api.GET("/preferences", h.GetPreferences)
		api.PUT("/preferences", h.PutPreferences)

		// Per-counterpart conversation
		cp := api.Group("/counterparts/:id")
		cp.POST("/open", h.OpenChat)
		cp.GET("/messages", h.ListMessages)
		cp.POST("/messages", h.PostMessage)
		cp.POST("/match-requests", h.RequestMatch)
		cp.POST("/real-chat", h.StartRealChat)
		cp.POST("/autopilot", autopilotRL.Handler(), h.RunAutopilot)
		cp.GET("/autopilot/stream", autopilotRL.Handler(), h.StreamAutopilot)
		cp.DELETE("", h.DeleteChat)

		// Matches and chat lists
		api.GET("/matches/pending", h.PendingMatches)
		api.POST("/matches/:id/accept", h.AcceptMatch)
		api.POST("/matches/:id/decline", h.DeclineMatch)
		api.GET("/chats", h.ActiveChats)
		api.GET("/chats/ongoing", h.OngoingChats)
		api.GET("/chats/current", h.CurrentChat)
	}
}

// originPatterns turns CORS origins into host patterns for the websocket
// handshake. No configured origins means any origin, matching the CORS
// allow-all posture.
func originPatterns(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimSpace(o), "https://")
		o = strings.TrimPrefix(o, "http://")
		if o = strings.TrimSuffix(o, "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
