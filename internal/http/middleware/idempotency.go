// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key handling for unsafe requests such as
// sending a message or running autopilot. A request carrying a key is
// validated, then looked up in an IdempotencyStore scoped by viewer and
// counterpart. A hit replays the stored response without running the
// handler; a miss runs the handler, captures its response and stores it when
// the status is 2xx.
//
// Safe methods (GET, HEAD, OPTIONS) pass through untouched so the websocket
// upgrade route never has its writer wrapped.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the client's key.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on replayed responses.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemMaxLen  = 200
	defaultIdemMaxBody = 1 << 20
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// IdempotencyStore persists completed responses keyed by
// (userID, scopeID, key). scopeID is the counterpart id from the route, or ""
// on routes without one. Lookup must ignore expired records.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, scopeID, key string, now time.Time) (status int, body []byte, found bool, err error)
	Save(ctx context.Context, userID, scopeID, key string, status int, body []byte) error
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// MaxBody caps the captured response size; larger responses are not
	// stored. Values <= 0 default to 1 MiB.
	MaxBody int
	// Now is the clock used for lookups (time.Now when nil).
	Now func() time.Time
}

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := c.GetString(ctxKeyIdemKey)
	return s, s != ""
}

// IsReplay reports whether the response was served from the store.
func IsReplay(c *gin.Context) bool {
	return c.GetBool(ctxKeyIdemReplay)
}

// IdempotencyValidator validates the Idempotency-Key header and, when store
// is non-nil, replays or records responses.
//
//   - no header, or a safe method: no-op
//   - malformed key: 400 bad_idempotency_key
//   - stored response found: written as-is with Idempotency-Replayed: true,
//     the rate-limit bypass flag is set and the chain is aborted
//   - otherwise: the handler runs and a 2xx response is saved
//
// Store errors never fail the request; they are logged and the request is
// processed normally.
func IdempotencyValidator(opts IdempotencyOptions, store IdempotencyStore) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}
	maxBody := opts.MaxBody
	if maxBody <= 0 {
		maxBody = defaultIdemMaxBody
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.GetString(requestIDKey),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if store == nil {
			c.Next()
			return
		}

		uid := UserID(c)
		scope := c.Param("id")
		ctx := c.Request.Context()

		status, body, found, err := store.Lookup(ctx, uid, scope, key, now().UTC())
		if err != nil {
			LoggerFrom(c).Warn().Err(err).Str("counterpart_id", scope).Msg("idempotency lookup failed")
		}
		if found {
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
			idemReplays.Inc()
			c.Header(HeaderIdempotencyReplayed, "true")
			c.Data(status, "application/json; charset=utf-8", body)
			c.Abort()
			return
		}

		rec := &captureWriter{ResponseWriter: c.Writer, limit: maxBody}
		c.Writer = rec
		c.Next()
		c.Writer = rec.ResponseWriter

		st := rec.Status()
		if st < 200 || st >= 300 || rec.overflow {
			return
		}
		if err := store.Save(ctx, uid, scope, key, st, rec.buf.Bytes()); err != nil {
			LoggerFrom(c).Debug().Err(err).Str("counterpart_id", scope).Msg("idempotency save skipped")
		}
	}
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// captureWriter tees the response body into buf up to limit bytes.
type captureWriter struct {
	gin.ResponseWriter
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.capture(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.capture([]byte(s))
	return w.ResponseWriter.WriteString(s)
}

func (w *captureWriter) capture(b []byte) {
	if w.overflow {
		return
	}
	if w.buf.Len()+len(b) > w.limit {
		w.overflow = true
		w.buf.Reset()
		return
	}
	w.buf.Write(b)
}
