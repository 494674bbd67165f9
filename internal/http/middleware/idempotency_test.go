package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type storedResponse struct {
	status int
	body   []byte
}

type fakeIdemStore struct {
	recs      map[string]storedResponse
	lookups   int
	lookupErr error
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{recs: map[string]storedResponse{}}
}

func (f *fakeIdemStore) Lookup(_ context.Context, userID, scopeID, key string, _ time.Time) (int, []byte, bool, error) {
	f.lookups++
	if f.lookupErr != nil {
		return 0, nil, false, f.lookupErr
	}
	r, ok := f.recs[userID+"|"+scopeID+"|"+key]
	return r.status, r.body, ok, nil
}

func (f *fakeIdemStore) Save(_ context.Context, userID, scopeID, key string, status int, body []byte) error {
	f.recs[userID+"|"+scopeID+"|"+key] = storedResponse{status, append([]byte(nil), body...)}
	return nil
}

func idemRouter(store IdempotencyStore, opts IdempotencyOptions, status int, calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Identity(), IdempotencyValidator(opts, store))
	r.POST("/counterparts/:id/messages", func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"n": *calls})
	})
	r.GET("/counterparts/:id/messages", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.Status(http.StatusNoContent)
	})
	return r
}

func postWithKey(r *gin.Engine, path, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"text":"hi"}`))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	req.Header.Set(HeaderUserID, "u1")
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_GetIdempotencyKey_IsReplay_Defaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
}

func TestIdempotencyValidator_NoHeader_NoLookup(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	r := idemRouter(store, IdempotencyOptions{}, http.StatusCreated, &calls)

	postWithKey(r, "/counterparts/1/messages", "")
	postWithKey(r, "/counterparts/1/messages", "")
	if calls != 2 || store.lookups != 0 || len(store.recs) != 0 {
		t.Fatalf("calls=%d lookups=%d recs=%d", calls, store.lookups, len(store.recs))
	}
}

func TestIdempotencyValidator_SafeMethodIgnored(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	r := idemRouter(store, IdempotencyOptions{}, http.StatusOK, &calls)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/counterparts/1/messages", nil)
	req.Header.Set(HeaderIdempotencyKey, "k1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || store.lookups != 0 {
		t.Fatalf("code=%d lookups=%d", w.Code, store.lookups)
	}
}

func TestIdempotencyValidator_InvalidKeys(t *testing.T) {
	calls := 0
	r := idemRouter(newFakeIdemStore(), IdempotencyOptions{MaxLen: 5, Pattern: regexp.MustCompile(`^[a-z]+$`)}, http.StatusCreated, &calls)

	for _, key := range []string{"toolong", "AB"} {
		w := postWithKey(r, "/counterparts/1/messages", key)
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: code=%d body=%s", key, w.Code, w.Body.String())
		}
	}
	if calls != 0 {
		t.Fatalf("handler should not run for invalid keys")
	}
}

func TestIdempotencyValidator_StoresThenReplays(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	r := idemRouter(store, IdempotencyOptions{}, http.StatusCreated, &calls)

	first := postWithKey(r, "/counterparts/1/messages", "send-1")
	if first.Code != http.StatusCreated || first.Header().Get(HeaderIdempotencyReplayed) != "" {
		t.Fatalf("first: code=%d headers=%v", first.Code, first.Header())
	}
	if _, ok := store.recs["u1|1|send-1"]; !ok {
		t.Fatalf("response not stored: %v", store.recs)
	}

	second := postWithKey(r, "/counterparts/1/messages", "send-1")
	if calls != 1 {
		t.Fatalf("handler ran on replay, calls=%d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %q vs %q", second.Code, second.Body.String(), first.Body.String())
	}
	if second.Header().Get(HeaderIdempotencyReplayed) != "true" {
		t.Fatalf("missing replay header")
	}

	// Keys are scoped per counterpart.
	postWithKey(r, "/counterparts/2/messages", "send-1")
	if calls != 2 {
		t.Fatalf("expected handler to run for another counterpart, calls=%d", calls)
	}
}

func TestIdempotencyValidator_Non2xxNotStored(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	r := idemRouter(store, IdempotencyOptions{}, http.StatusConflict, &calls)

	postWithKey(r, "/counterparts/1/messages", "k")
	postWithKey(r, "/counterparts/1/messages", "k")
	if calls != 2 || len(store.recs) != 0 {
		t.Fatalf("calls=%d recs=%d", calls, len(store.recs))
	}
}

func TestIdempotencyValidator_OversizeNotStored(t *testing.T) {
	store := newFakeIdemStore()
	calls := 0
	r := idemRouter(store, IdempotencyOptions{MaxBody: 4}, http.StatusOK, &calls)

	w := postWithKey(r, "/counterparts/1/messages", "k")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"n":1`) {
		t.Fatalf("client response must be intact: %d %s", w.Code, w.Body.String())
	}
	if len(store.recs) != 0 {
		t.Fatalf("oversized body should not be stored")
	}
}

func TestIdempotencyValidator_LookupErrorProceeds(t *testing.T) {
	store := newFakeIdemStore()
	store.lookupErr = errors.New("db down")
	calls := 0
	r := idemRouter(store, IdempotencyOptions{}, http.StatusCreated, &calls)

	w := postWithKey(r, "/counterparts/1/messages", "k")
	if w.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("code=%d calls=%d", w.Code, calls)
	}
}

func TestIdempotencyValidator_NilStoreStashesKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil))
	r.POST("/x", func(c *gin.Context) {
		k, ok := GetIdempotencyKey(c)
		if !ok || k != "abc" || IsReplay(c) {
			t.Fatalf("key=%q ok=%v", k, ok)
		}
		c.Status(http.StatusNoContent)
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(HeaderIdempotencyKey, "abc")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}
