// Package kv defines the persistence port used by the relationship store: a
// flat string key/value space with prefix listing and atomic batches. The
// key layout is the one the browser client used for local storage, so any
// backend can be seeded from (or exported to) an existing dump.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

// Backend is a string key/value store.
//
// Implementations must be safe for concurrent use. Atomic runs fn against a
// view of the backend whose writes are applied together when fn returns nil
// and discarded otherwise; reads inside fn observe the view's own writes.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	// Keys returns every key starting with prefix, sorted ascending.
	// An empty prefix lists all keys.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Atomic(ctx context.Context, fn func(tx Backend) error) error
}
