package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a Redis backend.
type RedisOptions struct {
	// Prefix namespaces every key, e.g. "auras" stores "chat_1" as
	// "auras:chat_1". Empty means no namespace.
	Prefix string
	// ScanCount is the COUNT hint passed to SCAN (defaults to 100).
	ScanCount int64
}

// Redis is a Backend on top of go-redis. Atomic batches are flushed in a
// single MULTI/EXEC; reads inside a batch go straight to the server.
type Redis struct {
	client    redis.UniversalClient
	prefix    string
	scanCount int64
}

// NewRedis wraps an existing client. The caller owns the client's lifecycle.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	sc := opts.ScanCount
	if sc <= 0 {
		sc = 100
	}
	prefix := strings.TrimSuffix(opts.Prefix, ":")
	if prefix != "" {
		prefix += ":"
	}
	return &Redis{client: client, prefix: prefix, scanCount: sc}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(r.prefix+prefix) + "*"
	var (
		cursor uint64
		out    []string
	)
	seen := make(map[string]struct{})
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, r.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			k = strings.TrimPrefix(k, r.prefix)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) Atomic(ctx context.Context, fn func(tx Backend) error) error {
	tx := newOverlay(r.Get, r.Keys)
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.sets) == 0 && len(tx.dels) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range tx.sets {
			p.Set(ctx, r.key(k), v, 0)
		}
		if len(tx.dels) > 0 {
			dels := make([]string, 0, len(tx.dels))
			for k := range tx.dels {
				dels = append(dels, r.key(k))
			}
			p.Del(ctx, dels...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis exec: %w", err)
	}
	return nil
}

// escapeGlob quotes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
