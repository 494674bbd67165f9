package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Backend. It is the default for tests and for
// `STORE_BACKEND=memory`.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.data, prefix), nil
}

// Atomic holds the write lock for the whole of fn, so batches never
// interleave with other writers.
func (m *Memory) Atomic(_ context.Context, fn func(tx Backend) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := newOverlay(func(_ context.Context, key string) (string, error) {
		v, ok := m.data[key]
		if !ok {
			return "", ErrNotFound
		}
		return v, nil
	}, func(_ context.Context, prefix string) ([]string, error) {
		return sortedKeys(m.data, prefix), nil
	})
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.sets {
		m.data[k] = v
	}
	for k := range tx.dels {
		delete(m.data, k)
	}
	return nil
}

func sortedKeys(data map[string]string, prefix string) []string {
	out := make([]string, 0, len(data))
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// overlay buffers writes on top of a read function. It backs Atomic in the
// memory and Redis backends.
type overlay struct {
	read func(ctx context.Context, key string) (string, error)
	list func(ctx context.Context, prefix string) ([]string, error)
	sets map[string]string
	dels map[string]struct{}
}

func newOverlay(
	read func(context.Context, string) (string, error),
	list func(context.Context, string) ([]string, error),
) *overlay {
	return &overlay{
		read: read,
		list: list,
		sets: make(map[string]string),
		dels: make(map[string]struct{}),
	}
}

func (o *overlay) Get(ctx context.Context, key string) (string, error) {
	if v, ok := o.sets[key]; ok {
		return v, nil
	}
	if _, ok := o.dels[key]; ok {
		return "", ErrNotFound
	}
	return o.read(ctx, key)
}

func (o *overlay) Set(_ context.Context, key, value string) error {
	delete(o.dels, key)
	o.sets[key] = value
	return nil
}

func (o *overlay) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(o.sets, k)
		o.dels[k] = struct{}{}
	}
	return nil
}

func (o *overlay) Keys(ctx context.Context, prefix string) ([]string, error) {
	base, err := o.list(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, k := range base {
		if _, gone := o.dels[k]; !gone {
			seen[k] = struct{}{}
		}
	}
	for k := range o.sets {
		if strings.HasPrefix(k, prefix) {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Atomic on an overlay runs fn inline; nested batches join the outer one.
func (o *overlay) Atomic(_ context.Context, fn func(tx Backend) error) error {
	return fn(o)
}
