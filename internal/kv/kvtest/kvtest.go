// Package kvtest holds a conformance suite shared by every kv.Backend.
package kvtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-auras-backend/internal/kv"
)

// Run exercises the Backend contract against fresh instances from newBackend.
func Run(t *testing.T, newBackend func(t *testing.T) kv.Backend) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Get(ctx, "nope")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Set(ctx, "chat_1", "[]"))
		require.NoError(t, b.Set(ctx, "chat_1", `[{"id":"1"}]`))
		v, err := b.Get(ctx, "chat_1")
		require.NoError(t, err)
		assert.Equal(t, `[{"id":"1"}]`, v)
	})

	t.Run("DeleteMany", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Set(ctx, "a", "1"))
		require.NoError(t, b.Set(ctx, "b", "2"))
		require.NoError(t, b.Delete(ctx, "a", "b", "missing"))
		_, err := b.Get(ctx, "a")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		_, err = b.Get(ctx, "b")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("KeysByPrefixSorted", func(t *testing.T) {
		b := newBackend(t)
		for _, k := range []string{"chat_2", "real_chat_2", "chat_10", "userMatches", "chat_1"} {
			require.NoError(t, b.Set(ctx, k, "x"))
		}
		keys, err := b.Keys(ctx, "chat_")
		require.NoError(t, err)
		assert.Equal(t, []string{"chat_1", "chat_10", "chat_2"}, keys)

		all, err := b.Keys(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})

	t.Run("AtomicCommits", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Set(ctx, "old", "1"))
		err := b.Atomic(ctx, func(tx kv.Backend) error {
			if err := tx.Set(ctx, "new", "2"); err != nil {
				return err
			}
			if err := tx.Delete(ctx, "old"); err != nil {
				return err
			}
			v, err := tx.Get(ctx, "new")
			if err != nil || v != "2" {
				return errors.New("batch must read its own writes")
			}
			if _, err := tx.Get(ctx, "old"); !errors.Is(err, kv.ErrNotFound) {
				return errors.New("batch must see its own deletes")
			}
			keys, err := tx.Keys(ctx, "")
			if err != nil {
				return err
			}
			if len(keys) != 1 || keys[0] != "new" {
				return errors.New("batch key listing out of sync")
			}
			return nil
		})
		require.NoError(t, err)

		v, err := b.Get(ctx, "new")
		require.NoError(t, err)
		assert.Equal(t, "2", v)
		_, err = b.Get(ctx, "old")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("AtomicRollsBack", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Set(ctx, "keep", "1"))
		boom := errors.New("boom")
		err := b.Atomic(ctx, func(tx kv.Backend) error {
			_ = tx.Set(ctx, "keep", "changed")
			_ = tx.Set(ctx, "extra", "x")
			return boom
		})
		assert.ErrorIs(t, err, boom)

		v, err := b.Get(ctx, "keep")
		require.NoError(t, err)
		assert.Equal(t, "1", v)
		_, err = b.Get(ctx, "extra")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})
}
