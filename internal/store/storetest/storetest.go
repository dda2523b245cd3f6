// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package storetest is a conformance suite every store.Backend must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/specialistvlad/relvalgo/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises newBackend against the store.Backend contract. Each subtest
// gets a fresh backend.
func Run(t *testing.T, newBackend func(t *testing.T) store.Backend) {
	t.Run("CreateGet", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		_, err := b.Get(ctx, "relvals", "A")
		require.ErrorIs(t, err, store.ErrNotFound)

		rev, err := b.Create(ctx, "relvals", "A", []byte(`{"id":"A"}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)

		doc, err := b.Get(ctx, "relvals", "A")
		require.NoError(t, err)
		assert.Equal(t, store.Document{ID: "A", Revision: 1, Data: []byte(`{"id":"A"}`)}, doc)

		_, err = b.Create(ctx, "relvals", "A", []byte(`{}`))
		assert.ErrorIs(t, err, store.ErrAlreadyExists)

		_, err = b.Get(ctx, "tickets", "A")
		assert.ErrorIs(t, err, store.ErrNotFound, "collections are separate")
	})

	t.Run("UpdateOptimistic", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		_, err := b.Update(ctx, "relvals", "A", 1, []byte(`{}`))
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = b.Create(ctx, "relvals", "A", []byte(`{"v":1}`))
		require.NoError(t, err)

		rev, err := b.Update(ctx, "relvals", "A", 1, []byte(`{"v":2}`))
		require.NoError(t, err)
		assert.Equal(t, int64(2), rev)

		_, err = b.Update(ctx, "relvals", "A", 1, []byte(`{"v":3}`))
		assert.ErrorIs(t, err, store.ErrConflict)

		doc, err := b.Get(ctx, "relvals", "A")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(doc.Data))
		assert.Equal(t, int64(2), doc.Revision)
	})

	t.Run("Delete", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		require.ErrorIs(t, b.Delete(ctx, "relvals", "A", 1), store.ErrNotFound)

		_, err := b.Create(ctx, "relvals", "A", []byte(`{}`))
		require.NoError(t, err)
		require.ErrorIs(t, b.Delete(ctx, "relvals", "A", 7), store.ErrConflict)
		require.NoError(t, b.Delete(ctx, "relvals", "A", 1))

		_, err = b.Get(ctx, "relvals", "A")
		assert.ErrorIs(t, err, store.ErrNotFound)

		rev, err := b.Create(ctx, "relvals", "A", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev, "a deleted identifier can be reused")
	})

	t.Run("ListOrdered", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for _, id := range []string{"c", "a", "b"} {
			_, err := b.Create(ctx, "relvals", id, []byte(fmt.Sprintf(`{"id":%q}`, id)))
			require.NoError(t, err)
		}
		_, err := b.Create(ctx, "tickets", "z", []byte(`{}`))
		require.NoError(t, err)

		docs, err := b.List(ctx, "relvals")
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "a", docs[0].ID)
		assert.Equal(t, "b", docs[1].ID)
		assert.Equal(t, "c", docs[2].ID)

		empty, err := b.List(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("ConcurrentUpdatesSingleWinner", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		_, err := b.Create(ctx, "relvals", "A", []byte(`{}`))
		require.NoError(t, err)

		const writers = 16
		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func(i int) {
				defer wg.Done()
				_, err := b.Update(ctx, "relvals", "A", 1, []byte(fmt.Sprintf(`{"w":%d}`, i)))
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, store.ErrConflict)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load(), "exactly one writer wins the same revision")
		doc, err := b.Get(ctx, "relvals", "A")
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Revision)
	})
}
