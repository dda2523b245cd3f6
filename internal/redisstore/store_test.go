// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/specialistvlad/relvalgo/internal/store"
	"github.com/specialistvlad/relvalgo/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis instance and a store bound to it.
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(client, "test")
	t.Cleanup(func() { s.Close() })
	return mr, s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Backend {
		_, s := setupTestRedis(t)
		return s
	})
}

func TestKeyLayout(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "relvals", "R1", []byte(`{"id":"R1"}`))
	require.NoError(t, err)

	assert.Equal(t, "1", mr.HGet("test:relvals:doc:R1", "rev"))
	assert.Equal(t, `{"id":"R1"}`, mr.HGet("test:relvals:doc:R1", "data"))
	ok, err := mr.SIsMember("test:relvals:ids", "R1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestList_SkipsDanglingIndexEntries(t *testing.T) {
	mr, s := setupTestRedis(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "relvals", "R1", []byte(`{}`))
	require.NoError(t, err)
	_, err = mr.SAdd("test:relvals:ids", "ghost")
	require.NoError(t, err)

	docs, err := s.List(ctx, "relvals")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "R1", docs[0].ID)
}

func TestOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := Open(context.Background(), "redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "relval", s.namespace)

	_, err = Open(context.Background(), "not a url", "x")
	assert.Error(t, err)
}
