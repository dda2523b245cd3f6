// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package redisstore implements store.Backend on Redis.
//
// Each document is a hash with two fields, "rev" and "data", under
// <namespace>:<collection>:doc:<id>; the identifiers of a collection are kept
// in the set <namespace>:<collection>:ids. Writes WATCH the document key and
// run in a MULTI/EXEC block, so a concurrent writer aborts the transaction
// and the caller sees store.ErrConflict.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/specialistvlad/relvalgo/internal/store"
)

// Store is a Redis-backed document store.
type Store struct {
	client    *redis.Client
	namespace string
}

// New wraps an existing client.
func New(client *redis.Client, namespace string) *Store {
	if namespace == "" {
		namespace = "relval"
	}
	return &Store{client: client, namespace: namespace}
}

// Open connects to the Redis server at redisURL and checks it responds.
func Open(ctx context.Context, redisURL, namespace string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return New(client, namespace), nil
}

func (s *Store) docKey(collection, id string) string {
	return fmt.Sprintf("%s:%s:doc:%s", s.namespace, collection, id)
}

func (s *Store) indexKey(collection string) string {
	return fmt.Sprintf("%s:%s:ids", s.namespace, collection)
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	vals, err := s.client.HMGet(ctx, s.docKey(collection, id), "rev", "data").Result()
	if err != nil {
		return store.Document{}, fmt.Errorf("reading %s: %w", id, err)
	}
	return decode(id, vals)
}

// Create implements store.Backend.
func (s *Store) Create(ctx context.Context, collection, id string, data []byte) (int64, error) {
	key := s.docKey(collection, id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return store.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "rev", 1, "data", data)
			pipe.SAdd(ctx, s.indexKey(collection), id)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, translate(err)
	}
	return 1, nil
}

// Update implements store.Backend.
func (s *Store) Update(ctx context.Context, collection, id string, expected int64, data []byte) (int64, error) {
	key := s.docKey(collection, id)
	next := expected + 1
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := checkRevision(ctx, tx, key, expected); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "rev", next, "data", data)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, translate(err)
	}
	return next, nil
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, collection, id string, expected int64) error {
	key := s.docKey(collection, id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := checkRevision(ctx, tx, key, expected); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, s.indexKey(collection), id)
			return nil
		})
		return err
	}, key)
	return translate(err)
}

// List implements store.Backend.
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	sort.Strings(ids)

	cmds := make([]*redis.SliceCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HMGet(ctx, s.docKey(collection, id), "rev", "data")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}

	docs := make([]store.Document, 0, len(ids))
	for i, id := range ids {
		doc, err := decode(id, cmds[i].Val())
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between SMEMBERS and HMGET.
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Close implements store.Backend.
func (s *Store) Close() error {
	return s.client.Close()
}

func checkRevision(ctx context.Context, tx *redis.Tx, key string, expected int64) error {
	raw, err := tx.HGet(ctx, key, "rev").Result()
	if err == redis.Nil {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	rev, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("corrupt revision %q: %w", raw, err)
	}
	if rev != expected {
		return store.ErrConflict
	}
	return nil
}

func decode(id string, vals []any) (store.Document, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return store.Document{}, store.ErrNotFound
	}
	rawRev, _ := vals[0].(string)
	rev, err := strconv.ParseInt(rawRev, 10, 64)
	if err != nil {
		return store.Document{}, fmt.Errorf("corrupt revision of %s: %w", id, err)
	}
	data, _ := vals[1].(string)
	return store.Document{ID: id, Revision: rev, Data: []byte(data)}, nil
}

func translate(err error) error {
	if errors.Is(err, redis.TxFailedErr) {
		return store.ErrConflict
	}
	return err
}
