// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// # Concurrency Model
//
// Documents live in a single sync.Map keyed by "<collection>/<id>". Every
// stored value is an immutable *entry; an update builds a new entry and
// installs it with CompareAndSwap against the entry it read, so two writers
// racing on the same document cannot both win. Deletes use CompareAndDelete
// the same way. Different documents never contend with each other.
package inmemorystore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/specialistvlad/relvalgo/internal/store"
)

type entry struct {
	rev  int64
	data []byte
}

// Store is an in-memory implementation of store.Backend.
type Store struct {
	docs sync.Map // Key: "<collection>/<id>", Value: *entry
}

// New creates a new, empty in-memory document store.
func New() *Store {
	return &Store{}
}

func key(collection, id string) string {
	return collection + "/" + id
}

// Get implements store.Backend.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	v, ok := s.docs.Load(key(collection, id))
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	e := v.(*entry)
	return store.Document{ID: id, Revision: e.rev, Data: clone(e.data)}, nil
}

// Create implements store.Backend.
func (s *Store) Create(ctx context.Context, collection, id string, data []byte) (int64, error) {
	if _, loaded := s.docs.LoadOrStore(key(collection, id), &entry{rev: 1, data: clone(data)}); loaded {
		return 0, store.ErrAlreadyExists
	}
	return 1, nil
}

// Update implements store.Backend.
func (s *Store) Update(ctx context.Context, collection, id string, expected int64, data []byte) (int64, error) {
	k := key(collection, id)
	v, ok := s.docs.Load(k)
	if !ok {
		return 0, store.ErrNotFound
	}
	current := v.(*entry)
	if current.rev != expected {
		return 0, store.ErrConflict
	}
	next := &entry{rev: current.rev + 1, data: clone(data)}
	if !s.docs.CompareAndSwap(k, current, next) {
		return 0, store.ErrConflict
	}
	return next.rev, nil
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, collection, id string, expected int64) error {
	k := key(collection, id)
	v, ok := s.docs.Load(k)
	if !ok {
		return store.ErrNotFound
	}
	current := v.(*entry)
	if current.rev != expected || !s.docs.CompareAndDelete(k, current) {
		return store.ErrConflict
	}
	return nil
}

// List implements store.Backend.
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	prefix := collection + "/"
	var docs []store.Document
	s.docs.Range(func(k, v any) bool {
		name := k.(string)
		if strings.HasPrefix(name, prefix) {
			e := v.(*entry)
			docs = append(docs, store.Document{ID: strings.TrimPrefix(name, prefix), Revision: e.rev, Data: clone(e.data)})
		}
		return true
	})
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// Close implements store.Backend.
func (s *Store) Close() error { return nil }

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
