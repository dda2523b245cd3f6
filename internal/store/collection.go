// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Collection gives typed access to one collection of a Backend.
type Collection[T any, P interface {
	*T
	Entity
}] struct {
	backend Backend
	name    string
	renames Renames
}

// NewCollection binds a collection name and its search renames to a backend.
func NewCollection[T any, P interface {
	*T
	Entity
}](backend Backend, name string, renames Renames) *Collection[T, P] {
	return &Collection[T, P]{backend: backend, name: name, renames: renames}
}

// Name returns the collection name.
func (c *Collection[T, P]) Name() string { return c.name }

// Load fetches and decodes an entity.
func (c *Collection[T, P]) Load(ctx context.Context, id string) (P, error) {
	doc, err := c.backend.Get(ctx, c.name, id)
	if err != nil {
		return nil, fmt.Errorf("%s %q: %w", c.name, id, err)
	}
	return c.decode(doc)
}

// Create stores a new entity and sets its revision.
func (c *Collection[T, P]) Create(ctx context.Context, e P) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s %q: %w", c.name, e.DocumentID(), err)
	}
	rev, err := c.backend.Create(ctx, c.name, e.DocumentID(), data)
	if err != nil {
		return fmt.Errorf("%s %q: %w", c.name, e.DocumentID(), err)
	}
	e.SetDocumentRevision(rev)
	return nil
}

// Save writes e back if nobody changed it since it was loaded, and advances
// its revision.
func (c *Collection[T, P]) Save(ctx context.Context, e P) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s %q: %w", c.name, e.DocumentID(), err)
	}
	rev, err := c.backend.Update(ctx, c.name, e.DocumentID(), e.DocumentRevision(), data)
	if err != nil {
		return fmt.Errorf("%s %q: %w", c.name, e.DocumentID(), err)
	}
	e.SetDocumentRevision(rev)
	return nil
}

// Delete removes e if nobody changed it since it was loaded.
func (c *Collection[T, P]) Delete(ctx context.Context, e P) error {
	if err := c.backend.Delete(ctx, c.name, e.DocumentID(), e.DocumentRevision()); err != nil {
		return fmt.Errorf("%s %q: %w", c.name, e.DocumentID(), err)
	}
	return nil
}

// Query returns one page of the entities matching q and the total number of
// matches.
func (c *Collection[T, P]) Query(ctx context.Context, q Query) ([]P, int, error) {
	docs, err := c.backend.List(ctx, c.name)
	if err != nil {
		return nil, 0, fmt.Errorf("listing %s: %w", c.name, err)
	}
	matcher, err := q.compile(c.renames)
	if err != nil {
		return nil, 0, err
	}

	var hits []hit
	for _, doc := range docs {
		var tree any
		if err := json.Unmarshal(doc.Data, &tree); err != nil {
			return nil, 0, fmt.Errorf("decoding %s %q: %w", c.name, doc.ID, err)
		}
		if matcher.match(tree) {
			hits = append(hits, hit{doc: doc, tree: tree})
		}
	}
	matcher.sort(hits)

	total := len(hits)
	page := matcher.page(hits)
	out := make([]P, 0, len(page))
	for _, h := range page {
		e, err := c.decode(h.doc)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, nil
}

// Distinct returns up to limit distinct values of the logical field that
// contain substr, ignoring case, in ascending order. A limit of zero or less
// returns every value.
func (c *Collection[T, P]) Distinct(ctx context.Context, field, substr string, limit int) ([]string, error) {
	docs, err := c.backend.List(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c.name, err)
	}
	path := c.renames.Resolve(field).Path
	needle := strings.ToLower(substr)

	seen := make(map[string]struct{})
	for _, doc := range docs {
		var tree any
		if err := json.Unmarshal(doc.Data, &tree); err != nil {
			return nil, fmt.Errorf("decoding %s %q: %w", c.name, doc.ID, err)
		}
		for _, v := range lookup(tree, path) {
			s, ok := scalarString(v)
			if !ok || s == "" || !strings.Contains(strings.ToLower(s), needle) {
				continue
			}
			seen[s] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *Collection[T, P]) decode(doc Document) (P, error) {
	e := P(new(T))
	if err := json.Unmarshal(doc.Data, e); err != nil {
		return nil, fmt.Errorf("decoding %s %q: %w", c.name, doc.ID, err)
	}
	e.SetDocumentRevision(doc.Revision)
	return e, nil
}
