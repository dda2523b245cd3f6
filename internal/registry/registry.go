// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package registry

import (
	"context"
	"sync"
	"sync/atomic"
)

// Registry publishes the current catalog snapshot and reloads it on demand.
type Registry struct {
	path    string
	current atomic.Pointer[Catalog]

	// reloadMu serializes loads so generations stay monotonic.
	reloadMu sync.Mutex
}

// New creates a Registry reading catalog files from path. Nothing is loaded
// until Reload is called.
func New(path string) *Registry {
	r := &Registry{path: path}
	r.current.Store(NewCatalog())
	return r
}

// NewStatic creates a Registry serving a fixed catalog.
func NewStatic(c *Catalog) *Registry {
	r := &Registry{}
	r.current.Store(c)
	return r
}

// Snapshot returns the current catalog. The returned value must be treated
// as read-only.
func (r *Registry) Snapshot() *Catalog {
	return r.current.Load()
}

// Path returns the catalog location the registry reloads from.
func (r *Registry) Path() string {
	return r.path
}

// Reload parses the catalog files again and publishes the result. On error
// the previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) (*Catalog, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	next, err := LoadCatalog(ctx, r.path)
	if err != nil {
		return nil, err
	}
	next.Generation = r.current.Load().Generation + 1
	r.current.Store(next)
	return next, nil
}
