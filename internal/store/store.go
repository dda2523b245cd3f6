// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package store defines the persistence contract for Tickets and RelVals.
//
// # Documents and revisions
//
// Every entity is stored as a JSON document in a named collection together
// with a revision number. The revision starts at 1 when the document is
// created and increases by one with every successful update. Updates and
// deletes carry the revision the caller loaded; a backend must refuse them
// with ErrConflict when the stored revision differs. That optimistic check is
// what lets the service layer run read-mutate-write cycles without holding
// a database lock, and retry the whole cycle when it loses a race.
//
// # Backends
//
// A Backend only moves opaque documents. Three implementations exist:
// inmemorystore for tests and single-process use, redisstore and sqlstore
// for shared deployments. Typed access goes through Collection, which
// handles JSON encoding, revision bookkeeping and querying.
package store

import (
	"context"
	"errors"
)

// Sentinel errors returned by every Backend.
var (
	// ErrNotFound means no document has the requested identifier.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the stored revision differs from the expected one.
	ErrConflict = errors.New("concurrent modification")
	// ErrAlreadyExists means a create hit an existing identifier.
	ErrAlreadyExists = errors.New("already exists")
)

// Document is one stored entity.
type Document struct {
	ID       string
	Revision int64
	Data     []byte
}

// Backend is the storage contract. Implementations MUST be safe for
// concurrent use.
type Backend interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Create stores a new document at revision 1. It returns
	// ErrAlreadyExists if the identifier is taken.
	Create(ctx context.Context, collection string, id string, data []byte) (int64, error)

	// Update replaces the document if its stored revision equals expected,
	// and returns the new revision. It returns ErrNotFound or ErrConflict.
	Update(ctx context.Context, collection string, id string, expected int64, data []byte) (int64, error)

	// Delete removes the document if its stored revision equals expected.
	Delete(ctx context.Context, collection, id string, expected int64) error

	// List returns every document of the collection ordered by identifier.
	List(ctx context.Context, collection string) ([]Document, error)

	// Close releases backend resources.
	Close() error
}

// Entity is implemented by the stored model types.
type Entity interface {
	DocumentID() string
	DocumentRevision() int64
	SetDocumentRevision(rev int64)
}
