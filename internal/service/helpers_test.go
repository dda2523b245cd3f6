// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/inmemorystore"
	"github.com/specialistvlad/relvalgo/internal/lifecycle"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/naming"
	"github.com/specialistvlad/relvalgo/internal/store"
	"github.com/specialistvlad/relvalgo/internal/submission"
	"github.com/specialistvlad/relvalgo/internal/testutil"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestService returns a service over an in-memory store and a context
// acting as the given role.
func newTestService(t *testing.T, role identity.Role, opts ...Option) (*Service, context.Context) {
	t.Helper()
	return newTestServiceWith(t, inmemorystore.New(), role, opts...)
}

func newTestServiceWith(t *testing.T, backend store.Backend, role identity.Role, opts ...Option) (*Service, context.Context) {
	t.Helper()
	ctx, _ := testutil.Context(t)
	ctx = identity.WithUser(ctx, identity.NewUser("alice", role))
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRetryInterval(time.Millisecond),
	}
	return New(backend, testutil.Registry(t), append(base, opts...)...), ctx
}

func as(ctx context.Context, login string, role identity.Role) context.Context {
	return identity.WithUser(ctx, identity.NewUser(login, role))
}

func patchOf(t *testing.T, fields map[string]any) lifecycle.Patch {
	t.Helper()
	p := make(lifecycle.Patch, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		p[k] = raw
	}
	return p
}

// generatedRelVal creates TICKET-1 and generates its single RelVal.
func generatedRelVal(t *testing.T, s *Service, ctx context.Context) *model.RelVal {
	t.Helper()
	_, err := s.CreateTicket(ctx, testutil.Ticket("TICKET-1"))
	require.NoError(t, err)
	relvals, err := s.GenerateRelVals(ctx, "TICKET-1")
	require.NoError(t, err)
	require.Len(t, relvals, 1)
	require.Equal(t, naming.RelValID("TICKET-1", "DatasetA"), relvals[0].ID)
	return relvals[0]
}

// faultyBackend injects errors into the writes of one collection.
type faultyBackend struct {
	store.Backend
	collection string

	mu          sync.Mutex
	updateErrs  []error
	updateCalls atomic.Int32
	createErrAt int
	createCalls atomic.Int32
	createErr   error
}

func (f *faultyBackend) Update(ctx context.Context, collection, id string, expected int64, data []byte) (int64, error) {
	if collection == f.collection {
		f.updateCalls.Add(1)
		f.mu.Lock()
		if len(f.updateErrs) > 0 {
			err := f.updateErrs[0]
			f.updateErrs = f.updateErrs[1:]
			f.mu.Unlock()
			return 0, err
		}
		f.mu.Unlock()
	}
	return f.Backend.Update(ctx, collection, id, expected, data)
}

func (f *faultyBackend) Create(ctx context.Context, collection, id string, data []byte) (int64, error) {
	if collection == f.collection {
		n := int(f.createCalls.Add(1))
		if f.createErr != nil && n == f.createErrAt {
			return 0, f.createErr
		}
	}
	return f.Backend.Create(ctx, collection, id, data)
}

// stubSubmitter fails with err when set.
type stubSubmitter struct {
	err   error
	calls atomic.Int32
}

func (s *stubSubmitter) Submit(ctx context.Context, req submission.Request) (submission.Receipt, error) {
	s.calls.Add(1)
	if s.err != nil {
		return submission.Receipt{}, s.err
	}
	return submission.Receipt{Handle: "wf-handle-1", SubmittedAt: fixedNow}, nil
}

var errBoom = errors.New("boom")
