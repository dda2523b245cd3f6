// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package service

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/relvalgo/internal/generator"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/inmemorystore"
	"github.com/specialistvlad/relvalgo/internal/lifecycle"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/naming"
	"github.com/specialistvlad/relvalgo/internal/reconcile"
	"github.com/specialistvlad/relvalgo/internal/resolver"
	"github.com/specialistvlad/relvalgo/internal/store"
	fixtures "github.com/specialistvlad/relvalgo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTicket(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)

	in := fixtures.Ticket("TICKET-1")
	in.CreatedRelVals = []string{"forged"}
	out, err := s.CreateTicket(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, model.TicketNew, out.Status)
	assert.Empty(t, out.CreatedRelVals)
	assert.Equal(t, []model.HistoryEntry{{User: "alice", Time: fixedNow, Action: model.ActionCreate}}, out.History)
	assert.Equal(t, int64(1), out.Revision)

	_, err = s.CreateTicket(ctx, fixtures.Ticket("TICKET-1"))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestCreateTicket_Validation(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)

	tests := map[string]func(tk *model.Ticket){
		"empty id":         func(tk *model.Ticket) { tk.ID = "" },
		"unsafe id":        func(tk *model.Ticket) { tk.ID = "TICKET 1/x" },
		"unknown campaign": func(tk *model.Ticket) { tk.Campaign = "1999_Nope" },
		"no samples":       func(tk *model.Ticket) { tk.Samples = nil },
		"keyless sample":   func(tk *model.Ticket) { tk.Samples[0].Input = "" },
		"stepless sample":  func(tk *model.Ticket) { tk.Samples[0].Steps = nil },
		"duplicate sample": func(tk *model.Ticket) { tk.Samples = append(tk.Samples, tk.Samples[0]) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			tk := fixtures.Ticket("TICKET-1")
			mutate(tk)
			_, err := s.CreateTicket(ctx, tk)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCreateTicket_NeedsManager(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleUser)
	_, err := s.CreateTicket(ctx, fixtures.Ticket("TICKET-1"))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGenerateRelVals_Scenario(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	r := generatedRelVal(t, s, ctx)

	require.Len(t, r.Steps, 2)
	assert.Equal(t, model.StepInput{Dataset: "DatasetA"}, r.Steps[0].Input)
	assert.Equal(t, model.StepInput{Chain: true}, r.Steps[1].Input)
	assert.Equal(t, model.StatusNew, r.Status)
	assert.Equal(t, "TICKET-1", r.Ticket)
	assert.Equal(t, "alice", model.CreatedBy(r.History))

	tk, err := s.GetTicket(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Equal(t, []string{r.ID}, tk.CreatedRelVals)
	assert.Equal(t, model.TicketDone, tk.Status)
	assert.Equal(t, model.ActionGenerate, tk.History[len(tk.History)-1].Action)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.RelValsGenerated))
}

func TestGenerateRelVals_Idempotent(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	generatedRelVal(t, s, ctx)

	again, err := s.GenerateRelVals(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Empty(t, again)

	all, total, err := s.QueryRelVals(ctx, store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, all, 1)
}

func TestGenerateRelVals_ConcurrentCallsCreateOnce(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	_, err := s.CreateTicket(ctx, fixtures.Ticket("TICKET-1"))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			relvals, err := s.GenerateRelVals(ctx, "TICKET-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			created += len(relvals)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	tk, err := s.GetTicket(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Len(t, tk.CreatedRelVals, 1)
}

func TestGenerateRelVals_AllOrNothingOnResolutionFailure(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	tk := fixtures.Ticket("TICKET-1")
	tk.Samples = append(tk.Samples, model.Sample{Input: "DatasetB", Steps: fixtures.Steps("GEN-SIM", "NOPE")})
	_, err := s.CreateTicket(ctx, tk)
	require.NoError(t, err)

	_, err = s.GenerateRelVals(ctx, "TICKET-1")
	var genErr *generator.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "DatasetB", genErr.Sample)
	assert.Equal(t, 2, genErr.StepIndex)
	assert.ErrorIs(t, err, resolver.ErrUnknownTemplate)

	_, total, err := s.QueryRelVals(ctx, store.Query{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGenerateRelVals_CompensatesWhenTicketSaveFails(t *testing.T) {
	backend := &faultyBackend{
		Backend:    inmemorystore.New(),
		collection: TicketCollection,
		updateErrs: []error{errBoom},
	}
	s, ctx := newTestServiceWith(t, backend, identity.RoleManager)
	tk := fixtures.Ticket("TICKET-1")
	tk.Samples = append(tk.Samples, model.Sample{Input: "DatasetB", Steps: fixtures.Steps("GEN-SIM")})
	_, err := s.CreateTicket(ctx, tk)
	require.NoError(t, err)

	_, err = s.GenerateRelVals(ctx, "TICKET-1")
	require.ErrorIs(t, err, errBoom)

	_, total, err := s.QueryRelVals(ctx, store.Query{})
	require.NoError(t, err)
	assert.Zero(t, total, "created relvals are rolled back")

	stored, err := s.GetTicket(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Empty(t, stored.CreatedRelVals)

	relvals, err := s.GenerateRelVals(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Len(t, relvals, 2)
}

func TestGenerateRelVals_CompensatesWhenCreateFails(t *testing.T) {
	backend := &faultyBackend{
		Backend:     inmemorystore.New(),
		collection:  RelValCollection,
		createErr:   errBoom,
		createErrAt: 2,
	}
	s, ctx := newTestServiceWith(t, backend, identity.RoleManager)
	tk := fixtures.Ticket("TICKET-1")
	tk.Samples = append(tk.Samples, model.Sample{Input: "DatasetB", Steps: fixtures.Steps("GEN-SIM")})
	_, err := s.CreateTicket(ctx, tk)
	require.NoError(t, err)

	_, err = s.GenerateRelVals(ctx, "TICKET-1")
	require.ErrorIs(t, err, errBoom)

	_, total, err := s.QueryRelVals(ctx, store.Query{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestGenerateRelVals_RetriesConflicts(t *testing.T) {
	backend := &faultyBackend{
		Backend:    inmemorystore.New(),
		collection: TicketCollection,
		updateErrs: []error{store.ErrConflict, store.ErrConflict},
	}
	s, ctx := newTestServiceWith(t, backend, identity.RoleManager)
	r := generatedRelVal(t, s, ctx)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, int32(3), backend.updateCalls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.ConflictRetries.WithLabelValues("generate")))
}

func TestUpdateTicket(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	generatedRelVal(t, s, ctx)

	out, err := s.UpdateTicket(ctx, "TICKET-1", patchOf(t, map[string]any{"notes": "hello"}))
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Notes)

	_, err = s.UpdateTicket(ctx, "TICKET-1", patchOf(t, map[string]any{"campaign": "Other"}))
	assert.ErrorIs(t, err, lifecycle.ErrHasGeneratedRelVals)

	_, err = s.UpdateTicket(ctx, "TICKET-1", patchOf(t, map[string]any{"samples": []model.Sample{
		{Input: "DatasetA", Steps: fixtures.Steps("GEN-SIM")},
	}}))
	assert.ErrorIs(t, err, lifecycle.ErrHasGeneratedRelVals, "a generated sample cannot change")

	_, err = s.UpdateTicket(ctx, "TICKET-1", patchOf(t, map[string]any{"samples": []model.Sample{
		{Input: "DatasetB", Steps: fixtures.Steps("GEN-SIM")},
	}}))
	assert.ErrorIs(t, err, lifecycle.ErrHasGeneratedRelVals, "a generated sample cannot disappear")

	var fe *lifecycle.FieldError
	_, err = s.UpdateTicket(ctx, "TICKET-1", patchOf(t, map[string]any{"created_relvals": []string{}}))
	assert.ErrorAs(t, err, &fe)

	out, err = s.UpdateTicket(ctx, "TICKET-1", patchOf(t, map[string]any{"samples": []model.Sample{
		{Input: "DatasetA", Steps: fixtures.Steps("GEN-SIM", "DIGI")},
		{Input: "DatasetB", Steps: fixtures.Steps("GEN-SIM")},
	}}))
	require.NoError(t, err)
	assert.Equal(t, model.TicketNew, out.Status, "a new sample reopens the ticket")

	relvals, err := s.GenerateRelVals(ctx, "TICKET-1")
	require.NoError(t, err)
	require.Len(t, relvals, 1)
	assert.Equal(t, naming.RelValID("TICKET-1", "DatasetB"), relvals[0].ID)
}

func TestGetEditableTicket(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	_, err := s.CreateTicket(ctx, fixtures.Ticket("TICKET-1"))
	require.NoError(t, err)

	_, fields, err := s.GetEditableTicket(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.True(t, fields["campaign"])
	assert.False(t, fields["created_relvals"])

	_, err = s.GenerateRelVals(ctx, "TICKET-1")
	require.NoError(t, err)
	_, fields, err = s.GetEditableTicket(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.False(t, fields["campaign"])
}

func TestDeleteTicket(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	_, err := s.CreateTicket(ctx, fixtures.Ticket("EMPTY"))
	require.NoError(t, err)
	require.NoError(t, s.DeleteTicket(ctx, "EMPTY"))
	_, err = s.GetTicket(ctx, "EMPTY")
	assert.ErrorIs(t, err, store.ErrNotFound)

	generatedRelVal(t, s, ctx)
	err = s.DeleteTicket(ctx, "TICKET-1")
	var pe *lifecycle.PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, lifecycle.ErrHasGeneratedRelVals)
}

func TestTicketWorkflowsAndScript(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleAdministrator)
	r := generatedRelVal(t, s, ctx)

	_, err := s.ReconcileWorkflows(ctx, r.ID, []reconcile.Report{{Name: "wf-1", Completion: 0.5}}, false)
	require.NoError(t, err)

	wfs, err := s.TicketWorkflows(ctx, "TICKET-1")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, r.ID, wfs[0].RelVal)
	require.Len(t, wfs[0].Workflows, 1)
	assert.Equal(t, "wf-1", wfs[0].Workflows[0].Name)

	script, err := s.TicketScript(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Contains(t, script, "# "+r.ID)
	assert.Contains(t, script, "cmsDriver.py GEN-SIM")
	assert.Contains(t, script, "cmsDriver.py DIGI")
}

func TestQueryTickets(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	for _, id := range []string{"A-1", "A-2", "B-1"} {
		_, err := s.CreateTicket(ctx, fixtures.Ticket(id))
		require.NoError(t, err)
	}

	got, total, err := s.QueryTickets(as(ctx, "bob", identity.RoleUser), store.Query{Filters: map[string]string{"id": "A-*"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 2)
	assert.Equal(t, "A-1", got[0].ID)

	_, total, err = s.QueryTickets(ctx, store.Query{Filters: map[string]string{"created_by": "alice"}})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestGenerateRelVals_AdoptsLeftoverOfSameSample(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	_, err := s.CreateTicket(ctx, fixtures.Ticket("TICKET-1"))
	require.NoError(t, err)

	id := naming.RelValID("TICKET-1", "DatasetA")
	leftover := &model.RelVal{
		ID:        id,
		Ticket:    "TICKET-1",
		SampleKey: "DatasetA",
		Steps:     []model.Step{{Name: "GEN-SIM"}},
		Status:    model.StatusNew,
	}
	require.NoError(t, s.relvals.Create(ctx, leftover))

	created, err := s.GenerateRelVals(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Empty(t, created)

	tk, err := s.GetTicket(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, tk.CreatedRelVals)
	assert.Equal(t, model.TicketDone, tk.Status)
}

func TestGenerateRelVals_RejectsForeignRelValAtDerivedID(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	id := naming.RelValID("TICKET-1", "DatasetA")
	_, err := s.CreateRelVal(ctx, &model.RelVal{
		ID:       id,
		Campaign: fixtures.Campaign,
		Steps: []model.Step{
			{Template: "GEN-SIM", Input: model.StepInput{Dataset: "/Other/Data/SET"}},
		},
	})
	require.NoError(t, err)
	_, err = s.CreateTicket(ctx, fixtures.Ticket("TICKET-1"))
	require.NoError(t, err)

	created, err := s.GenerateRelVals(ctx, "TICKET-1")
	assert.Nil(t, created)
	var genErr *generator.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, generator.ErrRelValTaken)
	assert.Equal(t, "DatasetA", genErr.Sample)
	assert.Equal(t, 0, genErr.SampleIndex)

	tk, err := s.GetTicket(ctx, "TICKET-1")
	require.NoError(t, err)
	assert.Empty(t, tk.CreatedRelVals)
	assert.Equal(t, model.TicketNew, tk.Status)

	foreign, err := s.GetRelVal(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, foreign.Ticket, "the manual relval is left alone")
}

func TestCompensate_WaitsForRelValLock(t *testing.T) {
	s, ctx := newTestService(t, identity.RoleManager)
	r := generatedRelVal(t, s, ctx)

	unlock, err := s.locks.Lock(ctx, relvalKey(r.ID))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.compensate(ctx, []*model.RelVal{r})
	}()

	select {
	case <-done:
		t.Fatal("rollback ran while the relval was locked")
	case <-time.After(50 * time.Millisecond):
	}
	_, err = s.GetRelVal(ctx, r.ID)
	require.NoError(t, err)

	unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rollback did not finish after unlock")
	}
	_, err = s.GetRelVal(ctx, r.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
