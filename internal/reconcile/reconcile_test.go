// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package reconcile

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitted() *model.RelVal {
	return &model.RelVal{ID: "R", Status: model.StatusSubmitted}
}

func TestReconcile_UpdatesByName(t *testing.T) {
	r := Reconcile(submitted(), []Report{{Name: "wf-1", Completion: 0.5}})
	r = Reconcile(r, []Report{{Name: "wf-1", Completion: 1.0, OutputDatasets: []string{"/Out/Dataset"}}})

	require.Len(t, r.Workflows, 1)
	assert.Equal(t, model.WorkflowRecord{Name: "wf-1", Completion: 1.0, OutputDatasets: []string{"/Out/Dataset"}}, r.Workflows[0])
	assert.Equal(t, []string{"/Out/Dataset"}, r.OutputDatasets)
	assert.Equal(t, model.StatusSubmitted, r.Status, "status is left to the caller")
}

func TestReconcile_NeverRemovesOrOverwritesIdentity(t *testing.T) {
	r := Reconcile(submitted(), []Report{
		{Name: "wf-1", Type: "submitted", Completion: 0.2},
		{Name: "wf-2", Type: "submitted", Completion: 0.1, OutputDatasets: []string{"/A"}},
	})
	r = Reconcile(r, []Report{{Name: "wf-1", Type: "done", Completion: 0.1}})

	require.Len(t, r.Workflows, 2)
	assert.Equal(t, "submitted", r.Workflows[0].Type, "type is fixed at first report")
	assert.Equal(t, 0.2, r.Workflows[0].Completion, "completion never regresses")
	assert.Equal(t, []string{"/A"}, r.Workflows[1].OutputDatasets, "omitted outputs are kept")
}

func TestReconcile_IdempotentAndCommutative(t *testing.T) {
	a := []Report{{Name: "wf-a", Completion: 0.3, OutputDatasets: []string{"/A"}}}
	b := []Report{{Name: "wf-b", Completion: 0.9}}

	ab := Reconcile(Reconcile(submitted(), a), b)
	ba := Reconcile(Reconcile(submitted(), b), a)
	byName := cmpopts.SortSlices(func(x, y model.WorkflowRecord) bool { return x.Name < y.Name })
	if diff := cmp.Diff(ab.Workflows, ba.Workflows, byName); diff != "" {
		t.Errorf("order of reports matters (-ab +ba):\n%s", diff)
	}

	twice := Reconcile(ab, append(a, b...))
	if diff := cmp.Diff(ab.Workflows, twice.Workflows); diff != "" {
		t.Errorf("reconciling again changed the records (-once +twice):\n%s", diff)
	}
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	in := Reconcile(submitted(), []Report{{Name: "wf-1", Completion: 0.5, OutputDatasets: []string{"/X"}}})
	out := Reconcile(in, []Report{{Name: "wf-1", Completion: 0.8, OutputDatasets: []string{"/Y"}}})

	assert.Equal(t, 0.5, in.Workflows[0].Completion)
	assert.Equal(t, []string{"/X"}, in.Workflows[0].OutputDatasets)
	assert.Equal(t, []string{"/Y"}, out.Workflows[0].OutputDatasets)
}

func TestReconcile_ClampsAndSkipsUnnamed(t *testing.T) {
	r := Reconcile(submitted(), []Report{{Name: "", Completion: 1}, {Name: "wf", Completion: 7}})
	require.Len(t, r.Workflows, 1)
	assert.Equal(t, 1.0, r.Workflows[0].Completion)
}

func TestAllTerminal(t *testing.T) {
	r := submitted()
	assert.False(t, AllTerminal(r))

	r = Reconcile(r, []Report{{Name: "a", Completion: 1}, {Name: "b", Completion: 0.5}})
	assert.False(t, AllTerminal(r))

	r = Reconcile(r, []Report{{Name: "b", Type: model.WorkflowTypeDone}})
	assert.False(t, AllTerminal(r), "type is fixed at first report")

	r = Reconcile(r, []Report{{Name: "b", Completion: 1}})
	assert.True(t, AllTerminal(r))
}
