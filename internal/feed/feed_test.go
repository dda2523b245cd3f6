// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package feed

import (
	"context"
	"errors"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/metrics"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReconciler struct {
	calls []Event
	users []identity.User
	auto  []bool
	err   error
}

func (r *recordingReconciler) ReconcileWorkflows(ctx context.Context, id string, reports []reconcile.Report, autoComplete bool) (*model.RelVal, error) {
	if r.err != nil {
		return nil, r.err
	}
	u, _ := identity.FromContext(ctx)
	r.calls = append(r.calls, Event{RelVal: id, Workflows: reports})
	r.users = append(r.users, u)
	r.auto = append(r.auto, autoComplete)
	return &model.RelVal{ID: id, Status: model.StatusSubmitted}, nil
}

func TestDecode(t *testing.T) {
	want := Event{
		RelVal:    "R1",
		Workflows: []reconcile.Report{{Name: "wf-1", Completion: 0.5, OutputDatasets: []string{"/A/B/C"}}},
	}
	payloads := map[string]any{
		"map": map[string]any{
			"relval": "R1",
			"workflows": []any{
				map[string]any{"name": "wf-1", "completion": 0.5, "output_datasets": []any{"/A/B/C"}},
			},
		},
		"string": `{"relval":"R1","workflows":[{"name":"wf-1","completion":0.5,"output_datasets":["/A/B/C"]}]}`,
		"bytes":  []byte(`{"relval":"R1","workflows":[{"name":"wf-1","completion":0.5,"output_datasets":["/A/B/C"]}]}`),
	}
	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			got, err := Decode(payload)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	for name, payload := range map[string]any{
		"nil":       nil,
		"not json":  "{",
		"no relval": map[string]any{"workflows": []any{}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(payload)
			assert.ErrorIs(t, err, ErrBadEvent)
		})
	}
}

func TestHandle(t *testing.T) {
	rec := &recordingReconciler{}
	m := metrics.New()
	l := NewListener(Config{AutoComplete: true}, rec, "feedbot", m)

	err := l.Handle(context.Background(), `{"relval":"R1","workflows":[{"name":"wf-1","completion":1}]}`)
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "R1", rec.calls[0].RelVal)
	assert.Equal(t, "feedbot", rec.users[0].Login)
	assert.True(t, rec.users[0].Has(identity.RoleAdministrator))
	assert.True(t, rec.auto[0])
	assert.Equal(t, 1.0, prom.ToFloat64(m.FeedEvents.WithLabelValues(metrics.ResultOK)))

	rec.err = errors.New("store down")
	err = l.Handle(context.Background(), `{"relval":"R1"}`)
	assert.ErrorContains(t, err, "store down")
	assert.Equal(t, 1.0, prom.ToFloat64(m.FeedEvents.WithLabelValues(metrics.ResultError)))
}

func TestNewListener_Defaults(t *testing.T) {
	l := NewListener(Config{}, &recordingReconciler{}, "bot", nil)
	assert.Equal(t, DefaultEvent, l.cfg.Event)
	assert.Equal(t, "/", l.cfg.Namespace)
	assert.Equal(t, 64, l.cfg.Buffer)
}
