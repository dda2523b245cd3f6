// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package generator

import (
	"testing"

	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/naming"
	"github.com/specialistvlad/relvalgo/internal/resolver"
	"github.com/specialistvlad/relvalgo/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_SingleSampleChain(t *testing.T) {
	ticket := testutil.Ticket("TICKET-1")

	relvals, err := Generate(ticket, testutil.Catalog(t))
	require.NoError(t, err)
	require.Len(t, relvals, 1)

	r := relvals[0]
	assert.Equal(t, naming.RelValID("TICKET-1", "DatasetA"), r.ID)
	assert.Equal(t, "TICKET-1", r.Ticket)
	assert.Equal(t, "DatasetA", r.SampleKey)
	assert.Equal(t, model.StatusNew, r.Status)
	assert.Equal(t, 8, r.CPUCores)
	assert.Equal(t, 16000, r.MemoryMB)

	require.Len(t, r.Steps, 2)
	assert.Equal(t, model.StepInput{Dataset: "DatasetA"}, r.Steps[0].Input)
	assert.Equal(t, model.StepInput{Chain: true}, r.Steps[1].Input)
	assert.Equal(t, "GEN-SIM", r.Steps[0].Name)
	assert.Equal(t, "DIGI", r.Steps[1].Name)
	assert.Equal(t, "CMSSW_14_0_0", r.Steps[1].Release)
}

func TestGenerate_IdempotentPerSample(t *testing.T) {
	ticket := testutil.Ticket("TICKET-1")
	catalog := testutil.Catalog(t)

	first, err := Generate(ticket, catalog)
	require.NoError(t, err)
	for _, r := range first {
		ticket.CreatedRelVals = append(ticket.CreatedRelVals, r.ID)
	}

	second, err := Generate(ticket, catalog)
	require.NoError(t, err)
	assert.Empty(t, second, "already generated samples are skipped")

	ticket.Samples = append(ticket.Samples, model.Sample{Name: "ttbar", Fragment: "TTbar_cfi", Steps: testutil.Steps("GEN-SIM")})
	third, err := Generate(ticket, catalog)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, "ttbar", third[0].SampleKey)
	assert.Equal(t, "ttbar", third[0].Label)
	assert.NotContains(t, ticket.CreatedRelVals, third[0].ID)
}

func TestGenerate_StepsAreOwnedCopies(t *testing.T) {
	ticket := testutil.Ticket("T")
	ticket.Samples = append(ticket.Samples, model.Sample{Input: "DatasetB", Steps: testutil.Steps("GEN-SIM", "DIGI")})

	relvals, err := Generate(ticket, testutil.Catalog(t))
	require.NoError(t, err)
	require.Len(t, relvals, 2)

	relvals[0].Steps[1].GlobalTag = "mutated"
	assert.NotEqual(t, "mutated", relvals[1].Steps[1].GlobalTag)
}

func TestGenerate_SampleOverrides(t *testing.T) {
	ticket := testutil.Ticket("T")
	ticket.Samples[0].Events = 500
	ticket.Samples[0].Steps[1].Arguments = "--nThreads 2"

	relvals, err := Generate(ticket, testutil.Catalog(t))
	require.NoError(t, err)
	assert.Equal(t, 500, relvals[0].Steps[0].Events)
	assert.Equal(t, "--nThreads 2", relvals[0].Steps[1].Arguments)
}

func TestGenerate_FailsFastAllOrNothing(t *testing.T) {
	ticket := testutil.Ticket("T")
	ticket.Samples = append(ticket.Samples,
		model.Sample{Input: "DatasetB", Steps: testutil.Steps("GEN-SIM", "NOPE")},
		model.Sample{Input: "DatasetC", Steps: testutil.Steps("GEN-SIM")},
	)

	relvals, err := Generate(ticket, testutil.Catalog(t))
	require.Error(t, err)
	assert.Nil(t, relvals)

	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "DatasetB", ge.Sample)
	assert.Equal(t, 1, ge.SampleIndex)
	assert.Equal(t, 2, ge.StepIndex)
	assert.ErrorIs(t, err, resolver.ErrUnknownTemplate)
}

func TestGenerate_Errors(t *testing.T) {
	cases := map[string]struct {
		mutate func(*model.Ticket)
		want   error
	}{
		"no samples":       {func(tk *model.Ticket) { tk.Samples = nil }, ErrNoSamples},
		"unknown campaign": {func(tk *model.Ticket) { tk.Campaign = "1999" }, resolver.ErrUnknownTemplate},
		"empty key":        {func(tk *model.Ticket) { tk.Samples[0].Input = "" }, ErrNoSampleKey},
		"no steps":         {func(tk *model.Ticket) { tk.Samples[0].Steps = nil }, ErrNoSteps},
		"duplicate key": {func(tk *model.Ticket) {
			tk.Samples = append(tk.Samples, tk.Samples[0])
		}, ErrDuplicateSample},
		"first step without input": {func(tk *model.Ticket) {
			tk.Samples[0] = model.Sample{Name: "bare", Steps: testutil.Steps("DIGI")}
		}, resolver.ErrMissingInput},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ticket := testutil.Ticket("T")
			tc.mutate(ticket)
			_, err := Generate(ticket, testutil.Catalog(t))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
