// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package generator expands a Ticket's samples into RelVal definitions.
//
// Each sample becomes one RelVal whose identifier is derived from the ticket
// identifier and the sample key, so asking twice for the same sample always
// lands on the same identifier. Samples whose RelVal is already listed on the
// ticket are skipped. Generation is all-or-nothing: the first invalid sample
// aborts the run and nothing is returned.
package generator

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/naming"
	"github.com/specialistvlad/relvalgo/internal/registry"
	"github.com/specialistvlad/relvalgo/internal/resolver"
)

var (
	// ErrNoSampleKey is reported for a sample without name, input or fragment.
	ErrNoSampleKey = errors.New("sample has no name, input or fragment")
	// ErrDuplicateSample is reported when two samples share a key.
	ErrDuplicateSample = errors.New("duplicate sample")
	// ErrNoSteps is reported for a sample without steps.
	ErrNoSteps = errors.New("sample has no steps")
	// ErrNoSamples is reported for a ticket without samples.
	ErrNoSamples = errors.New("ticket has no samples")
	// ErrRelValTaken is reported when the derived identifier of a sample
	// already belongs to a RelVal of another origin.
	ErrRelValTaken = errors.New("relval identifier already taken")
)

// GenerationError identifies the sample and step (1-based; zero when the
// sample as a whole is at fault) that stopped generation.
type GenerationError struct {
	Ticket      string
	Sample      string
	SampleIndex int
	StepIndex   int
	Cause       error
}

func (e *GenerationError) Error() string {
	where := fmt.Sprintf("sample %d (%q)", e.SampleIndex+1, e.Sample)
	if e.StepIndex > 0 {
		where += fmt.Sprintf(", step %d", e.StepIndex)
	}
	return fmt.Sprintf("generating relvals for %s: %s: %v", e.Ticket, where, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// Generate returns the RelVals for every sample of t that has not been
// generated yet, in sample order. All steps are resolved against the single
// catalog snapshot passed in.
func Generate(t *model.Ticket, catalog *registry.Catalog) ([]*model.RelVal, error) {
	if len(t.Samples) == 0 {
		return nil, &GenerationError{Ticket: t.ID, SampleIndex: -1, Cause: ErrNoSamples}
	}
	cp, ok := catalog.Campaign(t.Campaign)
	if !ok {
		return nil, &GenerationError{Ticket: t.ID, SampleIndex: -1, Cause: &resolver.ResolutionError{
			Campaign: t.Campaign,
			Detail:   fmt.Sprintf("campaign %q is not in the catalog", t.Campaign),
			Err:      resolver.ErrUnknownTemplate,
		}}
	}

	seen := make(map[string]int, len(t.Samples))
	var out []*model.RelVal
	for i, sample := range t.Samples {
		key := sample.Key()
		fail := func(step int, cause error) ([]*model.RelVal, error) {
			return nil, &GenerationError{Ticket: t.ID, Sample: key, SampleIndex: i, StepIndex: step, Cause: cause}
		}
		if key == "" {
			return fail(0, ErrNoSampleKey)
		}
		if first, dup := seen[key]; dup {
			return fail(0, fmt.Errorf("%w: same key as sample %d", ErrDuplicateSample, first+1))
		}
		seen[key] = i

		id := naming.RelValID(t.ID, key)
		if t.HasRelVal(id) {
			continue
		}

		steps, stepIndex, err := ResolveSample(sample, catalog, t.Campaign)
		if err != nil {
			return fail(stepIndex, err)
		}

		out = append(out, &model.RelVal{
			ID:        id,
			Ticket:    t.ID,
			SampleKey: key,
			Campaign:  t.Campaign,
			Label:     sample.Name,
			Notes:     t.Notes,
			CPUCores:  cp.Resources.CPUCores,
			MemoryMB:  cp.Resources.MemoryMB,
			Steps:     steps,
			Status:    model.StatusNew,
			Workflows: []model.WorkflowRecord{},
		})
	}
	return out, nil
}

// ResolveSample resolves the step chain of one sample. On failure it also
// returns the 1-based index of the offending step (zero for the sample).
func ResolveSample(sample model.Sample, catalog *registry.Catalog, campaign string) ([]model.Step, int, error) {
	if len(sample.Steps) == 0 {
		return nil, 0, ErrNoSteps
	}
	steps := make([]model.Step, 0, len(sample.Steps))
	for j, declared := range sample.Steps {
		partial := declared.Step
		if j == 0 {
			if partial.Input.IsZero() {
				partial.Input = model.StepInput{Dataset: sample.Input, Fragment: sample.Fragment}
			}
			if partial.Events == 0 {
				partial.Events = sample.Events
			}
		}

		var prior *model.Step
		if j > 0 {
			prior = &steps[j-1]
		}
		resolved, err := resolver.Resolve(partial, prior, catalog, campaign)
		if err != nil {
			return nil, j + 1, err
		}
		steps = append(steps, resolved)
	}
	return steps, 0, nil
}
