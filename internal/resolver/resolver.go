// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package resolver turns a partially specified step into a fully populated
// one by filling the gaps from a catalog snapshot.
//
// Precedence, highest first: fields set on the partial step, fields of the
// named template, campaign-wide defaults. The input of a step is taken as a
// whole from the highest layer that sets any part of it; a step without any
// input chains from its predecessor when there is one.
//
// Everything here is a pure function of its arguments. Callers that resolve
// several steps of the same RelVal must pass the same snapshot to every call.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/registry"
)

// Resolve fills partial from the catalog and validates its input against
// prior, the already resolved predecessor in the same chain (nil for the
// first step).
func Resolve(partial model.Step, prior *model.Step, catalog *registry.Catalog, campaign string) (model.Step, error) {
	base, err := Template(catalog, campaign, partial.Template)
	if err != nil {
		var re *ResolutionError
		if errors.As(err, &re) && re.Step == "" {
			re.Step = partial.Name
		}
		return model.Step{}, err
	}
	step := overlay(base, partial)

	if step.Input.IsZero() && prior != nil {
		step.Input.Chain = true
	}
	if err := Check(step, prior != nil); err != nil {
		var re *ResolutionError
		if errors.As(err, &re) {
			re.Campaign = campaign
			re.Template = partial.Template
		}
		return model.Step{}, err
	}
	return step, nil
}

// Check validates an already resolved step without consulting a catalog.
// hasPrior tells whether the step has a predecessor it may chain from.
func Check(step model.Step, hasPrior bool) error {
	fail := func(kind error, detail string) error {
		return &ResolutionError{
			Template: step.Template,
			Step:     step.Name,
			Detail:   detail,
			Err:      kind,
		}
	}

	if step.Name == "" {
		return fail(ErrIncomplete, "a step needs a name or a template")
	}

	switch {
	case step.Input.Explicit() && step.Input.Chain:
		return fail(ErrAmbiguousInput, "an explicit input cannot be combined with chaining")
	case step.Input.Dataset != "" && step.Input.Fragment != "":
		return fail(ErrAmbiguousInput, "a step reads either a dataset or a fragment")
	case step.Input.Explicit():
	case !hasPrior && step.Input.Chain:
		return fail(ErrMissingInput, "the first step has no predecessor to chain from")
	case !hasPrior:
		return fail(ErrMissingInput, "the first step needs an input dataset or a generator fragment")
	case !step.Input.Chain:
		return fail(ErrMissingInput, "the step neither names an input nor chains from its predecessor")
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"release", step.Release},
		{"scram_arch", step.ScramArch},
		{"global_tag", step.GlobalTag},
		{"sequence", step.Sequence},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fail(ErrIncomplete, "missing "+strings.Join(missing, ", "))
	}
	return nil
}

// Template returns the named template of campaign with campaign defaults
// applied and no input validation. An empty template name yields a step that
// carries only the campaign defaults.
func Template(catalog *registry.Catalog, campaign, template string) (model.Step, error) {
	cp, ok := catalog.Campaign(campaign)
	if !ok {
		return model.Step{}, &ResolutionError{
			Campaign: campaign,
			Template: template,
			Detail:   fmt.Sprintf("campaign %q is not in the catalog", campaign),
			Err:      ErrUnknownTemplate,
		}
	}

	var step model.Step
	if template != "" {
		tmpl, ok := cp.Template(template)
		if !ok {
			return model.Step{}, &ResolutionError{
				Campaign: campaign,
				Template: template,
				Detail:   fmt.Sprintf("campaign %q has no template %q", campaign, template),
				Err:      ErrUnknownTemplate,
			}
		}
		step = tmpl
	}

	fill(&step.Release, cp.Release)
	fill(&step.ScramArch, cp.ScramArch)
	fill(&step.GlobalTag, cp.GlobalTag)
	fill(&step.Era, cp.Era)
	return step, nil
}

// overlay returns base with every non-zero field of top applied.
func overlay(base, top model.Step) model.Step {
	out := base
	set(&out.Name, top.Name)
	set(&out.Template, top.Template)
	if !top.Input.IsZero() {
		out.Input = top.Input
	}
	set(&out.GlobalTag, top.GlobalTag)
	set(&out.Sequence, top.Sequence)
	set(&out.Era, top.Era)
	set(&out.Datatier, top.Datatier)
	set(&out.EventContent, top.EventContent)
	set(&out.ScramArch, top.ScramArch)
	set(&out.Release, top.Release)
	set(&out.Arguments, top.Arguments)
	if top.Events != 0 {
		out.Events = top.Events
	}
	return out
}

func set(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
