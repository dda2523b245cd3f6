// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Step structure, the atomic unit of a RelVal's
// processing chain.
//
// A Step is deliberately flat. Every field that ends up on the driver command
// line is a plain value so that two Steps can be compared, hashed and copied
// without knowing anything about the catalog they were resolved against. The
// Template name is kept only as provenance: after resolution the Step is
// self-contained.
package model

// StepInput describes where a Step reads its events from. Exactly one of the
// three forms is expected on a resolved step.
type StepInput struct {
	// Dataset is an explicit input dataset name.
	Dataset string `json:"dataset,omitempty"`
	// Fragment is a generator fragment for steps that produce events.
	Fragment string `json:"fragment,omitempty"`
	// Chain marks a step that reads the output of the step right before it.
	Chain bool `json:"chain,omitempty"`
}

// Explicit reports whether the input names a dataset or a fragment.
func (in StepInput) Explicit() bool {
	return in.Dataset != "" || in.Fragment != ""
}

// IsZero reports whether no input form was given at all.
func (in StepInput) IsZero() bool {
	return !in.Explicit() && !in.Chain
}

// Step is one processing stage of a RelVal.
type Step struct {
	Name     string    `json:"name"`
	Template string    `json:"template,omitempty"`
	Input    StepInput `json:"input"`

	// Conditions and processing
	GlobalTag    string `json:"global_tag,omitempty"`
	Sequence     string `json:"sequence,omitempty"`
	Era          string `json:"era,omitempty"`
	Datatier     string `json:"datatier,omitempty"`
	EventContent string `json:"event_content,omitempty"`

	// Software environment
	ScramArch string `json:"scram_arch,omitempty"`
	Release   string `json:"release,omitempty"`

	Events int `json:"events,omitempty"`

	// Arguments is a free-form command-line fragment appended to the
	// driver command as-is (after shell word splitting).
	Arguments string `json:"arguments,omitempty"`
}

// CloneSteps returns a copy of steps. Step has no reference fields, so a
// slice copy is a deep copy.
func CloneSteps(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return out
}
