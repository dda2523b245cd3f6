// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the artifacts derived from a RelVal's steps: the driver
// command and the per-step job dictionary, plus the cache that pins both to
// the content hash they were built from.
package model

// CommandSeparator is the token placed between two driver sub-commands when
// a Command is flattened.
const CommandSeparator = "&&"

// Command is the ordered list of driver sub-commands, one per Step.
type Command struct {
	Steps [][]string `json:"steps"`
}

// Tokens flattens the command into a single argument list, separating
// sub-commands with CommandSeparator.
func (c Command) Tokens() []string {
	var out []string
	for i, sub := range c.Steps {
		if i > 0 {
			out = append(out, CommandSeparator)
		}
		out = append(out, sub...)
	}
	return out
}

// Clone returns a deep copy of c.
func (c Command) Clone() Command {
	if c.Steps == nil {
		return Command{}
	}
	steps := make([][]string, len(c.Steps))
	for i, sub := range c.Steps {
		steps[i] = append([]string(nil), sub...)
	}
	return Command{Steps: steps}
}

// JobStep is the structured description of one step as the submission
// system consumes it.
type JobStep struct {
	TaskName   string `json:"task_name" yaml:"task_name"`
	StepName   string `json:"step_name" yaml:"step_name"`
	ConfigName string `json:"config_name" yaml:"config_name"`

	Release      string `json:"release" yaml:"release"`
	ScramArch    string `json:"scram_arch" yaml:"scram_arch"`
	GlobalTag    string `json:"global_tag" yaml:"global_tag"`
	Sequence     string `json:"sequence" yaml:"sequence"`
	Era          string `json:"era,omitempty" yaml:"era,omitempty"`
	Datatier     string `json:"datatier,omitempty" yaml:"datatier,omitempty"`
	EventContent string `json:"event_content,omitempty" yaml:"event_content,omitempty"`
	Events       int    `json:"events,omitempty" yaml:"events,omitempty"`

	InputDataset          string `json:"input_dataset,omitempty" yaml:"input_dataset,omitempty"`
	Fragment              string `json:"fragment,omitempty" yaml:"fragment,omitempty"`
	InputTask             string `json:"input_task,omitempty" yaml:"input_task,omitempty"`
	InputFromOutputModule string `json:"input_from_output_module,omitempty" yaml:"input_from_output_module,omitempty"`

	OutputFile   string `json:"output_file" yaml:"output_file"`
	OutputModule string `json:"output_module" yaml:"output_module"`

	Multicore int `json:"multicore,omitempty" yaml:"multicore,omitempty"`
	Memory    int `json:"memory,omitempty" yaml:"memory,omitempty"`
}

// JobDict maps a 1-based step index to its job description.
type JobDict map[int]JobStep

// Clone returns a copy of d. JobStep holds only values.
func (d JobDict) Clone() JobDict {
	if d == nil {
		return nil
	}
	out := make(JobDict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// CommandCache holds the artifacts built at approval time together with the
// content hash of the inputs they were built from.
type CommandCache struct {
	Hash    string  `json:"hash"`
	Command Command `json:"command"`
	JobDict JobDict `json:"job_dict"`
}

// Clone returns a deep copy of c, or nil.
func (c *CommandCache) Clone() *CommandCache {
	if c == nil {
		return nil
	}
	return &CommandCache{
		Hash:    c.Hash,
		Command: c.Command.Clone(),
		JobDict: c.JobDict.Clone(),
	}
}
