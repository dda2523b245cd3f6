// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package cmsdriver

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/kballard/go-shellquote"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/resolver"
)

// Executable is the driver program every sub-command invokes.
const Executable = "cmsDriver.py"

// ErrNoSteps is reported for a RelVal without any step.
var ErrNoSteps = errors.New("relval has no steps")

// BuildError reports the step that prevented the command from being built.
// StepIndex is 1-based; zero means the RelVal as a whole.
type BuildError struct {
	RelVal    string
	StepIndex int
	Step      string
	Cause     error
}

func (e *BuildError) Error() string {
	if e.StepIndex == 0 {
		return fmt.Sprintf("building command for %s: %v", e.RelVal, e.Cause)
	}
	return fmt.Sprintf("building command for %s, step %d (%s): %v", e.RelVal, e.StepIndex, e.Step, e.Cause)
}

func (e *BuildError) Unwrap() error { return e.Cause }

// OutputFile returns the file written by step index (1-based) of relvalID.
func OutputFile(relvalID string, index int) string {
	return fmt.Sprintf("file:%s_step%d.root", relvalID, index)
}

// ConfigFile returns the configuration file name of step index (1-based).
func ConfigFile(relvalID string, index int) string {
	return fmt.Sprintf("%s_%d_cfg.py", relvalID, index)
}

// TaskName returns the job-dictionary task name of step index (1-based).
func TaskName(index int) string {
	return "Task" + strconv.Itoa(index)
}

// OutputModule returns the name of the output module a step writes through.
func OutputModule(step model.Step) string {
	if step.EventContent == "" {
		return "output"
	}
	return step.EventContent + "output"
}

// Build produces the driver command and the job dictionary for r. Every step
// is validated first; the first failing step aborts the build.
func Build(r *model.RelVal) (model.Command, model.JobDict, error) {
	if len(r.Steps) == 0 {
		return model.Command{}, nil, &BuildError{RelVal: r.ID, Cause: ErrNoSteps}
	}

	cmd := model.Command{Steps: make([][]string, 0, len(r.Steps))}
	jobs := make(model.JobDict, len(r.Steps))
	for i, step := range r.Steps {
		index := i + 1
		fail := func(err error) (model.Command, model.JobDict, error) {
			return model.Command{}, nil, &BuildError{RelVal: r.ID, StepIndex: index, Step: step.Name, Cause: err}
		}

		if err := resolver.Check(step, i > 0); err != nil {
			return fail(err)
		}
		extra, err := shellquote.Split(step.Arguments)
		if err != nil {
			return fail(fmt.Errorf("parsing arguments %q: %w", step.Arguments, err))
		}

		cmd.Steps = append(cmd.Steps, subCommand(r, index, step, extra))
		jobs[index] = jobStep(r, index, step)
	}
	return cmd, jobs, nil
}

func subCommand(r *model.RelVal, index int, step model.Step, extra []string) []string {
	first := step.Name
	if step.Input.Fragment != "" {
		first = step.Input.Fragment
	}
	tokens := []string{Executable, first,
		"--python_filename", ConfigFile(r.ID, index),
		"--fileout", OutputFile(r.ID, index),
	}

	switch {
	case step.Input.Dataset != "":
		tokens = append(tokens, "--filein", "dbs:"+step.Input.Dataset)
	case step.Input.Chain:
		tokens = append(tokens, "--filein", OutputFile(r.ID, index-1))
	}

	tokens = append(tokens,
		"--conditions", step.GlobalTag,
		"--step", step.Sequence,
	)
	if step.Era != "" {
		tokens = append(tokens, "--era", step.Era)
	}
	if step.Datatier != "" {
		tokens = append(tokens, "--datatier", step.Datatier)
	}
	if step.EventContent != "" {
		tokens = append(tokens, "--eventcontent", step.EventContent)
	}

	events := -1
	if step.Events > 0 {
		events = step.Events
	}
	tokens = append(tokens, "--number", strconv.Itoa(events))
	if r.CPUCores > 0 {
		tokens = append(tokens, "--nThreads", strconv.Itoa(r.CPUCores))
	}
	tokens = append(tokens, "--no_exec")
	return append(tokens, extra...)
}

func jobStep(r *model.RelVal, index int, step model.Step) model.JobStep {
	js := model.JobStep{
		TaskName:     TaskName(index),
		StepName:     step.Name,
		ConfigName:   ConfigFile(r.ID, index),
		Release:      step.Release,
		ScramArch:    step.ScramArch,
		GlobalTag:    step.GlobalTag,
		Sequence:     step.Sequence,
		Era:          step.Era,
		Datatier:     step.Datatier,
		EventContent: step.EventContent,
		Events:       step.Events,
		InputDataset: step.Input.Dataset,
		Fragment:     step.Input.Fragment,
		OutputFile:   OutputFile(r.ID, index),
		OutputModule: OutputModule(step),
		Multicore:    r.CPUCores,
		Memory:       r.MemoryMB,
	}
	if step.Input.Chain {
		js.InputTask = TaskName(index - 1)
		js.InputFromOutputModule = OutputModule(r.Steps[index-2])
	}
	return js
}
