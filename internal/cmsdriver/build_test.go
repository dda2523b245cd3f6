// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package cmsdriver

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoStepRelVal() *model.RelVal {
	return &model.RelVal{
		ID:       "TICKET-1-DatasetA",
		CPUCores: 4,
		MemoryMB: 8000,
		Steps: []model.Step{
			{
				Name: "GEN-SIM", Input: model.StepInput{Dataset: "/DatasetA/Run-v1/RAW"},
				GlobalTag: "gt1", Sequence: "GEN,SIM", Era: "Run3", Datatier: "GEN-SIM", EventContent: "RAWSIM",
				Release: "CMSSW_14_0_0", ScramArch: "el8_amd64_gcc12", Events: 100,
			},
			{
				Name: "DIGI", Input: model.StepInput{Chain: true},
				GlobalTag: "gt2", Sequence: "DIGI,L1", Release: "CMSSW_14_0_0", ScramArch: "el8_amd64_gcc12",
				Arguments: `--customise "Configuration/custom.py" --nStreams 2`,
			},
		},
	}
}

func TestBuild_TwoSteps(t *testing.T) {
	cmd, jobs, err := Build(twoStepRelVal())
	require.NoError(t, err)
	require.Len(t, cmd.Steps, 2)

	wantFirst := []string{
		"cmsDriver.py", "GEN-SIM",
		"--python_filename", "TICKET-1-DatasetA_1_cfg.py",
		"--fileout", "file:TICKET-1-DatasetA_step1.root",
		"--filein", "dbs:/DatasetA/Run-v1/RAW",
		"--conditions", "gt1",
		"--step", "GEN,SIM",
		"--era", "Run3",
		"--datatier", "GEN-SIM",
		"--eventcontent", "RAWSIM",
		"--number", "100",
		"--nThreads", "4",
		"--no_exec",
	}
	if diff := cmp.Diff(wantFirst, cmd.Steps[0]); diff != "" {
		t.Errorf("first sub-command mismatch (-want +got):\n%s", diff)
	}

	wantSecond := []string{
		"cmsDriver.py", "DIGI",
		"--python_filename", "TICKET-1-DatasetA_2_cfg.py",
		"--fileout", "file:TICKET-1-DatasetA_step2.root",
		"--filein", "file:TICKET-1-DatasetA_step1.root",
		"--conditions", "gt2",
		"--step", "DIGI,L1",
		"--number", "-1",
		"--nThreads", "4",
		"--no_exec",
		"--customise", "Configuration/custom.py", "--nStreams", "2",
	}
	if diff := cmp.Diff(wantSecond, cmd.Steps[1]); diff != "" {
		t.Errorf("second sub-command mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, jobs, 2)
	assert.Equal(t, "Task1", jobs[1].TaskName)
	assert.Equal(t, "/DatasetA/Run-v1/RAW", jobs[1].InputDataset)
	assert.Equal(t, "RAWSIMoutput", jobs[1].OutputModule)
	assert.Equal(t, "Task2", jobs[2].TaskName)
	assert.Equal(t, "Task1", jobs[2].InputTask)
	assert.Equal(t, "RAWSIMoutput", jobs[2].InputFromOutputModule)
	assert.Equal(t, "file:TICKET-1-DatasetA_step2.root", jobs[2].OutputFile)
	assert.Equal(t, 4, jobs[2].Multicore)
	assert.Equal(t, 8000, jobs[2].Memory)

	flat := cmd.Tokens()
	assert.Equal(t, len(wantFirst)+1+len(wantSecond), len(flat))
	assert.Equal(t, model.CommandSeparator, flat[len(wantFirst)])
}

func TestBuild_FragmentIsFirstPositional(t *testing.T) {
	r := twoStepRelVal()
	r.Steps[0].Input = model.StepInput{Fragment: "TTbar_14TeV_cfi"}
	cmd, jobs, err := Build(r)
	require.NoError(t, err)
	assert.Equal(t, "TTbar_14TeV_cfi", cmd.Steps[0][1])
	assert.NotContains(t, cmd.Steps[0], "--filein")
	assert.Equal(t, "TTbar_14TeV_cfi", jobs[1].Fragment)
}

func TestBuild_Deterministic(t *testing.T) {
	first, firstJobs, err := Build(twoStepRelVal())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, againJobs, err := Build(twoStepRelVal())
		require.NoError(t, err)
		require.Equal(t, first, again)
		require.Equal(t, firstJobs, againJobs)
	}
}

func TestBuild_Errors(t *testing.T) {
	t.Run("no steps", func(t *testing.T) {
		_, _, err := Build(&model.RelVal{ID: "X"})
		assert.ErrorIs(t, err, ErrNoSteps)
	})

	t.Run("first step chains", func(t *testing.T) {
		r := twoStepRelVal()
		r.Steps[0].Input = model.StepInput{Chain: true}
		_, _, err := Build(r)

		var be *BuildError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, 1, be.StepIndex)
		assert.ErrorIs(t, err, resolver.ErrMissingInput)
	})

	t.Run("later step lost its input", func(t *testing.T) {
		r := twoStepRelVal()
		r.Steps[1].Input = model.StepInput{}
		_, _, err := Build(r)

		var be *BuildError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, 2, be.StepIndex)
		assert.Equal(t, "DIGI", be.Step)
	})

	t.Run("unbalanced quotes", func(t *testing.T) {
		r := twoStepRelVal()
		r.Steps[1].Arguments = `--customise "oops`
		_, _, err := Build(r)
		var be *BuildError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, 2, be.StepIndex)
	})
}

func TestScript(t *testing.T) {
	r := twoStepRelVal()
	r.Steps[1].Release = "CMSSW_14_1_0"
	script, err := ScriptFor(r)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n"))
	assert.Equal(t, 2, strings.Count(script, "export SCRAM_ARCH=el8_amd64_gcc12"), "release change re-initializes the environment")
	assert.Contains(t, script, "scram p CMSSW CMSSW_14_1_0")
	assert.Contains(t, script, "--customise Configuration/custom.py")
	assert.Contains(t, script, "--step GEN,SIM")

	same := twoStepRelVal()
	script, err = ScriptFor(same)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(script, "export SCRAM_ARCH"))
}

func TestUploadScript(t *testing.T) {
	r := twoStepRelVal()
	cmd, _, err := Build(r)
	require.NoError(t, err)

	script := UploadScript(r, cmd, "")
	assert.True(t, strings.HasPrefix(script, Script(r, cmd)), "the driver script runs first")
	assert.Contains(t, script,
		"python3 config_uploader.py --file TICKET-1-DatasetA_1_cfg.py --label TICKET-1-DatasetA_1_cfg --group ppd --db https://cmsweb.cern.ch/couchdb --user \"$USER\"\n")
	assert.Contains(t, script, "--file TICKET-1-DatasetA_2_cfg.py")
	assert.Equal(t, 2, strings.Count(script, ConfigUploader))

	script = UploadScript(r, cmd, "https://example.org/couchdb")
	assert.Contains(t, script, "--db https://example.org/couchdb")
}
