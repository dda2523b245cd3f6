// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package cmsdriver

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/specialistvlad/relvalgo/internal/model"
)

// Script renders a bash script that sets up the software environment and
// runs every sub-command of cmd. The environment is (re)initialized whenever
// the release or the architecture changes from one step to the next.
func Script(r *model.RelVal, cmd model.Command) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n\n")
	fmt.Fprintf(&b, "# %s\n", r.ID)

	var release, arch string
	for i, tokens := range cmd.Steps {
		var step model.Step
		if i < len(r.Steps) {
			step = r.Steps[i]
		}
		if step.Release != release || step.ScramArch != arch {
			release, arch = step.Release, step.ScramArch
			writeEnvironment(&b, release, arch)
		}
		fmt.Fprintf(&b, "\n# Step %d: %s\n", i+1, step.Name)
		b.WriteString(shellquote.Join(tokens...))
		b.WriteString("\n")
	}
	return b.String()
}

func writeEnvironment(b *strings.Builder, release, arch string) {
	fmt.Fprintf(b, "\nexport SCRAM_ARCH=%s\n", shellquote.Join(arch))
	b.WriteString("source /cvmfs/cms.cern.ch/cmsset_default.sh\n")
	q := shellquote.Join(release)
	fmt.Fprintf(b, "if [ -r %s/src ] ; then\n  echo release %s already exists\nelse\n  scram p CMSSW %s\nfi\n", q, q, q)
	fmt.Fprintf(b, "cd %s/src\n", q)
	b.WriteString("eval `scram runtime -sh`\n")
	b.WriteString("cd ../..\n")
}

// ScriptFor builds r and renders its script in one go.
func ScriptFor(r *model.RelVal) (string, error) {
	cmd, _, err := Build(r)
	if err != nil {
		return "", err
	}
	return Script(r, cmd), nil
}
