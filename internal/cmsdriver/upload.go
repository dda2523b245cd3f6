// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package cmsdriver

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/specialistvlad/relvalgo/internal/model"
)

// Config cache upload settings.
const (
	ConfigUploader        = "config_uploader.py"
	DefaultConfigDatabase = "https://cmsweb.cern.ch/couchdb"
	ConfigGroup           = "ppd"
)

// UploadScript extends the driver script of r with one upload per step, so
// the generated configuration files land in the config cache at database.
func UploadScript(r *model.RelVal, cmd model.Command, database string) string {
	if database == "" {
		database = DefaultConfigDatabase
	}
	var b strings.Builder
	b.WriteString(Script(r, cmd))
	b.WriteString("\n# Upload configs\n")
	for i := range cmd.Steps {
		cfg := ConfigFile(r.ID, i+1)
		tokens := []string{"python3", ConfigUploader,
			"--file", cfg,
			"--label", strings.TrimSuffix(cfg, ".py"),
			"--group", ConfigGroup,
			"--db", database,
		}
		fmt.Fprintf(&b, "%s --user \"$USER\"\n", shellquote.Join(tokens...))
	}
	return b.String()
}
