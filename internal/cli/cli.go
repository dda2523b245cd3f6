// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/specialistvlad/relvalgo/internal/app"
	"github.com/spf13/pflag"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const usageHeader = `
relvalgo - release-validation request manager.

Usage:
  relvalgo [options] [CATALOG_PATH]

Arguments:
  CATALOG_PATH
    Path to a single .hcl catalog file or a directory of them.

Every option can also be set in the YAML file given with --config or
through RELVAL_* environment variables (RELVAL_STORE_DRIVER=redis).

Options:
`

// Parse processes command-line arguments. It returns a validated Config, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	defaults := app.DefaultConfig()

	fs := pflag.NewFlagSet("relvalgo", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprint(output, usageHeader)
		fs.PrintDefaults()
	}

	configFile := fs.StringP("config", "c", "", "Path to a YAML configuration file.")
	fs.StringP("catalog", "g", "", "Path to the catalog file or directory.")
	fs.String("ticket", "", "Expand the tickets in this HCL file, print their scripts and exit.")
	fs.String("listen", defaults.Listen, "Address of the API server.")
	fs.Int("health-port", defaults.HealthPort, "Port for the health check and metrics server. 0 is disabled.")
	fs.String("log-format", defaults.LogFormat, "Log output format. Options: 'text' or 'json'.")
	fs.String("log-level", defaults.LogLevel, "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	fs.String("store", defaults.Store.Driver, "Document store. Options: 'memory', 'redis', 'postgres'.")
	fs.String("redis-url", "", "Redis URL for the redis store.")
	fs.String("store-namespace", defaults.Store.Namespace, "Key prefix of the redis store.")
	fs.String("postgres-dsn", "", "Connection string for the postgres store.")
	fs.String("feed-url", "", "Socket.IO URL of the workflow status feed. Empty disables it.")
	fs.String("feed-namespace", "", "Socket.IO namespace of the workflow status feed.")
	fs.String("feed-event", defaults.Feed.Event, "Event name carrying workflow status reports.")
	fs.String("submission-url", "", "Batch system submission endpoint. Empty submits in dry-run mode.")
	fs.String("config-database", "", "Config cache that upload scripts target. Empty uses the production cache.")
	fs.StringSlice("managers", nil, "Logins holding the manager role.")
	fs.StringSlice("administrators", nil, "Logins holding the administrator role.")
	fs.Uint("max-attempts", defaults.Retry.MaxAttempts, "Attempts of a read-modify-write cycle under concurrent modification.")
	fs.Bool("trace-stdout", false, "Export trace spans as JSON to the log output.")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if fs.NArg() > 1 {
		return nil, false, &ExitError{Code: 2, Message: "too many arguments: expected at most one CATALOG_PATH"}
	}
	if fs.NArg() == 1 && !fs.Changed("catalog") {
		if err := fs.Set("catalog", fs.Arg(0)); err != nil {
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
	}

	config, err := app.LoadConfig(fs, *configFile)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "catalog", config.CatalogPath, "store", config.Store.Driver)
	return config, false, nil
}
