// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/relvalgo/internal/redisstore"
	"github.com/specialistvlad/relvalgo/internal/testutil"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ticketHCL = `
ticket "TICKET-1" {
  campaign = "2025_RelVal"

  sample {
    input = "/DatasetA/Run2024-v1/RAW"
    steps = ["GEN-SIM", "DIGI"]
  }
}
`

// writeFile writes content to name inside dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// testConfig returns a valid configuration reading the fixture catalog.
func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CatalogPath = writeFile(t, t.TempDir(), "catalog.hcl", testutil.CatalogHCL)
	cfg.LogLevel = "debug"
	cfg.Listen = "127.0.0.1:0"
	out, err := NewConfig(cfg)
	require.NoError(t, err)
	return out
}

// setupApp creates an App logging into a buffer.
func setupApp(t *testing.T, cfg *Config) (*App, *testutil.SafeBuffer) {
	t.Helper()
	a, _, logs := setupAppWithOutput(t, cfg)
	return a, logs
}

// setupAppWithOutput creates an App with separate buffers for its output
// and its logs.
func setupAppWithOutput(t *testing.T, cfg *Config) (*App, *testutil.SafeBuffer, *testutil.SafeBuffer) {
	t.Helper()
	out, logs := &testutil.SafeBuffer{}, &testutil.SafeBuffer{}
	a, err := NewApp(context.Background(), out, logs, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if os.Getenv("RELVAL_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return a, out, logs
}

func TestNewConfig(t *testing.T) {
	valid := func() Config {
		c := DefaultConfig()
		c.CatalogPath = "catalog"
		return c
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no catalog", func(c *Config) { c.CatalogPath = "" }, "catalog_path"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"redis without url", func(c *Config) { c.Store.Driver = StoreRedis }, "redis_url"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StorePostgres }, "postgres_dsn"},
		{"no listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"no listen in one-shot", func(c *Config) { c.Listen = ""; c.TicketFile = "t.hcl" }, ""},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"negative ttl", func(c *Config) { c.Identity.CacheTTL = -time.Second }, "cache_ttl"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			_, err := NewConfig(cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	file := writeFile(t, t.TempDir(), "relval.yaml", `
catalog_path: /etc/relval/catalog
log_level: warn
store:
  namespace: from-file
identity:
  administrators: [root]
  cache_ttl: 1m
`)
	t.Setenv("RELVAL_LOG_LEVEL", "error")
	t.Setenv("RELVAL_STORE_DRIVER", "redis")
	t.Setenv("RELVAL_STORE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RELVAL_IDENTITY_MANAGERS", "alice,bob")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", "info", "")
	fs.String("listen", ":8080", "")
	require.NoError(t, fs.Parse([]string{"--log-level", "DEBUG"}))

	cfg, err := LoadConfig(fs, file)
	require.NoError(t, err)
	assert.Equal(t, "/etc/relval/catalog", cfg.CatalogPath, "file")
	assert.Equal(t, "debug", cfg.LogLevel, "flag beats env and file")
	assert.Equal(t, ":8080", cfg.Listen, "unset flag keeps its default")
	assert.Equal(t, StoreRedis, cfg.Store.Driver, "env")
	assert.Equal(t, "from-file", cfg.Store.Namespace)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Identity.Managers)
	assert.Equal(t, []string{"root"}, cfg.Identity.Administrators)
	assert.Equal(t, time.Minute, cfg.Identity.CacheTTL)
	assert.Equal(t, "automation", cfg.Identity.AutomationUser, "default")
	assert.Equal(t, uint(5), cfg.Retry.MaxAttempts)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(nil, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = LoadConfig(nil, "")
	assert.ErrorContains(t, err, "catalog_path")
}

func TestRun_TicketFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.TicketFile = writeFile(t, t.TempDir(), "tickets.hcl", ticketHCL)
	cfg.LogLevel = "info"
	a, out, logs := setupAppWithOutput(t, cfg)

	require.NoError(t, a.Run(context.Background()))

	script := out.String()
	assert.True(t, strings.HasPrefix(script, "#!/bin/bash\n"), "nothing precedes the script")
	assert.NotContains(t, script, `"level"`)
	assert.Contains(t, logs.String(), "Expanding tickets")
	assert.Contains(t, script, "scram p CMSSW CMSSW_14_0_0")
	assert.Equal(t, 2, strings.Count(script, "cmsDriver.py"), "one driver call per step")
}

func TestRun_TicketFileErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.TicketFile = writeFile(t, t.TempDir(), "tickets.hcl", `ticket "T" { campaign = "nope" }`)
	a, _ := setupApp(t, cfg)
	assert.ErrorContains(t, a.Run(context.Background()), "ticket T")
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, logs := setupApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "API server starting")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestReloadCatalog(t *testing.T) {
	cfg := testConfig(t)
	a, _ := setupApp(t, cfg)
	assert.Equal(t, uint64(1), a.Registry().Snapshot().Generation)

	require.NoError(t, os.WriteFile(cfg.CatalogPath, []byte(strings.Replace(testutil.CatalogHCL, "140X_mcRun3_v1", "140X_mcRun3_v2", 1)), 0o600))
	require.NoError(t, a.reloadCatalog(context.Background()))
	snap := a.Registry().Snapshot()
	assert.Equal(t, uint64(2), snap.Generation)
	cp, ok := snap.Campaign(testutil.Campaign)
	require.True(t, ok)
	assert.Equal(t, "140X_mcRun3_v2", cp.GlobalTag)
	assert.Equal(t, 2.0, prom.ToFloat64(a.metrics.CatalogGeneration))

	require.NoError(t, os.WriteFile(cfg.CatalogPath, []byte("campaign {"), 0o600))
	assert.Error(t, a.reloadCatalog(context.Background()))
	assert.Equal(t, uint64(2), a.Registry().Snapshot().Generation, "a failed reload keeps the snapshot")
	assert.Equal(t, 1.0, prom.ToFloat64(a.metrics.CatalogReloads.WithLabelValues("error")))
}

func TestNewApp_BadCatalog(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.CatalogPath, []byte("campaign {"), 0o600))
	_, err := NewApp(context.Background(), io.Discard, io.Discard, cfg)
	assert.ErrorContains(t, err, "failed to load catalog")
}

func TestNewApp_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Store.Driver = StoreRedis
	cfg.Store.RedisURL = "redis://" + mr.Addr()

	a, _ := setupApp(t, cfg)
	assert.IsType(t, &redisstore.Store{}, a.backend)
}

func TestOpsEndpoints(t *testing.T) {
	a, _ := setupApp(t, testConfig(t))
	srv := httptest.NewServer(a.opsMux())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "relval_catalog_generation 1")
}

func TestNewLogger(t *testing.T) {
	buf := &testutil.SafeBuffer{}
	newLogger("warn", "json", buf).Info("hidden")
	newLogger("warn", "json", buf).Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
