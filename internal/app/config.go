// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every configuration environment variable, with dots
// in keys replaced by underscores: RELVAL_STORE_DRIVER.
const EnvPrefix = "RELVAL"

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	RedisURL    string `mapstructure:"redis_url"`
	Namespace   string `mapstructure:"namespace"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	// ConnectAttempts bounds the initial connection attempts to Postgres.
	ConnectAttempts uint `mapstructure:"connect_attempts"`
}

// FeedConfig describes the workflow-status feed. An empty URL disables it.
type FeedConfig struct {
	URL                string `mapstructure:"url"`
	Namespace          string `mapstructure:"namespace"`
	Event              string `mapstructure:"event"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	AutoComplete       bool   `mapstructure:"auto_complete"`
}

// SubmissionConfig describes the batch system. An empty URL selects the
// dry-run submitter. ConfigDatabase is the config cache targeted by upload
// scripts; empty means the production cache.
type SubmissionConfig struct {
	URL            string `mapstructure:"url"`
	ConfigDatabase string `mapstructure:"config_database"`
}

// IdentityConfig controls how callers are identified and which roles they
// hold.
type IdentityConfig struct {
	Header         string        `mapstructure:"header"`
	DirectoryURL   string        `mapstructure:"directory_url"`
	Managers       []string      `mapstructure:"managers"`
	Administrators []string      `mapstructure:"administrators"`
	AutomationUser string        `mapstructure:"automation_user"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	CacheSize      int           `mapstructure:"cache_size"`
}

// RetryConfig bounds conflict retries.
type RetryConfig struct {
	MaxAttempts uint `mapstructure:"max_attempts"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	Stdout bool `mapstructure:"stdout"`
}

// Config holds everything an App needs. It is built once at start and
// passed by reference.
type Config struct {
	CatalogPath string `mapstructure:"catalog_path"`
	// TicketFile switches to one-shot mode: the tickets in the file are
	// expanded in memory and their scripts are printed.
	TicketFile string `mapstructure:"ticket"`

	Listen     string `mapstructure:"listen"`
	HealthPort int    `mapstructure:"health_port"`
	LogFormat  string `mapstructure:"log_format"`
	LogLevel   string `mapstructure:"log_level"`

	Store      StoreConfig      `mapstructure:"store"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// DefaultConfig returns the configuration used for unset keys.
func DefaultConfig() Config {
	return Config{
		Listen:     ":8080",
		HealthPort: 0,
		LogFormat:  "json",
		LogLevel:   "info",
		Store: StoreConfig{
			Driver:          StoreMemory,
			Namespace:       "relval",
			ConnectAttempts: 5,
		},
		Feed: FeedConfig{
			Event:        "workflow_status",
			AutoComplete: true,
		},
		Identity: IdentityConfig{
			Header:         "X-Remote-User",
			AutomationUser: "automation",
			CacheTTL:       10 * time.Minute,
			CacheSize:      1024,
		},
		Retry: RetryConfig{MaxAttempts: 5},
	}
}

// NewConfig validates cfg and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.CatalogPath == "" {
		return nil, errors.New("catalog_path is a required configuration field and cannot be empty")
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log_format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log_level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}

	switch cfg.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if cfg.Store.RedisURL == "" {
			return nil, errors.New("store.redis_url is required with the redis store")
		}
	case StorePostgres:
		if cfg.Store.PostgresDSN == "" {
			return nil, errors.New("store.postgres_dsn is required with the postgres store")
		}
	default:
		return nil, fmt.Errorf("invalid store.driver %q: must be 'memory', 'redis' or 'postgres'", cfg.Store.Driver)
	}

	if cfg.TicketFile == "" && cfg.Listen == "" {
		return nil, errors.New("listen address is required unless a ticket file is given")
	}
	if cfg.HealthPort < 0 {
		return nil, fmt.Errorf("invalid health_port %d", cfg.HealthPort)
	}
	if cfg.Retry.MaxAttempts == 0 {
		return nil, errors.New("retry.max_attempts must be at least 1")
	}
	if cfg.Identity.CacheTTL < 0 {
		return nil, errors.New("identity.cache_ttl must not be negative")
	}
	if cfg.Identity.AutomationUser == "" {
		return nil, errors.New("identity.automation_user cannot be empty")
	}

	return &cfg, nil
}

// FlagKeys maps configuration keys to the command-line flags that set them.
var FlagKeys = map[string]string{
	"catalog_path":               "catalog",
	"ticket":                     "ticket",
	"listen":                     "listen",
	"health_port":                "health-port",
	"log_format":                 "log-format",
	"log_level":                  "log-level",
	"store.driver":               "store",
	"store.redis_url":            "redis-url",
	"store.namespace":            "store-namespace",
	"store.postgres_dsn":         "postgres-dsn",
	"feed.url":                   "feed-url",
	"feed.namespace":             "feed-namespace",
	"feed.event":                 "feed-event",
	"submission.url":             "submission-url",
	"submission.config_database": "config-database",
	"identity.managers":          "managers",
	"identity.administrators":    "administrators",
	"retry.max_attempts":         "max-attempts",
	"tracing.stdout":             "trace-stdout",
}

// LoadConfig merges, from highest to lowest precedence, the flags set in
// fs, RELVAL_* environment variables, the YAML file named by configFile
// and the defaults, then validates the result.
func LoadConfig(fs *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, name := range FlagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return NewConfig(cfg)
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("catalog_path", d.CatalogPath)
	v.SetDefault("ticket", d.TicketFile)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("health_port", d.HealthPort)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.redis_url", d.Store.RedisURL)
	v.SetDefault("store.namespace", d.Store.Namespace)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)
	v.SetDefault("store.connect_attempts", d.Store.ConnectAttempts)

	v.SetDefault("feed.url", d.Feed.URL)
	v.SetDefault("feed.namespace", d.Feed.Namespace)
	v.SetDefault("feed.event", d.Feed.Event)
	v.SetDefault("feed.insecure_skip_verify", d.Feed.InsecureSkipVerify)
	v.SetDefault("feed.auto_complete", d.Feed.AutoComplete)

	v.SetDefault("submission.url", d.Submission.URL)
	v.SetDefault("submission.config_database", d.Submission.ConfigDatabase)

	v.SetDefault("identity.header", d.Identity.Header)
	v.SetDefault("identity.directory_url", d.Identity.DirectoryURL)
	v.SetDefault("identity.managers", append([]string{}, d.Identity.Managers...))
	v.SetDefault("identity.administrators", append([]string{}, d.Identity.Administrators...))
	v.SetDefault("identity.automation_user", d.Identity.AutomationUser)
	v.SetDefault("identity.cache_ttl", d.Identity.CacheTTL)
	v.SetDefault("identity.cache_size", d.Identity.CacheSize)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("tracing.stdout", d.Tracing.Stdout)
}
