// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/feed"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/inmemorystore"
	"github.com/specialistvlad/relvalgo/internal/metrics"
	"github.com/specialistvlad/relvalgo/internal/redisstore"
	"github.com/specialistvlad/relvalgo/internal/registry"
	"github.com/specialistvlad/relvalgo/internal/service"
	"github.com/specialistvlad/relvalgo/internal/sqlstore"
	"github.com/specialistvlad/relvalgo/internal/store"
	"github.com/specialistvlad/relvalgo/internal/submission"
	"github.com/specialistvlad/relvalgo/internal/tracing"
)

// Version is reported in traces. It is set at build time.
var Version = "dev"

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	ctx    context.Context
	config *Config
	logger *slog.Logger

	registry  *registry.Registry
	metrics   *metrics.Metrics
	backend   store.Backend
	service   *service.Service
	directory identity.Directory
	feed      *feed.Listener

	shutdownTracing func(context.Context) error
	healthServer    *http.Server
	apiServer       *http.Server
}

// NewApp builds every dependency described by cfg. The initial catalog load
// and the store connection happen here, so a misconfiguration fails before
// anything starts serving. Logs and stdout traces go to logW; outW only
// receives the scripts of a one-shot run.
func NewApp(ctx context.Context, outW, logW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	a := &App{
		outW:     outW,
		ctx:      ctx,
		config:   cfg,
		logger:   logger,
		registry: registry.New(cfg.CatalogPath),
		metrics:  metrics.New(),
	}

	if err := a.reloadCatalog(ctx); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	tp, shutdown, err := tracing.Setup(tracing.Config{Stdout: cfg.Tracing.Stdout, Writer: logW, Version: Version})
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	if cfg.TicketFile != "" {
		// One-shot runs never touch shared state.
		a.backend = inmemorystore.New()
	} else {
		a.backend, err = openStore(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
	}

	var submitter submission.Submitter = submission.NewDryRun()
	if cfg.Submission.URL != "" {
		submitter = submission.NewHTTP(cfg.Submission.URL, nil)
	} else {
		logger.Warn("No submission URL configured, submissions are dry runs")
	}

	a.service = service.New(a.backend, a.registry,
		service.WithSubmitter(submitter),
		service.WithMetrics(a.metrics),
		service.WithTracer(tp.Tracer(tracing.ServiceName)),
		service.WithMaxAttempts(cfg.Retry.MaxAttempts),
		service.WithAutomationUser(cfg.Identity.AutomationUser),
		service.WithConfigDatabase(cfg.Submission.ConfigDatabase),
	)
	a.directory = newDirectory(cfg.Identity)

	if cfg.Feed.URL != "" && cfg.TicketFile == "" {
		a.feed = feed.NewListener(feed.Config{
			URL:                cfg.Feed.URL,
			Namespace:          cfg.Feed.Namespace,
			Event:              cfg.Feed.Event,
			InsecureSkipVerify: cfg.Feed.InsecureSkipVerify,
			AutoComplete:       cfg.Feed.AutoComplete,
		}, a.service, cfg.Identity.AutomationUser, a.metrics)
	}

	logger.Debug("Application assembled.", "store", cfg.Store.Driver, "feed", a.feed != nil)
	return a, nil
}

// Service returns the application's service. This is primarily for testing.
func (a *App) Service() *service.Service {
	return a.service
}

// Registry returns the catalog registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

func openStore(ctx context.Context, cfg StoreConfig) (store.Backend, error) {
	logger := ctxlog.FromContext(ctx)
	switch cfg.Driver {
	case StoreRedis:
		s, err := redisstore.Open(ctx, cfg.RedisURL, cfg.Namespace)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		logger.Info("Using redis store", "namespace", cfg.Namespace)
		return s, nil
	case StorePostgres:
		s, err := sqlstore.Open(ctx, cfg.PostgresDSN, cfg.ConnectAttempts)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		logger.Info("Using postgres store")
		return s, nil
	default:
		logger.Warn("Using in-memory store, data is lost on exit")
		return inmemorystore.New(), nil
	}
}

func newDirectory(cfg IdentityConfig) identity.Directory {
	var dir identity.Directory = identity.NewStaticDirectory(cfg.Managers, cfg.Administrators)
	if cfg.DirectoryURL != "" {
		dir = identity.NewHTTPDirectory(cfg.DirectoryURL, nil)
	}
	if cfg.CacheTTL > 0 {
		dir = identity.NewCachedDirectory(dir, cfg.CacheSize, cfg.CacheTTL)
	}
	return dir
}

// close releases the store and flushes traces.
func (a *App) close() {
	logger := a.logger
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			logger.Error("Closing store failed", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(context.WithoutCancel(a.ctx)); err != nil {
			logger.Error("Flushing traces failed", "error", err)
		}
	}
}
