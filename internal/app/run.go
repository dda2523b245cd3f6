// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/specialistvlad/relvalgo/internal/api"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
)

// Run serves the API until ctx is cancelled, or runs the one-shot ticket
// mode when a ticket file is configured. The store is closed on return.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.")
	defer a.close()

	if a.config.TicketFile != "" {
		return a.runTicketFile(ctx, a.config.TicketFile)
	}

	a.healthCheckServer()
	defer a.shutdownServer("health", a.healthServer)

	go a.watchReload(ctx)
	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil {
				a.logger.Error("Workflow feed stopped", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(a.service, a.directory,
		api.WithUserHeader(a.config.Identity.Header),
		api.WithLogger(a.logger),
	).Handler())
	mux.Handle("/", a.opsMux())

	a.apiServer = &http.Server{
		Addr:              a.config.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("🚀 API server starting", "address", a.config.Listen)
		serveErr <- a.apiServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("🏁 Shutdown requested.")
		return a.shutdownServer("api", a.apiServer)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	}
}
