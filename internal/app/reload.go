// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/metrics"
)

// reloadCatalog publishes a new catalog snapshot. Operations already
// running keep the snapshot they started with.
func (a *App) reloadCatalog(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	catalog, err := a.registry.Reload(ctx)
	a.metrics.CatalogReloads.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		logger.Error("Catalog reload failed, keeping the previous snapshot", "path", a.registry.Path(), "error", err)
		return err
	}
	a.metrics.CatalogGeneration.Set(float64(catalog.Generation))
	logger.Info("📚 Catalog loaded", "path", a.registry.Path(), "generation", catalog.Generation, "campaigns", len(catalog.CampaignNames()))
	return nil
}

// watchReload reloads the catalog on every SIGHUP until ctx is done.
func (a *App) watchReload(ctx context.Context) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			ctxlog.FromContext(ctx).Info("SIGHUP received, reloading catalog")
			_ = a.reloadCatalog(ctx)
		}
	}
}
