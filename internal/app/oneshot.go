// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/registry"
)

// runTicketFile expands every ticket in path against the catalog and
// prints the driver scripts of the generated RelVals.
func (a *App) runTicketFile(ctx context.Context, path string) error {
	tickets, err := registry.LoadTickets(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to load tickets: %w", err)
	}
	a.logger.Info("🚀 Expanding tickets...", "file", path, "tickets", len(tickets))

	ctx = identity.WithUser(ctx, identity.NewUser(a.config.Identity.AutomationUser, identity.RoleAdministrator))
	for _, t := range tickets {
		if _, err := a.service.CreateTicket(ctx, t); err != nil {
			return fmt.Errorf("ticket %s: %w", t.ID, err)
		}
		relvals, err := a.service.GenerateRelVals(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("ticket %s: %w", t.ID, err)
		}
		script, err := a.service.TicketScript(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("ticket %s: %w", t.ID, err)
		}
		a.logger.Debug("Ticket expanded.", "ticket", t.ID, "relvals", len(relvals))
		fmt.Fprint(a.outW, script)
	}
	a.logger.Info("🏁 All tickets expanded.")
	return nil
}
