// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package registry

import (
	"sort"

	"github.com/specialistvlad/relvalgo/internal/model"
)

// Resources are the default batch resources of a campaign's RelVals.
type Resources struct {
	CPUCores int
	MemoryMB int
}

// Campaign is one processing campaign and its step templates.
type Campaign struct {
	Name      string
	Release   string
	ScramArch string
	GlobalTag string
	Era       string
	Resources Resources

	// Templates maps a template name to a partially filled step. The Name
	// field of each entry equals its key.
	Templates map[string]model.Step

	// File is the catalog file the campaign was declared in.
	File string
}

// Template returns the named template.
func (c *Campaign) Template(name string) (model.Step, bool) {
	s, ok := c.Templates[name]
	return s, ok
}

// TemplateNames returns the template names in lexical order.
func (c *Campaign) TemplateNames() []string {
	names := make([]string, 0, len(c.Templates))
	for name := range c.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog is an immutable snapshot of every loaded campaign.
type Catalog struct {
	// Generation increases by one with every successful load.
	Generation uint64
	Campaigns  map[string]*Campaign
}

// NewCatalog builds a catalog from the given campaigns. It is mostly useful
// in tests and for callers that assemble a catalog in code.
func NewCatalog(campaigns ...*Campaign) *Catalog {
	c := &Catalog{Campaigns: make(map[string]*Campaign, len(campaigns))}
	for _, cp := range campaigns {
		c.Campaigns[cp.Name] = cp
	}
	return c
}

// Campaign looks up a campaign by name.
func (c *Catalog) Campaign(name string) (*Campaign, bool) {
	if c == nil {
		return nil, false
	}
	cp, ok := c.Campaigns[name]
	return cp, ok
}

// CampaignNames returns the campaign names in lexical order.
func (c *Catalog) CampaignNames() []string {
	names := make([]string, 0, len(c.Campaigns))
	for name := range c.Campaigns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
