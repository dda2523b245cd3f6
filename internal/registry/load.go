// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package registry

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/fsutil"
)

// LoadCatalog parses every .hcl file under path (a file or a directory) into
// a new Catalog. Campaign names must be unique across all files.
func LoadCatalog(ctx context.Context, path string) (*Catalog, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading catalog definitions...", "path", path)

	filePaths, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		logger.Error("Failed to walk catalog path", "path", path, "error", err)
		return nil, err
	}
	if len(filePaths) == 0 {
		logger.Warn("No .hcl catalog files found in path", "path", path)
	}

	parser := hclparse.NewParser()
	catalog := NewCatalog()
	for _, filePath := range filePaths {
		hclFile, diags := parser.ParseHCLFile(filePath)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", filePath, diags)
		}
		if err := catalog.addFile(ctx, hclFile, filePath); err != nil {
			return nil, err
		}
	}

	logger.Info("Catalog loaded.", "files", len(filePaths), "campaigns", len(catalog.Campaigns))
	return catalog, nil
}

// ParseCatalog parses a single in-memory catalog source.
func ParseCatalog(ctx context.Context, src []byte, filename string) (*Catalog, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	catalog := NewCatalog()
	if err := catalog.addFile(ctx, hclFile, filename); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (c *Catalog) addFile(ctx context.Context, hclFile *hcl.File, filePath string) error {
	campaigns, diags := ParseCatalogFile(ctx, hclFile, filePath)
	if diags.HasErrors() {
		return fmt.Errorf("failed to process catalog definition in %s: %w", filePath, diags)
	}
	for _, cp := range campaigns {
		if prev, dup := c.Campaigns[cp.Name]; dup {
			return fmt.Errorf("campaign %q declared in both %s and %s", cp.Name, prev.File, filePath)
		}
		c.Campaigns[cp.Name] = cp
	}
	return nil
}
