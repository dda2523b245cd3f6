// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package hclutil holds small helpers shared by the HCL decoders of the
// catalog and ticket files.
package hclutil

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// FindUniqueBlock searches a slice of blocks for all blocks of a given name.
// It returns a diagnostic error if more than one block of that name is found.
// If no block is found, it returns nil.
func FindUniqueBlock(blocks hcl.Blocks, name string) (*hcl.Block, hcl.Diagnostics) {
	var found *hcl.Block
	var diags hcl.Diagnostics

	for _, block := range blocks {
		if block.Type == name {
			if found != nil {
				diags = append(diags, &hcl.Diagnostic{
					Severity: hcl.DiagError,
					Summary:  "Duplicate \"" + name + "\" block",
					Detail:   "Only one \"" + name + "\" block is allowed.",
					Subject:  &block.DefRange,
				})
			}
			found = block
		}
	}

	return found, diags
}

// DuplicateLabel builds the diagnostic reported when two blocks of the same
// type share a label.
func DuplicateLabel(block *hcl.Block, previous hcl.Range) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Duplicate %s %q", block.Type, block.Labels[0]),
		Detail:   fmt.Sprintf("A %s named %q was already declared at %s.", block.Type, block.Labels[0], previous),
		Subject:  &block.DefRange,
	}
}

// DecodeAttr decodes attrs[name] into target when the attribute is present.
func DecodeAttr(attrs hcl.Attributes, name string, ctx *hcl.EvalContext, target any) hcl.Diagnostics {
	attr, ok := attrs[name]
	if !ok {
		return nil
	}
	return gohcl.DecodeExpression(attr.Expr, ctx, target)
}
