// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package registry

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/hclutil"
	"github.com/specialistvlad/relvalgo/internal/model"
)

// catalogRootSchema defines the top-level structure of a catalog file.
type catalogRootSchema struct {
	Campaigns []*hclCampaign `hcl:"campaign,block"`
}

type hclCampaign struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

var campaignBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "release", Required: true},
		{Name: "scram_arch", Required: true},
		{Name: "global_tag"},
		{Name: "era"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "resources"},
		{Type: "template", LabelNames: []string{"name"}},
	},
}

var resourcesBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "cpu_cores"},
		{Name: "memory"},
	},
}

// StepBodySchema lists the attributes accepted wherever a step is
// (partially) described in HCL: catalog templates and ticket overrides.
var StepBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "dataset"},
		{Name: "fragment"},
		{Name: "chain"},
		{Name: "global_tag"},
		{Name: "sequence"},
		{Name: "era"},
		{Name: "datatier"},
		{Name: "event_content"},
		{Name: "scram_arch"},
		{Name: "release"},
		{Name: "events"},
		{Name: "arguments"},
	},
}

// ParseCatalogFile decodes every campaign block of an already parsed HCL file.
func ParseCatalogFile(ctx context.Context, hclFile *hcl.File, filePath string) ([]*Campaign, hcl.Diagnostics) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Parsing campaign definitions from file", "file_path", filePath)

	var allDiags hcl.Diagnostics
	if hclFile == nil {
		allDiags = append(allDiags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "HCL file is nil",
		})
		return nil, allDiags
	}

	schema := &catalogRootSchema{}
	diags := gohcl.DecodeBody(hclFile.Body, nil, schema)
	allDiags = append(allDiags, diags...)
	if diags.HasErrors() {
		return nil, allDiags
	}

	campaigns := make([]*Campaign, 0, len(schema.Campaigns))
	for _, parsed := range schema.Campaigns {
		cp, cpDiags := parseCampaign(parsed, filePath)
		allDiags = append(allDiags, cpDiags...)
		if cp != nil {
			campaigns = append(campaigns, cp)
		}
	}

	if allDiags.HasErrors() {
		return nil, allDiags
	}
	logger.Debug("Successfully parsed campaign definitions", "count", len(campaigns))
	return campaigns, nil
}

func parseCampaign(parsed *hclCampaign, filePath string) (*Campaign, hcl.Diagnostics) {
	content, diags := parsed.Body.Content(campaignBodySchema)
	if diags.HasErrors() {
		return nil, diags
	}

	cp := &Campaign{
		Name:      parsed.Name,
		Templates: make(map[string]model.Step),
		File:      filePath,
	}
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "release", nil, &cp.Release)...)
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "scram_arch", nil, &cp.ScramArch)...)
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "global_tag", nil, &cp.GlobalTag)...)
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "era", nil, &cp.Era)...)

	res, resDiags := hclutil.FindUniqueBlock(content.Blocks, "resources")
	diags = append(diags, resDiags...)
	if res != nil {
		resContent, d := res.Body.Content(resourcesBodySchema)
		diags = append(diags, d...)
		if !d.HasErrors() {
			diags = append(diags, hclutil.DecodeAttr(resContent.Attributes, "cpu_cores", nil, &cp.Resources.CPUCores)...)
			diags = append(diags, hclutil.DecodeAttr(resContent.Attributes, "memory", nil, &cp.Resources.MemoryMB)...)
		}
	}

	seen := make(map[string]hcl.Range)
	for _, block := range content.Blocks {
		if block.Type != "template" {
			continue
		}
		name := block.Labels[0]
		if prev, dup := seen[name]; dup {
			diags = append(diags, hclutil.DuplicateLabel(block, prev))
			continue
		}
		seen[name] = block.DefRange

		step := model.Step{Name: name, Template: name}
		diags = append(diags, DecodeStepBody(block.Body, nil, &step)...)
		cp.Templates[name] = step
	}

	return cp, diags
}

// DecodeStepBody decodes the step attributes of body into step. Attributes
// that are absent leave the corresponding field untouched.
func DecodeStepBody(body hcl.Body, evalCtx *hcl.EvalContext, step *model.Step) hcl.Diagnostics {
	content, diags := body.Content(StepBodySchema)
	if diags.HasErrors() {
		return diags
	}
	attrs := content.Attributes
	targets := []struct {
		name   string
		target any
	}{
		{"dataset", &step.Input.Dataset},
		{"fragment", &step.Input.Fragment},
		{"chain", &step.Input.Chain},
		{"global_tag", &step.GlobalTag},
		{"sequence", &step.Sequence},
		{"era", &step.Era},
		{"datatier", &step.Datatier},
		{"event_content", &step.EventContent},
		{"scram_arch", &step.ScramArch},
		{"release", &step.Release},
		{"events", &step.Events},
		{"arguments", &step.Arguments},
	}
	for _, t := range targets {
		diags = append(diags, hclutil.DecodeAttr(attrs, t.name, evalCtx, t.target)...)
	}
	if attr, ok := attrs["events"]; ok && step.Events < 0 {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid events",
			Detail:   fmt.Sprintf("The events attribute must not be negative, got %d.", step.Events),
			Subject:  attr.Expr.Range().Ptr(),
		})
	}
	return diags
}
