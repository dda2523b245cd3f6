// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file decodes ticket files, the HCL form of a batch request used by the
// command-line one-shot mode:
//
//	ticket "TICKET-1" {
//	  campaign = "2025_RelVal"
//	  notes    = "nightly validation for ${ticket.id}"
//
//	  sample {
//	    input = "/DatasetA/Run2024-v1/RAW"
//	    steps = ["GEN-SIM", "DIGI"]
//
//	    step "DIGI" {
//	      arguments = "--nThreads 4"
//	    }
//	  }
//	}
//
// Expressions inside a ticket block can reference `ticket.id`, which makes it
// easy to stamp the identifier into notes or dataset names.
package registry

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/hclutil"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/zclconf/go-cty/cty"
)

type ticketRootSchema struct {
	Tickets []*hclTicket `hcl:"ticket,block"`
}

type hclTicket struct {
	ID   string   `hcl:"id,label"`
	Body hcl.Body `hcl:",remain"`
}

var ticketBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "campaign", Required: true},
		{Name: "notes"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "sample"},
	},
}

var sampleBodySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "name"},
		{Name: "input"},
		{Name: "fragment"},
		{Name: "events"},
		{Name: "steps", Required: true},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "step", LabelNames: []string{"template"}},
	},
}

// ticketEvalContext exposes the ticket's own attributes to its expressions.
func ticketEvalContext(id string) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"ticket": cty.ObjectVal(map[string]cty.Value{
				"id": cty.StringVal(id),
			}),
		},
	}
}

// ParseTicketFile decodes every ticket block of an already parsed HCL file.
func ParseTicketFile(ctx context.Context, hclFile *hcl.File, filePath string) ([]*model.Ticket, hcl.Diagnostics) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Parsing tickets from file", "file_path", filePath)

	schema := &ticketRootSchema{}
	diags := gohcl.DecodeBody(hclFile.Body, nil, schema)
	if diags.HasErrors() {
		return nil, diags
	}

	tickets := make([]*model.Ticket, 0, len(schema.Tickets))
	for _, parsed := range schema.Tickets {
		ticket, tDiags := parseTicket(parsed)
		diags = append(diags, tDiags...)
		if ticket != nil {
			tickets = append(tickets, ticket)
		}
	}
	if diags.HasErrors() {
		return nil, diags
	}
	return tickets, nil
}

func parseTicket(parsed *hclTicket) (*model.Ticket, hcl.Diagnostics) {
	content, diags := parsed.Body.Content(ticketBodySchema)
	if diags.HasErrors() {
		return nil, diags
	}
	evalCtx := ticketEvalContext(parsed.ID)

	ticket := &model.Ticket{ID: parsed.ID, Status: model.TicketNew}
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "campaign", evalCtx, &ticket.Campaign)...)
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "notes", evalCtx, &ticket.Notes)...)

	for _, block := range content.Blocks {
		sample, sDiags := parseSample(block, evalCtx)
		diags = append(diags, sDiags...)
		if sample != nil {
			ticket.Samples = append(ticket.Samples, *sample)
		}
	}
	if len(ticket.Samples) == 0 && !diags.HasErrors() {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Missing sample block",
			Detail:   fmt.Sprintf("Ticket %q must declare at least one sample.", parsed.ID),
			Subject:  parsed.Body.MissingItemRange().Ptr(),
		})
	}
	return ticket, diags
}

func parseSample(block *hcl.Block, evalCtx *hcl.EvalContext) (*model.Sample, hcl.Diagnostics) {
	content, diags := block.Body.Content(sampleBodySchema)
	if diags.HasErrors() {
		return nil, diags
	}

	sample := &model.Sample{}
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "name", evalCtx, &sample.Name)...)
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "input", evalCtx, &sample.Input)...)
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "fragment", evalCtx, &sample.Fragment)...)
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "events", evalCtx, &sample.Events)...)

	var templates []string
	diags = append(diags, hclutil.DecodeAttr(content.Attributes, "steps", evalCtx, &templates)...)
	if diags.HasErrors() {
		return nil, diags
	}
	position := make(map[string]int, len(templates))
	for i, name := range templates {
		sample.Steps = append(sample.Steps, model.SampleStep{Step: model.Step{Template: name}})
		if _, dup := position[name]; !dup {
			position[name] = i
		}
	}

	// Overrides apply to the first step using the labelled template.
	for _, override := range content.Blocks {
		name := override.Labels[0]
		i, ok := position[name]
		if !ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Unknown step override",
				Detail:   fmt.Sprintf("Template %q is not listed in this sample's steps.", name),
				Subject:  &override.DefRange,
			})
			continue
		}
		diags = append(diags, DecodeStepBody(override.Body, evalCtx, &sample.Steps[i].Step)...)
	}
	return sample, diags
}

// LoadTickets reads the tickets declared in a single HCL file.
func LoadTickets(ctx context.Context, filePath string) ([]*model.Ticket, error) {
	hclFile, diags := hclparse.NewParser().ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filePath, diags)
	}
	tickets, diags := ParseTicketFile(ctx, hclFile, filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to process tickets in %s: %w", filePath, diags)
	}
	return tickets, nil
}

// ParseTickets decodes tickets from an in-memory HCL source.
func ParseTickets(ctx context.Context, src []byte, filename string) ([]*model.Ticket, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	tickets, diags := ParseTicketFile(ctx, hclFile, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to process tickets in %s: %w", filename, diags)
	}
	return tickets, nil
}
