// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package testutil

import (
	"context"
	"testing"

	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/registry"
	"github.com/stretchr/testify/require"
)

// Campaign is the campaign declared by CatalogHCL.
const Campaign = "2025_RelVal"

// CatalogHCL is a small but complete catalog used across the test suite.
const CatalogHCL = `
campaign "2025_RelVal" {
  release    = "CMSSW_14_0_0"
  scram_arch = "el8_amd64_gcc12"
  global_tag = "140X_mcRun3_v1"
  era        = "Run3"

  resources {
    cpu_cores = 8
    memory    = 16000
  }

  template "GEN-SIM" {
    sequence      = "GEN,SIM"
    datatier      = "GEN-SIM"
    event_content = "RAWSIM"
    events        = 100
  }

  template "DIGI" {
    sequence      = "DIGI:pdigi_valid,L1,DIGI2RAW,HLT"
    datatier      = "GEN-SIM-DIGI-RAW"
    event_content = "FEVTDEBUGHLT"
  }

  template "RECO" {
    sequence      = "RAW2DIGI,L1Reco,RECO"
    datatier      = "AODSIM"
    event_content = "AODSIM"
  }
}
`

// Catalog parses CatalogHCL.
func Catalog(t *testing.T) *registry.Catalog {
	t.Helper()
	catalog, err := registry.ParseCatalog(context.Background(), []byte(CatalogHCL), "catalog.hcl")
	require.NoError(t, err)
	return catalog
}

// Registry wraps Catalog in a static registry.
func Registry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.NewStatic(Catalog(t))
}

// Steps builds a sample step list from template names.
func Steps(templates ...string) []model.SampleStep {
	out := make([]model.SampleStep, len(templates))
	for i, name := range templates {
		out[i] = model.SampleStep{Step: model.Step{Template: name}}
	}
	return out
}

// Ticket returns a one-sample ticket reading DatasetA through GEN-SIM and
// DIGI.
func Ticket(id string) *model.Ticket {
	return &model.Ticket{
		ID:       id,
		Campaign: Campaign,
		Status:   model.TicketNew,
		Samples: []model.Sample{
			{Input: "DatasetA", Steps: Steps("GEN-SIM", "DIGI")},
		},
	}
}
