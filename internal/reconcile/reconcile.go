// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package reconcile merges externally reported workflow state into a RelVal.
//
// Reports are partial snapshots keyed by workflow name. An unknown name is
// appended; a known name only has its completion and output datasets
// updated. Completion never goes backwards and an empty output list in a
// report does not erase outputs already recorded. Records are never removed,
// so reconciling the same report twice, or reports for distinct names in any
// order, converges on the same record set.
package reconcile

import (
	"github.com/specialistvlad/relvalgo/internal/model"
)

// Report is one workflow as seen by the external status feed.
type Report struct {
	Name           string   `json:"name"`
	Type           string   `json:"type,omitempty"`
	Completion     float64  `json:"completion"`
	OutputDatasets []string `json:"output_datasets,omitempty"`
}

// Reconcile returns a clone of r with reports merged in. Reports without a
// name are ignored. The status of r is never changed.
func Reconcile(r *model.RelVal, reports []Report) *model.RelVal {
	out := r.Clone()
	index := make(map[string]int, len(out.Workflows))
	for i, w := range out.Workflows {
		index[w.Name] = i
	}

	for _, rep := range reports {
		if rep.Name == "" {
			continue
		}
		completion := clamp(rep.Completion)
		i, known := index[rep.Name]
		if !known {
			index[rep.Name] = len(out.Workflows)
			out.Workflows = append(out.Workflows, model.WorkflowRecord{
				Name:           rep.Name,
				Type:           rep.Type,
				Completion:     completion,
				OutputDatasets: append([]string(nil), rep.OutputDatasets...),
			})
			continue
		}

		w := &out.Workflows[i]
		if completion > w.Completion {
			w.Completion = completion
		}
		if len(rep.OutputDatasets) > 0 {
			w.OutputDatasets = append([]string(nil), rep.OutputDatasets...)
		}
	}

	out.OutputDatasets = OutputDatasets(out.Workflows)
	return out
}

// OutputDatasets returns the outputs of the most recently appended record
// that reported any.
func OutputDatasets(records []model.WorkflowRecord) []string {
	for i := len(records) - 1; i >= 0; i-- {
		if len(records[i].OutputDatasets) > 0 {
			return append([]string(nil), records[i].OutputDatasets...)
		}
	}
	return nil
}

// AllTerminal reports whether r has at least one workflow and every one of
// them has finished.
func AllTerminal(r *model.RelVal) bool {
	if len(r.Workflows) == 0 {
		return false
	}
	for _, w := range r.Workflows {
		if !w.Terminal() {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
