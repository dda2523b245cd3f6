// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

// WorkflowTypeDone is the record type reported for finished workflows.
const WorkflowTypeDone = "done"

// WorkflowRecord is one externally reported execution of a RelVal's command.
// Name and Type never change after the record is first appended.
type WorkflowRecord struct {
	Name           string   `json:"name"`
	Type           string   `json:"type,omitempty"`
	OutputDatasets []string `json:"output_datasets,omitempty"`
	Completion     float64  `json:"completion"`
}

// Terminal reports whether the record describes a finished workflow.
func (w WorkflowRecord) Terminal() bool {
	return w.Completion >= 1 || w.Type == WorkflowTypeDone
}

// Clone returns a deep copy of w.
func (w WorkflowRecord) Clone() WorkflowRecord {
	w.OutputDatasets = append([]string(nil), w.OutputDatasets...)
	return w
}

// CloneWorkflows returns a deep copy of records.
func CloneWorkflows(records []WorkflowRecord) []WorkflowRecord {
	if records == nil {
		return nil
	}
	out := make([]WorkflowRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
