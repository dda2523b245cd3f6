// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the RelVal, the central record of the system.
//
// A RelVal exclusively owns its Steps and WorkflowRecords: nothing else holds
// a pointer into them, and every package that wants to change a RelVal works
// on a Clone and hands the clone back. That keeps a failed transition or a
// rejected edit from leaving a half-modified record behind.
package model

import "time"

// RelVal is one release-validation workflow definition.
type RelVal struct {
	ID        string `json:"id"`
	Ticket    string `json:"ticket,omitempty"`
	SampleKey string `json:"sample,omitempty"`
	Campaign  string `json:"campaign,omitempty"`
	Label     string `json:"label,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CPUCores  int    `json:"cpu_cores,omitempty"`
	MemoryMB  int    `json:"memory,omitempty"`

	Steps  []Step `json:"steps"`
	Status Status `json:"status"`

	Workflows      []WorkflowRecord `json:"workflows"`
	OutputDatasets []string         `json:"output_datasets,omitempty"`

	Cache   *CommandCache  `json:"cache,omitempty"`
	History []HistoryEntry `json:"history"`

	// Revision is maintained by the store for optimistic concurrency.
	Revision int64 `json:"-"`
}

// Editable reports whether field updates may be applied: the RelVal is new,
// or approved with nothing reported by the batch system yet.
func (r *RelVal) Editable() bool {
	switch r.Status {
	case StatusNew:
		return true
	case StatusApproved:
		return len(r.Workflows) == 0
	default:
		return false
	}
}

// AddHistory appends a provenance record.
func (r *RelVal) AddHistory(user string, at time.Time, action, detail string) {
	r.History = append(r.History, HistoryEntry{User: user, Time: at, Action: action, Detail: detail})
}

// Clone returns a deep copy of r.
func (r *RelVal) Clone() *RelVal {
	if r == nil {
		return nil
	}
	out := *r
	out.Steps = CloneSteps(r.Steps)
	out.Workflows = CloneWorkflows(r.Workflows)
	out.OutputDatasets = append([]string(nil), r.OutputDatasets...)
	out.Cache = r.Cache.Clone()
	out.History = cloneHistory(r.History)
	return &out
}

// DocumentID implements store.Entity.
func (r *RelVal) DocumentID() string { return r.ID }

// DocumentRevision implements store.Entity.
func (r *RelVal) DocumentRevision() int64 { return r.Revision }

// SetDocumentRevision implements store.Entity.
func (r *RelVal) SetDocumentRevision(rev int64) { r.Revision = rev }
