// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package model

import "time"

// History actions recorded on Tickets and RelVals.
const (
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionGenerate = "generate"
	ActionStatus   = "set status"
	ActionSubmit   = "submit"
	ActionWorkflow = "update workflows"
)

// HistoryEntry is one provenance record. The first entry of an entity's
// history is always its creation.
type HistoryEntry struct {
	User   string    `json:"user"`
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
}

// CreatedBy returns the user of the first history entry.
func CreatedBy(h []HistoryEntry) string {
	if len(h) == 0 {
		return ""
	}
	return h[0].User
}

func cloneHistory(h []HistoryEntry) []HistoryEntry {
	if h == nil {
		return nil
	}
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out
}
