// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the Ticket, the batch request a set of RelVals is
// generated from, together with its Samples.
//
// A Ticket's CreatedRelVals list only ever grows. Generation never removes an
// entry and never re-creates one: RelVal identifiers are derived from the
// ticket identifier and the sample key, so the list doubles as the record of
// which samples have already been expanded.
package model

import (
	"encoding/json"
	"slices"
	"time"
)

// SampleStep is a partially specified step. Template names the catalog entry
// to start from; every other non-zero field overrides the template.
//
// In JSON a SampleStep may be written as a bare template name.
type SampleStep struct {
	Step
}

// UnmarshalJSON accepts either a template name or a full step object.
func (s *SampleStep) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		s.Step = Step{Template: name}
		return nil
	}
	return json.Unmarshal(data, &s.Step)
}

// Sample is one logical validation workflow requested by a Ticket.
type Sample struct {
	Name     string       `json:"name,omitempty"`
	Input    string       `json:"input,omitempty"`
	Fragment string       `json:"fragment,omitempty"`
	Events   int          `json:"events,omitempty"`
	Steps    []SampleStep `json:"steps"`
}

// Key returns the sample identity used to derive RelVal identifiers.
func (s Sample) Key() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Input != "":
		return s.Input
	default:
		return s.Fragment
	}
}

// Ticket is a batch request for RelVals.
type Ticket struct {
	ID       string       `json:"id"`
	Campaign string       `json:"campaign"`
	Samples  []Sample     `json:"samples"`
	Notes    string       `json:"notes,omitempty"`
	Status   TicketStatus `json:"status"`

	History        []HistoryEntry `json:"history"`
	CreatedRelVals []string       `json:"created_relvals"`

	// Revision is maintained by the store for optimistic concurrency.
	Revision int64 `json:"-"`
}

// AddHistory appends a provenance record.
func (t *Ticket) AddHistory(user string, at time.Time, action, detail string) {
	t.History = append(t.History, HistoryEntry{User: user, Time: at, Action: action, Detail: detail})
}

// HasRelVal reports whether id was already generated from this ticket.
func (t *Ticket) HasRelVal(id string) bool {
	return slices.Contains(t.CreatedRelVals, id)
}

// Clone returns a deep copy of t.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	out := *t
	if t.Samples != nil {
		out.Samples = make([]Sample, len(t.Samples))
		for i, s := range t.Samples {
			s.Steps = append([]SampleStep(nil), s.Steps...)
			out.Samples[i] = s
		}
	}
	out.History = cloneHistory(t.History)
	out.CreatedRelVals = append([]string(nil), t.CreatedRelVals...)
	return &out
}

// DocumentID implements store.Entity.
func (t *Ticket) DocumentID() string { return t.ID }

// DocumentRevision implements store.Entity.
func (t *Ticket) DocumentRevision() int64 { return t.Revision }

// SetDocumentRevision implements store.Entity.
func (t *Ticket) SetDocumentRevision(rev int64) { t.Revision = rev }
