// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package lifecycle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/specialistvlad/relvalgo/internal/model"
)

// Patch is a loosely typed field update keyed by the JSON field name.
type Patch map[string]json.RawMessage

// Updatable field names.
const (
	FieldNotes    = "notes"
	FieldLabel    = "label"
	FieldSteps    = "steps"
	FieldCPUCores = "cpu_cores"
	FieldMemory   = "memory"
)

// updatable maps each field that may be edited to whether it feeds the
// driver command.
var updatable = map[string]bool{
	FieldNotes:    false,
	FieldLabel:    false,
	FieldSteps:    true,
	FieldCPUCores: true,
	FieldMemory:   true,
}

// readOnly lists the fields that exist on a RelVal but are never edited
// through an update.
var readOnly = []string{"id", "ticket", "sample", "campaign", "status", "workflows", "output_datasets", "cache", "history"}

// EditableFields reports, for every field of r, whether an update may
// change it right now.
func EditableFields(r *model.RelVal) map[string]bool {
	editable := r.Editable()
	out := make(map[string]bool, len(updatable)+len(readOnly))
	for name := range updatable {
		out[name] = editable
	}
	for _, name := range readOnly {
		out[name] = false
	}
	return out
}

// Update applies patch to a clone of r. A RelVal that is not editable
// rejects every update. Editing a command field of an approved RelVal sends
// it back to new and drops its cached command.
func (m *Machine) Update(r *model.RelVal, patch Patch, actor string) (*model.RelVal, error) {
	if !r.Editable() {
		return nil, &PreconditionError{ID: r.ID, Reason: ErrLockedForEditing, Detail: fmt.Sprintf("status is %q", r.Status)}
	}

	names := make([]string, 0, len(patch))
	for name := range patch {
		if _, ok := updatable[name]; !ok {
			if slices.Contains(readOnly, name) {
				return nil, &FieldError{Field: name, Reason: "not editable"}
			}
			return nil, &FieldError{Field: name, Reason: "unknown field"}
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := r.Clone()
	for _, name := range names {
		if err := apply(out, name, patch[name]); err != nil {
			return nil, err
		}
	}

	if len(names) == 0 {
		return out, nil
	}
	now := m.now()
	out.AddHistory(actor, now, model.ActionUpdate, strings.Join(names, ","))

	if out.Status == model.StatusApproved && commandChanged(r, out) {
		out.Status = model.StatusNew
		out.Cache = nil
		out.AddHistory(actor, now, model.ActionStatus, fmt.Sprintf("%s -> %s", model.StatusApproved, model.StatusNew))
	}
	return out, nil
}

func apply(r *model.RelVal, name string, raw json.RawMessage) error {
	switch name {
	case FieldNotes:
		return decodeField(name, raw, &r.Notes)
	case FieldLabel:
		return decodeField(name, raw, &r.Label)
	case FieldSteps:
		var steps []model.Step
		if err := decodeField(name, raw, &steps); err != nil {
			return err
		}
		if len(steps) == 0 {
			return &FieldError{Field: name, Reason: "at least one step is required"}
		}
		r.Steps = steps
	case FieldCPUCores:
		return decodePositive(name, raw, &r.CPUCores)
	case FieldMemory:
		return decodePositive(name, raw, &r.MemoryMB)
	}
	return nil
}

func decodeField(name string, raw json.RawMessage, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return &FieldError{Field: name, Reason: err.Error()}
	}
	return nil
}

func decodePositive(name string, raw json.RawMessage, target *int) error {
	var v int
	if err := decodeField(name, raw, &v); err != nil {
		return err
	}
	if v <= 0 {
		return &FieldError{Field: name, Reason: "must be positive"}
	}
	*target = v
	return nil
}

func commandChanged(before, after *model.RelVal) bool {
	return before.CPUCores != after.CPUCores ||
		before.MemoryMB != after.MemoryMB ||
		!slices.Equal(before.Steps, after.Steps)
}
