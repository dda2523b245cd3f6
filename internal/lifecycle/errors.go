// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/relvalgo/internal/model"
)

// ErrInvalidTransition is wrapped by every *TransitionError.
var ErrInvalidTransition = errors.New("invalid transition")

// Precondition reasons. A *PreconditionError wraps exactly one.
var (
	// ErrLockedForEditing means the RelVal's stage does not accept edits.
	ErrLockedForEditing = errors.New("locked for editing")
	// ErrStaleCommand means the cached command is missing or was built from
	// different content.
	ErrStaleCommand = errors.New("stale command")
	// ErrNoCompletedWorkflow means no reported workflow has finished yet.
	ErrNoCompletedWorkflow = errors.New("no completed workflow")
	// ErrHasGeneratedRelVals means a ticket cannot be deleted or reshaped
	// because RelVals were generated from it.
	ErrHasGeneratedRelVals = errors.New("ticket has generated relvals")
	// ErrNotDeletable means a RelVal left the new stage and must be kept.
	ErrNotDeletable = errors.New("relval is not deletable")
)

// TransitionError is an illegal lifecycle move. It is never retried.
type TransitionError struct {
	RelVal    string
	From      model.Status
	Direction Direction
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move %s from %q", e.RelVal, e.Direction, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// PreconditionError rejects an operation whose preconditions do not hold.
// The caller can resolve it, typically by reverting the status or by
// approving again.
type PreconditionError struct {
	ID     string
	Reason error
	Detail string
}

func (e *PreconditionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.ID, e.Reason)
	}
	return fmt.Sprintf("%s: %v: %s", e.ID, e.Reason, e.Detail)
}

func (e *PreconditionError) Unwrap() error { return e.Reason }

// FieldError rejects a field update that is not on the allow-list or whose
// value cannot be decoded.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}
