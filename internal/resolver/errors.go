// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package resolver

import (
	"errors"
	"fmt"
)

// Resolution failure kinds. A *ResolutionError always wraps exactly one.
var (
	// ErrMissingInput means a step has no explicit input and no predecessor
	// it could chain from.
	ErrMissingInput = errors.New("missing input")
	// ErrUnknownTemplate means a referenced campaign or template is not in
	// the catalog.
	ErrUnknownTemplate = errors.New("unknown template")
	// ErrAmbiguousInput means a step both names an explicit input and asks
	// to chain from its predecessor.
	ErrAmbiguousInput = errors.New("ambiguous input")
	// ErrIncomplete means the resolved step still lacks a field the driver
	// command cannot do without.
	ErrIncomplete = errors.New("incomplete step")
)

// ResolutionError describes why a step could not be resolved. It is a user
// input problem and is meant to be shown to the caller as is.
type ResolutionError struct {
	Campaign string
	Template string
	Step     string
	Detail   string
	Err      error
}

func (e *ResolutionError) Error() string {
	name := e.Step
	if name == "" {
		name = e.Template
	}
	if e.Detail == "" {
		return fmt.Sprintf("step %q: %v", name, e.Err)
	}
	return fmt.Sprintf("step %q: %v: %s", name, e.Err, e.Detail)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
