// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package service

import (
	"errors"

	"github.com/specialistvlad/relvalgo/internal/identity"
)

// Access errors, shared with the identity package.
var (
	ErrForbidden       = identity.ErrForbidden
	ErrUnauthenticated = identity.ErrUnauthenticated
)

// ErrSubmission wraps failures of the batch system. The RelVal has been
// moved back to approved when it is returned.
var ErrSubmission = errors.New("submission failed")

// ErrInvalid is wrapped by *ValidationError.
var ErrInvalid = errors.New("invalid input")

// ValidationError rejects a malformed Ticket or RelVal at creation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }
