// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the lifecycle statuses of a RelVal and their ordering.
//
// The ladder is strictly linear: new → approved → submitted → done. A RelVal
// only ever moves one rung at a time, which is why Next and Previous are the
// only navigation primitives offered here. Whether a move is allowed is
// decided by the lifecycle package; this file only knows the order.
package model

import "fmt"

// Status is the lifecycle stage of a RelVal.
type Status string

const (
	// StatusNew is the initial, fully editable stage.
	StatusNew Status = "new"
	// StatusApproved means the steps resolved and the driver command was built.
	StatusApproved Status = "approved"
	// StatusSubmitted means the command was handed to the batch system.
	StatusSubmitted Status = "submitted"
	// StatusDone is terminal.
	StatusDone Status = "done"
)

var statusLadder = []Status{StatusNew, StatusApproved, StatusSubmitted, StatusDone}

// Index returns the position of s on the ladder, or -1 for unknown values.
func (s Status) Index() int {
	for i, candidate := range statusLadder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known stages.
func (s Status) Valid() bool {
	return s.Index() >= 0
}

// Next returns the immediate successor of s.
func (s Status) Next() (Status, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(statusLadder) {
		return "", false
	}
	return statusLadder[i+1], true
}

// Previous returns the immediate predecessor of s.
func (s Status) Previous() (Status, bool) {
	i := s.Index()
	if i <= 0 {
		return "", false
	}
	return statusLadder[i-1], true
}

// ParseStatus converts a string into a Status, rejecting unknown values.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// TicketStatus tracks whether every sample of a Ticket has been generated.
type TicketStatus string

const (
	// TicketNew means at least one sample still has no RelVal.
	TicketNew TicketStatus = "new"
	// TicketDone means every sample has a RelVal.
	TicketDone TicketStatus = "done"
)
