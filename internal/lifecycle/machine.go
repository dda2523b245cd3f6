// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package lifecycle enforces the RelVal status ladder
// new → approved → submitted → done.
//
// A RelVal moves one rung at a time. Forward moves are guarded:
//
//   - new → approved builds the driver command and caches it together with
//     the content hash of the inputs it was built from;
//   - approved → submitted requires that cache to be present and current;
//   - submitted → done requires at least one finished workflow.
//
// Backward moves are unguarded and cannot fail for any reason other than an
// illegal source stage. Leaving approved discards the cached command.
// Workflow records survive every backward move, and done accepts no moves.
//
// The Machine never mutates its argument. Every operation returns a modified
// clone, so a rejected move leaves the caller's RelVal untouched.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/specialistvlad/relvalgo/internal/cmsdriver"
	"github.com/specialistvlad/relvalgo/internal/digest"
	"github.com/specialistvlad/relvalgo/internal/model"
)

// Direction selects the neighbour stage a transition moves to.
type Direction int

const (
	// Forward moves to the next stage.
	Forward Direction = iota
	// Backward moves to the previous stage.
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// ParseDirection accepts "next"/"forward" and "previous"/"backward".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "next", "forward", "next_status":
		return Forward, nil
	case "previous", "backward", "previous_status":
		return Backward, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Machine applies transitions and field updates.
type Machine struct {
	now func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the clock used for history entries.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// New creates a Machine.
func New(opts ...Option) *Machine {
	m := &Machine{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Advance moves r one stage in direction dir on behalf of actor.
func (m *Machine) Advance(r *model.RelVal, dir Direction, actor string) (*model.RelVal, error) {
	if r.Status == model.StatusDone || !r.Status.Valid() {
		return nil, &TransitionError{RelVal: r.ID, From: r.Status, Direction: dir}
	}

	var (
		target model.Status
		ok     bool
	)
	if dir == Forward {
		target, ok = r.Status.Next()
	} else {
		target, ok = r.Status.Previous()
	}
	if !ok {
		return nil, &TransitionError{RelVal: r.ID, From: r.Status, Direction: dir}
	}

	out := r.Clone()
	var err error
	switch {
	case dir == Backward:
		if r.Status == model.StatusApproved {
			out.Cache = nil
		}
	case target == model.StatusApproved:
		err = approve(out)
	case target == model.StatusSubmitted:
		err = CheckCommand(out)
	case target == model.StatusDone:
		err = checkCompleted(out)
	}
	if err != nil {
		return nil, err
	}

	out.Status = target
	out.AddHistory(actor, m.now(), model.ActionStatus, fmt.Sprintf("%s -> %s", r.Status, target))
	return out, nil
}

// approve builds the command and records it with its content hash.
func approve(r *model.RelVal) error {
	cmd, jobs, err := cmsdriver.Build(r)
	if err != nil {
		return err
	}
	hash, err := digest.RelVal(r)
	if err != nil {
		return err
	}
	r.Cache = &model.CommandCache{Hash: hash, Command: cmd, JobDict: jobs}
	return nil
}

// CheckCommand verifies that r carries a cached command built from its
// current content.
func CheckCommand(r *model.RelVal) error {
	if r.Cache == nil {
		return &PreconditionError{ID: r.ID, Reason: ErrStaleCommand, Detail: "no command was generated"}
	}
	hash, err := digest.RelVal(r)
	if err != nil {
		return err
	}
	if hash != r.Cache.Hash {
		return &PreconditionError{ID: r.ID, Reason: ErrStaleCommand, Detail: "content changed since approval"}
	}
	return nil
}

func checkCompleted(r *model.RelVal) error {
	for _, w := range r.Workflows {
		if w.Terminal() {
			return nil
		}
	}
	return &PreconditionError{ID: r.ID, Reason: ErrNoCompletedWorkflow}
}
