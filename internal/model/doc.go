// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model provides the Go representation of the records the release
// validation manager works with. It is the shared vocabulary of every other
// package: the resolver fills Steps, the command builder reads them, the
// lifecycle package moves RelVals through their statuses and the stores
// persist Tickets and RelVals as documents.
//
// # Core Concepts
//
//   - Ticket: a batch request. It carries the parameters shared by a set of
//     samples (the campaign whose step templates should be used, the samples
//     themselves and free-form notes) and remembers which RelVals it has
//     produced.
//
//   - RelVal: one validation workflow. It owns an ordered chain of Steps, a
//     lifecycle Status, the list of WorkflowRecords reported for it by the
//     external batch system and, once approved, the cached driver command and
//     job dictionary derived from its steps.
//
//   - Step: one processing stage. A Step either names an explicit input
//     (a dataset or a generator fragment) or chains from the output of the
//     step right before it.
//
//   - WorkflowRecord: an externally reported execution of a RelVal. Records
//     are append-only; only their completion and output datasets change.
//
// Types in this package carry no behaviour beyond small invariants and deep
// copies. Anything that needs a catalog, a clock or a store lives elsewhere.
package model
