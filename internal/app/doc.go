// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package app wires the RelVal manager together: configuration, logging,
// the catalog registry, the document store, the service and its HTTP and
// feed front ends. It is decoupled from the CLI entrypoint, which only
// parses flags and hands over a Config.
package app
