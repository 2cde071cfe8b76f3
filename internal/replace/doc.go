// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package replace provides the hot-swappable regular-expression rewrite stage
// that every piece of incoming text passes through before it is broadcast.
//
// Rules are compiled once when installed. An installed set is immutable; a new
// Install replaces the whole set in one step, so concurrent Apply calls see
// either the old list or the new one and never a mix.
//
// # Key Types
//
//   - RuleSpec: user-facing rule (pattern, replacement, flag letters)
//   - Rule: compiled rule
//   - Engine: ordered, concurrency-safe rule list
//   - InstallReport: per-rule diagnostics from an Install
//
// # Flags
//
//   - i / I: case-insensitive
//   - m / M: ^ and $ match at line boundaries
//   - s / S: . matches newline
//   - x / X: whitespace and # comments in the pattern are ignored
//   - U: swap greedy and lazy quantifiers
//
// Any other letter is ignored.
//
// # Usage
//
//	eng := replace.NewEngine(logger)
//	eng.Install([]replace.RuleSpec{
//		{Pattern: `\s+`, Replacement: " "},
//		{Pattern: `「(.+?)」`, Replacement: "$1"},
//	})
//	out := eng.Apply(raw)
package replace
