// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across anna.
//
// # Key Functions
//
// Display width (CJK aware, via go-runewidth):
//   - StringWidth: terminal columns occupied by a string
//   - TruncateWidth: cut to a column budget with "..."
//   - Preview: single-line, width-limited excerpt for logs
//   - PadWidth: fixed-width column for tables
//
// File Operations:
//   - WriteFileAtomic: temp file, fsync, rename
//
// # Usage
//
//	logger.Info("TEXT_INGESTED", zap.String("preview", util.Preview(text, 40)))
//
//	err := util.WriteFileAtomic(path, 0o600, func(w io.Writer) error {
//	    return toml.NewEncoder(w).Encode(cfg)
//	})
package util
