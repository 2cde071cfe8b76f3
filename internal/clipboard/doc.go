// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clipboard watches the system clipboard and forwards new text.
//
// The Watcher is a two-state machine. In StateIdle it only waits (500ms by
// default); in StateActive it reads the clipboard every 1.5s. A snapshot is
// forwarded only if it is non-blank, survives rewriting, and differs from the
// last forwarded text. The last-forwarded text is kept across disable/enable
// unless Options.ResetDedupeOnEnable is set.
//
// # Usage
//
//	w := clipboard.NewWatcher(clipboard.SystemSource{}, pipeline, clipboard.Options{}, metrics, logger)
//	go w.Run(ctx)
//	w.SetEnabled(true)
package clipboard
