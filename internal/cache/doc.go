// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the persistent translation cache.
//
// Translations are stored in a single SQLite file at
// <data_dir>/cache/translations.sqlite3, keyed by a 64-bit xxHash of the
// source text. The file is opened for each operation, so no connection is held
// between calls and several processes may share the cache.
//
// # Key Types
//
//   - Store: get/put access to the cache file
//   - Entry: a cached row with its source text and creation time
//
// # Usage
//
//	store, err := cache.Open(dataDir, cache.WithMemo(256))
//	if err != nil {
//		return err
//	}
//	if err := store.Put(ctx, original, translation); err != nil {
//		return err
//	}
//	text, ok, err := store.Get(ctx, original)
package cache
