// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events carries notifications from the daemon to the UI.
//
// There are exactly three events: IncomingText, HTTPServerFailed and
// TranslationHistoryUpdated. Producers depend only on the Emitter interface;
// the Hub implementation fans envelopes out to websocket subscribers.
//
// # Key Types
//
//   - Emitter: what producers call
//   - Hub: in-process fan-out with bounded per-subscriber queues
//   - Envelope: id, event name, JSON payload and timestamp
//
// # Usage
//
//	hub := events.NewHub(logger)
//	mux.Handle("GET /events", hub.Handler(nil))
//	_ = hub.Emit(events.IncomingText, "こんにちは")
package events
