// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the loopback HTTP listener.
//
// Text arrives from external tools on two routes and is passed through the
// ingest pipeline. The same listener carries the command and event surface
// the host UI uses.
//
// # Endpoints
//
//   - POST /submit               - Submit text (raw body, or {"text": "..."})
//   - POST /v1/chat/completions  - Harvest the last user message; always 404
//   - GET  /api/commands         - List commands
//   - POST /api/commands/{name}  - Invoke a command with a JSON argument object
//   - GET  /events               - Websocket event stream
//   - GET  /health               - Health check
//   - GET  /metrics              - Prometheus metrics
//
// The chat-completions route is off until SetOpenAICompatibleInput(true).
// A failed bind is kept for LastError and broadcast as http_server_failed.
//
// # Middleware
//
//   - Panic recovery
//   - Security headers
//   - CORS for the desktop webview
//   - Request logging
//   - Per-client rate limiting (golang.org/x/time/rate)
//
// # Usage
//
//	srv := server.NewServer(cfg.Server.Port, pipeline, hub, logger).
//		WithCommands(reg).
//		WithEvents(hub.Handler(nil))
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
