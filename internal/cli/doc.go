// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the anna command line.
//
// # Commands
//
//   - serve: Run the daemon (HTTP listener, clipboard watcher, event stream)
//   - annotate: Print furigana markup or spans for text
//   - submit: Send text to a running daemon
//   - listen: Print a running daemon's event stream
//   - status: Show a running daemon's health
//   - cache: stats, get and put on the translation cache
//   - rules: check and list the configured replacement rules
//   - config: show, path and init
//   - doctor: Environment health checks
//   - version: Build information
//
// Global flags are --config, --verbose and --json. Errors are returned from
// every command and mapped to exit codes by Execute (see ExitCode).
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Main(context.Background()))
//	}
package cli
