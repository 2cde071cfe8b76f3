// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands is the named-command surface the host UI calls into.
//
// Every command takes one JSON object of arguments and returns a JSON-encodable
// result. The HTTP server exposes the registry under /api/commands.
//
// # Key Types
//
//   - Registry: name and alias lookup, listing, and Invoke with argument checks
//   - Command: name, description, declared arguments and handler
//   - Deps: the components RegisterBuiltins wires commands to
//
// # Built-in Commands
//
//   - set_clipboard_watch {enabled}
//   - set_openai_compatible_input {enabled}
//   - set_text_replacements {rules}
//   - get_text_replacements {}
//   - annotate_furigana {text}
//   - get_cached_translation {text}
//   - store_translation {text, translation}
//   - record_translation_history {original, translation}
//   - get_translation_history {}
//   - get_http_server_error {}
//
// # Usage
//
//	reg := commands.NewRegistry(metrics, logger)
//	commands.RegisterBuiltins(reg, commands.Deps{Rules: engine, ...})
//	result, err := reg.Invoke(ctx, "annotate_furigana", json.RawMessage(`{"text":"漢字"}`))
//	if errors.Is(err, commands.ErrUnknownCommand) { ... }
package commands
