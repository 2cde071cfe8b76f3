// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for the
// translator daemon.
//
// TOML, YAML and JSON files are supported, with defaults, environment
// variable overrides and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: HTTP listener, /submit format, chat-completions gate
//   - ClipboardConfig: Clipboard watcher timing
//   - FuriganaConfig: Tokenizer dictionary
//   - CacheConfig: Translation cache memo and concurrency
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (TRANSLATOR_PORT, ANNA_*)
//   - <UserConfigDir>/AnnaTranslator/config.toml
//   - <UserConfigDir>/AnnaTranslator/config.yaml
//   - <UserConfigDir>/AnnaTranslator/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	port := cfg.Server.Port
//
// Watch reloads a file on change:
//
//	go config.Watch(ctx, path, 0, logger, func(c *config.Config) {
//	    engine.Install(c.Replacements)
//	})
package config
