// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/keocheung/AnnaTranslator/internal/events"
	"github.com/keocheung/AnnaTranslator/internal/history"
	"github.com/keocheung/AnnaTranslator/internal/replace"
	"github.com/keocheung/AnnaTranslator/internal/telemetry"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// RuleInstaller replaces and reports the active rewrite rules.
// *replace.Engine implements it.
type RuleInstaller interface {
	Install(specs []replace.RuleSpec) replace.InstallReport
	Specs() []replace.RuleSpec
}

// Annotator renders ruby markup. *furigana.Annotator implements it.
type Annotator interface {
	Annotate(text string) (string, error)
}

// TranslationCache is the persistent translation store. *cache.Store implements it.
type TranslationCache interface {
	Get(ctx context.Context, text string) (string, bool, error)
	Put(ctx context.Context, text, translation string) error
}

// HistoryLog is the session history. *history.Log implements it.
type HistoryLog interface {
	Record(original, translation string) bool
	List() []history.Entry
}

// ClipboardToggle switches clipboard watching. *clipboard.Watcher implements it.
type ClipboardToggle interface {
	SetEnabled(on bool)
}

// InputToggle gates the chat-completions route. *server.Server implements it.
type InputToggle interface {
	SetOpenAICompatibleInput(on bool)
}

// ServerStatus exposes the listener's last bind failure. *server.Server implements it.
type ServerStatus interface {
	LastError() *events.ServerFailure
}

// Deps are the components the built-in commands operate on.
type Deps struct {
	Rules     RuleInstaller
	Annotator Annotator
	Cache     TranslationCache
	History   HistoryLog
	Clipboard ClipboardToggle
	Input     InputToggle
	Server    ServerStatus
	Metrics   *telemetry.Metrics
}

// =============================================================================
// ARGUMENTS
// =============================================================================

type enabledArgs struct {
	Enabled bool `json:"enabled"`
}

type rulesArgs struct {
	Rules []replace.RuleSpec `json:"rules"`
}

type textArgs struct {
	Text string `json:"text"`
}

type storeArgs struct {
	Text        string `json:"text"`
	Translation string `json:"translation"`
}

type historyArgs struct {
	Original    string `json:"original"`
	Translation string `json:"translation"`
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

// RegisterBuiltins registers the host-facing commands backed by d.
func RegisterBuiltins(r *Registry, d Deps) {
	if d.Metrics == nil {
		d.Metrics = telemetry.Nop()
	}

	r.Register(&Command{
		Name:        "set_clipboard_watch",
		Description: "Turn clipboard watching on or off",
		Args:        []ArgDef{{Name: "enabled", Required: true, Type: ArgTypeBool}},
		Category:    "Input",
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var a enabledArgs
			if err := decodeArgs("set_clipboard_watch", raw, &a); err != nil {
				return nil, err
			}
			d.Clipboard.SetEnabled(a.Enabled)
			return nil, nil
		},
	})

	r.Register(&Command{
		Name:        "set_openai_compatible_input",
		Description: "Accept text posted to /v1/chat/completions",
		Args:        []ArgDef{{Name: "enabled", Required: true, Type: ArgTypeBool}},
		Category:    "Input",
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var a enabledArgs
			if err := decodeArgs("set_openai_compatible_input", raw, &a); err != nil {
				return nil, err
			}
			d.Input.SetOpenAICompatibleInput(a.Enabled)
			return nil, nil
		},
	})

	r.Register(&Command{
		Name:        "set_text_replacements",
		Description: "Replace the active rewrite rules",
		Args: []ArgDef{{
			Name: "rules", Required: true, Type: ArgTypeRules,
			Description: "ordered list of {pattern, replacement, flags}",
		}},
		Category: "Input",
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var a rulesArgs
			if err := decodeArgs("set_text_replacements", raw, &a); err != nil {
				return nil, err
			}
			return d.Rules.Install(a.Rules), nil
		},
	})

	r.Register(&Command{
		Name:        "get_text_replacements",
		Description: "List the rewrite rules that compiled and are active",
		Category:    "Input",
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return d.Rules.Specs(), nil
		},
	})

	r.Register(&Command{
		Name:        "annotate_furigana",
		Aliases:     []string{"annotate"},
		Description: "Render text as HTML with ruby readings",
		Args:        []ArgDef{{Name: "text", Required: true, Type: ArgTypeString}},
		Category:    "Display",
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a textArgs
			if err := decodeArgs("annotate_furigana", raw, &a); err != nil {
				return nil, err
			}
			start := time.Now()
			html, err := d.Annotator.Annotate(a.Text)
			d.Metrics.AnnotateDuration.Record(ctx, time.Since(start).Seconds())
			if err != nil {
				return nil, fmt.Errorf("annotate: %w", err)
			}
			return html, nil
		},
	})

	r.Register(&Command{
		Name:        "get_cached_translation",
		Description: "Look up a stored translation; null when unseen",
		Args:        []ArgDef{{Name: "text", Required: true, Type: ArgTypeString}},
		Category:    "Cache",
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a textArgs
			if err := decodeArgs("get_cached_translation", raw, &a); err != nil {
				return nil, err
			}
			translation, ok, err := d.Cache.Get(ctx, a.Text)
			switch {
			case err != nil:
				telemetry.Count(ctx, d.Metrics.CacheLookups, "result", "error")
				return nil, err
			case !ok:
				telemetry.Count(ctx, d.Metrics.CacheLookups, "result", "miss")
				return nil, nil
			}
			telemetry.Count(ctx, d.Metrics.CacheLookups, "result", "hit")
			return translation, nil
		},
	})

	r.Register(&Command{
		Name:        "store_translation",
		Description: "Persist a translation; blank translations are ignored",
		Args: []ArgDef{
			{Name: "text", Required: true, Type: ArgTypeString},
			{Name: "translation", Required: true, Type: ArgTypeString},
		},
		Category: "Cache",
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var a storeArgs
			if err := decodeArgs("store_translation", raw, &a); err != nil {
				return nil, err
			}
			if strings.TrimSpace(a.Translation) == "" {
				telemetry.Count(ctx, d.Metrics.CacheWrites, "result", "skipped")
				return nil, nil
			}
			if err := d.Cache.Put(ctx, a.Text, a.Translation); err != nil {
				telemetry.Count(ctx, d.Metrics.CacheWrites, "result", "error")
				return nil, err
			}
			telemetry.Count(ctx, d.Metrics.CacheWrites, "result", "stored")
			return nil, nil
		},
	})

	r.Register(&Command{
		Name:        "record_translation_history",
		Description: "Append to the session history",
		Args: []ArgDef{
			{Name: "original", Required: true, Type: ArgTypeString},
			{Name: "translation", Required: true, Type: ArgTypeString},
		},
		Category: "History",
		Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var a historyArgs
			if err := decodeArgs("record_translation_history", raw, &a); err != nil {
				return nil, err
			}
			d.History.Record(a.Original, a.Translation)
			return nil, nil
		},
	})

	r.Register(&Command{
		Name:        "get_translation_history",
		Description: "List the session history, oldest first",
		Category:    "History",
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return d.History.List(), nil
		},
	})

	r.Register(&Command{
		Name:        "get_http_server_error",
		Description: "Last listener bind failure, or null",
		Category:    "Input",
		Handler: func(context.Context, json.RawMessage) (any, error) {
			if failure := d.Server.LastError(); failure != nil {
				return failure, nil
			}
			return nil, nil
		},
	})
}
