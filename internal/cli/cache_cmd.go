// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cache_cmd.go - Translation cache CLI commands.
//
// Command: cache [subcommand]
//
// Subcommands:
//   stats                    Show the cache file and entry count
//   get <text>               Print the cached translation for text
//   put <text> <translation> Store a translation
//
// Examples:
//   anna cache stats
//   anna cache get 今日は
//   anna cache put 今日は "Hello" --json
//
// Cache Location:
//   <data_dir>/cache/translations.sqlite3

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/keocheung/AnnaTranslator/internal/cache"
)

// openCache opens the store under the configured data directory.
func openCache(opts *globalOptions) (*cache.Store, error) {
	dataDir, err := opts.cfg.ResolvedDataDir()
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	store, err := cache.Open(dataDir,
		cache.WithMaxConcurrent(int64(opts.cfg.Cache.MaxConcurrent)),
		cache.WithLogger(opts.logger),
	)
	if err != nil {
		return nil, NewCommandError("cache", "open", "cannot open cache", err)
	}
	return store, nil
}

func newCacheCommand(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and edit the translation cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache(opts)
			if err != nil {
				return err
			}
			n, err := store.Count(cmd.Context())
			if err != nil {
				return NewCommandError("cache", "stats", "count failed", err)
			}
			data := map[string]any{"path": store.Path(), "entries": n}
			return printResult(cmd, opts, data, func(w io.Writer) {
				fmt.Fprintln(w, RenderConditional(TitleStyle, "Translation cache"))
				fmt.Fprintf(w, "%s%s\n", RenderLabel("Path"), RenderConditional(ValueStyle, store.Path()))
				fmt.Fprintf(w, "%s%s\n", RenderLabel("Entries"), RenderConditional(ValueStyle, fmt.Sprint(n)))
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <text>",
		Short: "Print the cached translation for text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache(opts)
			if err != nil {
				return err
			}
			entry, ok, err := store.Entry(cmd.Context(), args[0])
			if err != nil {
				return NewCommandError("cache", "get", "lookup failed", err)
			}
			if !ok {
				if opts.jsonOutput {
					return NewJSONResponse(cmd.CommandPath(), nil).Print(cmd.OutOrStdout())
				}
				return &CommandError{Command: "cache", Action: "get", Reason: "no cached translation for " + cache.Key(args[0])}
			}
			return printResult(cmd, opts, entry, func(w io.Writer) {
				fmt.Fprintln(w, entry.Translation)
			})
		},
	}

	put := &cobra.Command{
		Use:   "put <text> <translation>",
		Short: "Store a translation (a blank translation is ignored)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCache(opts)
			if err != nil {
				return err
			}
			if err := store.Put(cmd.Context(), args[0], args[1]); err != nil {
				return NewCommandError("cache", "put", "store failed", err)
			}
			data := map[string]string{"key": cache.Key(args[0])}
			return printResult(cmd, opts, data, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", RenderStatus("ok"), data["key"])
			})
		},
	}

	root.AddCommand(stats, get, put)
	return root
}
