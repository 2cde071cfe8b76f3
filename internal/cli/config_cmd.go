// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration CLI commands.
//
// Command: config [subcommand]
//
// Subcommands:
//   show                Print the effective configuration as TOML
//   path                Print the config file in use
//   init [--force]      Write a default config.toml

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/keocheung/AnnaTranslator/internal/config"
)

func newConfigCommand(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (file, defaults and environment)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Global()
			if opts.jsonOutput {
				return NewJSONResponse(cmd.CommandPath(), cfg).Print(cmd.OutOrStdout())
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := opts.cfgPath
			inUse := p != ""
			if !inUse {
				var err error
				if p, err = config.ConfigPathTOML(); err != nil {
					return &ConfigError{Err: err}
				}
			}
			data := map[string]any{"path": p, "exists": inUse}
			return printResult(cmd, opts, data, func(w io.Writer) {
				if inUse {
					fmt.Fprintln(w, p)
					return
				}
				fmt.Fprintf(w, "%s %s\n", p, RenderConditional(DimStyle, "(not created, using defaults)"))
			})
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.toml to the user config directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := opts.configPath
			if p == "" {
				var err error
				if p, err = config.ConfigPathTOML(); err != nil {
					return &ConfigError{Err: err}
				}
			}
			if _, err := os.Stat(p); err == nil && !force {
				return &CommandError{Command: "config", Action: "init", Reason: p + " already exists (use --force to overwrite)", Code: ExitUsageError}
			}
			if err := config.SaveTOML(config.Default(), p); err != nil {
				return NewCommandError("config", "init", "write failed", err)
			}
			return printResult(cmd, opts, map[string]string{"path": p}, func(w io.Writer) {
				fmt.Fprintf(w, "%s wrote %s\n", RenderStatus("ok"), p)
			})
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	root.AddCommand(show, path, initCmd)
	return root
}
