// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keocheung/AnnaTranslator/internal/config"
	"github.com/keocheung/AnnaTranslator/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// globalOptions holds the persistent flags and what PersistentPreRunE
// builds from them.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool

	// Set by load.
	cfg     *config.Config
	cfgPath string
	logger  *zap.Logger
}

// load reads the configuration and builds the logger.
func (o *globalOptions) load() error {
	path := o.configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	config.SetGlobal(cfg)

	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		JSON:    cfg.Logging.JSON,
		Verbose: o.verbose,
	})
	if err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	o.cfg = cfg
	o.cfgPath = path
	o.logger = logger
	return nil
}

// daemonURL is the base URL of the local daemon.
func (o *globalOptions) daemonURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", o.cfg.Server.Port)
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the `anna` command tree.
func NewRootCommand() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *globalOptions) {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "anna",
		Short: "Local text ingestion daemon for a translation overlay",
		Long: `anna receives text from an HTTP listener, an OpenAI-compatible
chat-completions route and the clipboard, rewrites it with regex rules and
streams it to the overlay UI. It also annotates Japanese text with furigana
and keeps a persistent translation cache.

Run "anna serve" to start the daemon.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return opts.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	root.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &UsageError{Message: err.Error()}
	})

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: <user config dir>/AnnaTranslator/config.toml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCommand(opts),
		newAnnotateCommand(opts),
		newSubmitCommand(opts),
		newListenCommand(opts),
		newCacheCommand(opts),
		newRulesCommand(opts),
		newConfigCommand(opts),
		newDoctorCommand(opts),
		newStatusCommand(opts),
		newVersionCommand(opts),
	)
	return root, opts
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root, opts := newRoot()
	out := &trackingWriter{w: stdout}
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(out)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(stderr, RenderConditional(ErrorStyle, "Error: ")+err.Error())
	if opts.jsonOutput && !out.written {
		name := root.Name()
		if cmd != nil {
			name = cmd.CommandPath()
		}
		_ = NewJSONErrorResponse(name, err).Print(stdout)
	}
	return ExitCode(err)
}

// Main is the entry point used by package main.
func Main(ctx context.Context) int {
	return Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}

// printResult prints data as a JSON envelope under --json, otherwise calls
// text to render it for humans.
func printResult(cmd *cobra.Command, opts *globalOptions, data any, text func(w io.Writer)) error {
	if opts.jsonOutput {
		return NewJSONResponse(cmd.CommandPath(), data).Print(cmd.OutOrStdout())
	}
	text(cmd.OutOrStdout())
	return nil
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version":    Version,
				"git_commit": GitCommit,
				"build_date": BuildDate,
			}
			return printResult(cmd, opts, info, func(w io.Writer) {
				fmt.Fprintf(w, "anna %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
			})
		},
	}
}
