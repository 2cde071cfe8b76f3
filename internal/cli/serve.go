// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/keocheung/AnnaTranslator/internal/cache"
	"github.com/keocheung/AnnaTranslator/internal/clipboard"
	"github.com/keocheung/AnnaTranslator/internal/commands"
	"github.com/keocheung/AnnaTranslator/internal/config"
	"github.com/keocheung/AnnaTranslator/internal/events"
	"github.com/keocheung/AnnaTranslator/internal/furigana"
	"github.com/keocheung/AnnaTranslator/internal/history"
	"github.com/keocheung/AnnaTranslator/internal/ingest"
	"github.com/keocheung/AnnaTranslator/internal/replace"
	"github.com/keocheung/AnnaTranslator/internal/server"
	"github.com/keocheung/AnnaTranslator/internal/telemetry"
	"github.com/keocheung/AnnaTranslator/internal/util"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// =============================================================================
// DAEMON
// =============================================================================

// DaemonOptions overrides collaborators, mainly for tests.
type DaemonOptions struct {
	// ClipboardSource defaults to the OS clipboard.
	ClipboardSource clipboard.Source

	// TokenizerFactory defaults to kagome with the configured dictionary.
	TokenizerFactory furigana.Factory

	Version string
}

// Daemon owns every long-lived component of `anna serve`.
type Daemon struct {
	Config     *config.Config
	ConfigPath string

	Hub       *events.Hub
	Provider  *telemetry.Provider
	Metrics   *telemetry.Metrics
	Rules     *replace.Engine
	Pipeline  *ingest.Pipeline
	Cache     *cache.Store
	History   *history.Log
	Annotator *furigana.Annotator
	Clipboard *clipboard.Watcher
	Server    *server.Server
	Commands  *commands.Registry

	logger *zap.Logger
}

// NewDaemon assembles the components described by cfg. configPath, when
// non-empty, is watched for changes by Run.
func NewDaemon(cfg *config.Config, configPath string, logger *zap.Logger, opts DaemonOptions) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Daemon{Config: cfg, ConfigPath: configPath, logger: logger}

	// Telemetry
	d.Metrics = telemetry.Nop()
	if cfg.Metrics.Enabled {
		provider, err := telemetry.InitProvider(telemetry.ProviderConfig{
			ServiceName:    "anna",
			ServiceVersion: opts.Version,
		})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		metrics, err := telemetry.NewMetrics(provider.MeterProvider)
		if err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
		d.Provider = provider
		d.Metrics = metrics
	}

	// Event hub
	d.Hub = events.NewHub(logger, events.WithDropHook(func(event string) {
		telemetry.Count(context.Background(), d.Metrics.EventsDropped, "event", event)
	}))

	// Rules and pipeline
	d.Rules = replace.NewEngine(logger)
	d.Rules.Install(cfg.Replacements)
	d.Pipeline = ingest.New(d.Rules, d.Hub, d.Metrics, logger)

	// Cache
	dataDir, err := cfg.ResolvedDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	d.Cache, err = cache.Open(dataDir,
		cache.WithMemo(cfg.Cache.MemoSize),
		cache.WithMaxConcurrent(int64(cfg.Cache.MaxConcurrent)),
		cache.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	// History
	d.History = history.New(func() {
		if err := d.Hub.Emit(events.TranslationHistoryUpdated, nil); err != nil {
			logger.Debug("EMIT_FAILED", zap.String("event", events.TranslationHistoryUpdated), zap.Error(err))
		}
	})

	// Furigana
	factory := opts.TokenizerFactory
	if factory == nil {
		dictPath, err := cfg.ResolvedDictionaryPath()
		if err != nil {
			return nil, fmt.Errorf("resolve dictionary: %w", err)
		}
		factory = furigana.KagomeFactory(dictPath)
	}
	d.Annotator = furigana.NewAnnotator(factory, logger)

	// Clipboard
	source := opts.ClipboardSource
	if source == nil {
		source = clipboard.SystemSource{}
	}
	d.Clipboard = clipboard.NewWatcher(source, d.Pipeline, clipboard.Options{
		IdlePoll:            cfg.Clipboard.IdlePoll(),
		ActivePoll:          cfg.Clipboard.ActivePoll(),
		ResetDedupeOnEnable: cfg.Clipboard.ResetDedupeOnEnable,
		Enabled:             cfg.Clipboard.Enabled,
	}, d.Metrics, logger)

	// HTTP server and commands
	d.Server = server.NewServer(cfg.Server.Port, d.Pipeline, d.Hub, logger).
		WithSubmitFormat(cfg.Server.SubmitFormat).
		WithMaxBodyBytes(cfg.Server.MaxBodyBytes).
		WithRateLimit(cfg.Server.RateLimitPerMinute).
		WithVersion(opts.Version).
		WithEvents(d.Hub.Handler(nil)).
		WithHealthInfo(d.fillHealth)
	d.Server.SetOpenAICompatibleInput(cfg.Server.OpenAICompatibleInput)
	if d.Provider != nil {
		d.Server.WithMetrics(d.Provider.Handler)
	}

	d.Commands = commands.NewRegistry(d.Metrics, logger)
	commands.RegisterBuiltins(d.Commands, commands.Deps{
		Rules:     d.Rules,
		Annotator: d.Annotator,
		Cache:     d.Cache,
		History:   d.History,
		Clipboard: d.Clipboard,
		Input:     d.Server,
		Server:    d.Server,
		Metrics:   d.Metrics,
	})
	d.Server.WithCommands(d.Commands)

	return d, nil
}

// clipboardPreviewWidth bounds the clipboard excerpt reported by /health.
const clipboardPreviewWidth = 60

func (d *Daemon) fillHealth(h *server.HealthResponse) {
	h.Rules = d.Rules.Len()
	h.EventSubscribers = d.Hub.Subscribers()
	h.ClipboardWatch = d.Clipboard.Enabled()
	h.ClipboardLast = util.Preview(d.Clipboard.Last(), clipboardPreviewWidth)
}

// ApplyConfig applies a reloaded configuration: the rewrite rules and the
// chat-completions toggle take effect immediately. Other settings need a
// restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.Rules.Install(cfg.Replacements)
	d.Server.SetOpenAICompatibleInput(cfg.Server.OpenAICompatibleInput)
	config.SetGlobal(cfg)

	if cfg.Server.Port != d.Config.Server.Port {
		d.logger.Warn("CONFIG_RESTART_REQUIRED", zap.String("field", "server.port"))
	}
	d.Config = cfg
}

// Run binds the listener and runs the HTTP server, the clipboard watcher and
// the config watcher until ctx is cancelled or one of them fails. Failing to
// bind does not stop the daemon.
func (d *Daemon) Run(ctx context.Context) error {
	if d.Config.Furigana.Eager {
		if err := d.Annotator.Init(); err != nil {
			return fmt.Errorf("load tokenizer: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// A bind failure is already recorded and broadcast by Listen; the
	// clipboard and config watchers keep running without the listener.
	if ln, err := d.Server.Listen(); err == nil {
		g.Go(func() error {
			return d.Server.Serve(ln)
		})
	}

	g.Go(func() error {
		return d.Clipboard.Run(gctx)
	})

	if d.ConfigPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, d.ConfigPath, config.DefaultWatchDebounce, d.logger, d.ApplyConfig); err != nil {
				d.logger.Warn("CONFIG_WATCH_DISABLED", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		d.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.Server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	d.shutdownTelemetry()
	return err
}

func (d *Daemon) shutdownTelemetry() {
	if d.Provider == nil {
		return
	}
	if err := d.Provider.Shutdown(context.Background()); err != nil {
		d.logger.Debug("TELEMETRY_SHUTDOWN_FAILED", zap.Error(err))
	}
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func newServeCommand(opts *globalOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion daemon",
		Long: `Starts the loopback HTTP listener, the clipboard watcher and the event
stream. The configuration file is reloaded when it changes.

Endpoints:
  POST /submit                 forward text to the overlay
  POST /v1/chat/completions    OpenAI-compatible input (always answers 404)
  GET  /events                 websocket event stream
  GET  /api/commands           list commands
  POST /api/commands/{name}    invoke a command
  GET  /health, /metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if port != 0 {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return &ConfigError{Err: err}
				}
			}

			d, err := NewDaemon(cfg, opts.cfgPath, opts.logger, DaemonOptions{Version: Version})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "override the listen port")
	return cmd
}
