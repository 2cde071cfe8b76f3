// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package clipboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"

	"github.com/keocheung/AnnaTranslator/internal/ingest"
	"github.com/keocheung/AnnaTranslator/internal/telemetry"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultIdlePoll is the delay between ticks while watching is disabled.
	DefaultIdlePoll = 500 * time.Millisecond

	// DefaultActivePoll is the delay between clipboard reads while enabled.
	DefaultActivePoll = 1500 * time.Millisecond
)

// ErrUnsupported is returned by SystemSource when no clipboard backend is
// available (for example, no xclip/xsel/wl-clipboard on Linux).
var ErrUnsupported = errors.New("clipboard: no clipboard utility available")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Source reads the current clipboard text.
type Source interface {
	ReadText() (string, error)
}

// SystemSource reads the OS clipboard.
type SystemSource struct{}

// ReadText implements Source.
func (SystemSource) ReadText() (string, error) {
	if clipboard.Unsupported {
		return "", ErrUnsupported
	}
	return clipboard.ReadAll()
}

// Forwarder rewrites clipboard text and passes it on. *ingest.Pipeline
// implements it.
type Forwarder interface {
	Rewrite(raw string) string
	Emit(ctx context.Context, source ingest.Source, processed string) error
	Drop(ctx context.Context, source ingest.Source, reason string)
}

// Clock abstracts timers so the loop can be driven by tests.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// =============================================================================
// STATE
// =============================================================================

// State is the watcher's mode.
type State int

const (
	// StateIdle means watching is disabled; the clipboard is not read.
	StateIdle State = iota
	// StateActive means the clipboard is read on every tick.
	StateActive
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Options configures a Watcher. Zero durations use the defaults.
type Options struct {
	IdlePoll   time.Duration
	ActivePoll time.Duration

	// ResetDedupeOnEnable forgets the last forwarded text whenever watching
	// is switched on, so an unchanged clipboard is delivered again.
	ResetDedupeOnEnable bool

	// Enabled is the initial state.
	Enabled bool
}

// =============================================================================
// WATCHER
// =============================================================================

// Watcher polls a clipboard Source and forwards new text.
type Watcher struct {
	source  Source
	fwd     Forwarder
	clock   Clock
	opts    Options
	metrics *telemetry.Metrics
	logger  *zap.Logger

	enabled atomic.Bool

	mu      sync.Mutex
	last    string
	lastErr string
}

// NewWatcher creates a watcher. metrics and logger may be nil.
func NewWatcher(source Source, fwd Forwarder, opts Options, metrics *telemetry.Metrics, logger *zap.Logger) *Watcher {
	if opts.IdlePoll <= 0 {
		opts.IdlePoll = DefaultIdlePoll
	}
	if opts.ActivePoll <= 0 {
		opts.ActivePoll = DefaultActivePoll
	}
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		source:  source,
		fwd:     fwd,
		clock:   realClock{},
		opts:    opts,
		metrics: metrics,
		logger:  logger.Named("clipboard"),
	}
	w.enabled.Store(opts.Enabled)
	return w
}

// WithClock replaces the timer source. Call before Run.
func (w *Watcher) WithClock(c Clock) *Watcher {
	w.clock = c
	return w
}

// SetEnabled switches watching on or off.
func (w *Watcher) SetEnabled(on bool) {
	was := w.enabled.Swap(on)
	if on && !was && w.opts.ResetDedupeOnEnable {
		w.mu.Lock()
		w.last = ""
		w.mu.Unlock()
	}
	if on != was {
		w.logger.Info("CLIPBOARD_WATCH_TOGGLED", zap.Bool("enabled", on))
	}
}

// Enabled reports whether watching is on.
func (w *Watcher) Enabled() bool {
	return w.enabled.Load()
}

// State returns the current mode.
func (w *Watcher) State() State {
	if w.enabled.Load() {
		return StateActive
	}
	return StateIdle
}

// Last returns the last forwarded text.
func (w *Watcher) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Tick performs one step of the state machine and returns how long to wait
// before the next one. Text is forwarded only when it is non-blank, still
// non-empty after rewriting, and different from the last forwarded text.
func (w *Watcher) Tick(ctx context.Context) time.Duration {
	if !w.enabled.Load() {
		return w.opts.IdlePoll
	}

	raw, err := w.source.ReadText()
	if err != nil {
		w.readFailed(ctx, err)
		return w.opts.ActivePoll
	}
	w.readRecovered()

	text := strings.TrimSpace(raw)
	if text == "" {
		return w.opts.ActivePoll
	}

	processed := w.fwd.Rewrite(text)

	w.mu.Lock()
	if processed == "" || processed == w.last {
		w.mu.Unlock()
		if processed == "" {
			w.fwd.Drop(ctx, ingest.SourceClipboard, "empty_after_rewrite")
		}
		return w.opts.ActivePoll
	}
	w.last = processed
	w.mu.Unlock()

	// Failures are logged and counted by the forwarder; the text stays
	// marked as seen so a broken UI is not flooded with retries.
	_ = w.fwd.Emit(ctx, ingest.SourceClipboard, processed)
	return w.opts.ActivePoll
}

// Run ticks until ctx is done. Read errors never stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("CLIPBOARD_WATCHER_START", zap.Stringer("state", w.State()))
	for {
		d := w.Tick(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("CLIPBOARD_WATCHER_STOP")
			return nil
		case <-w.clock.After(d):
		}
	}
}

// readFailed logs the first occurrence of each distinct error at warn level
// and repeats at debug, so a missing clipboard tool does not flood the log.
func (w *Watcher) readFailed(ctx context.Context, err error) {
	telemetry.Count(ctx, w.metrics.ClipboardErrors, "kind", "read")

	w.mu.Lock()
	repeated := w.lastErr == err.Error()
	w.lastErr = err.Error()
	w.mu.Unlock()

	if repeated {
		w.logger.Debug("CLIPBOARD_POLL_FAILED", zap.Error(err))
		return
	}
	w.logger.Warn("CLIPBOARD_POLL_FAILED", zap.Error(err))
}

func (w *Watcher) readRecovered() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastErr = ""
}
