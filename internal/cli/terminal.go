// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// OUTPUT DETECTION
// =============================================================================

const (
	// fallbackWidth is used when w is not a terminal (pipes, tests).
	fallbackWidth = 80

	// minPreviewWidth keeps `listen` previews readable on narrow panes.
	minPreviewWidth = 40
)

// isTerminal reports whether w is an *os.File attached to a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// outputWidth returns the column count of the terminal behind w.
func outputWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return fallbackWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	switch {
	case err != nil || width <= 0:
		return fallbackWidth
	case width < minPreviewWidth:
		return minPreviewWidth
	default:
		return width
	}
}

// =============================================================================
// COLOR
// =============================================================================

var (
	colorOnce sync.Once
	colorOn   bool
)

// wantColors applies https://no-color.org/: NO_COLOR disables, FORCE_COLOR
// enables, otherwise colors follow whether output is a terminal.
func wantColors(getenv func(string) string, tty bool) bool {
	if getenv("NO_COLOR") != "" {
		return false
	}
	if getenv("FORCE_COLOR") != "" {
		return true
	}
	return tty
}

// ColorsEnabled reports whether styled output is used. Decided once per
// process from the environment and stdout.
func ColorsEnabled() bool {
	colorOnce.Do(func() {
		colorOn = wantColors(os.Getenv, isTerminal(os.Stdout))
	})
	return colorOn
}

// ForceColorsEnabled overrides detection; tests call it before any output.
func ForceColorsEnabled(enabled bool) {
	colorOnce.Do(func() {})
	colorOn = enabled
}

// colorProfile is the lipgloss profile matching ColorsEnabled.
func colorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}
