// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation.
//
// Command: doctor
// Short:   Run environment health checks
//
// Health Checks Performed:
//   1. Config Valid      - The configuration loaded and validated
//   2. Rules Compile     - Every replacement rule compiles
//   3. Cache Writable    - The cache database opens and answers a query
//   4. Dictionary Loads  - The tokenizer builds from the configured dictionary
//   5. Clipboard         - A clipboard backend is available
//   6. Listener Port     - The port is free, or a daemon answers /health on it
//
// Flags:
//   --json              Output in JSON format

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/keocheung/AnnaTranslator/internal/cache"
	"github.com/keocheung/AnnaTranslator/internal/clipboard"
	"github.com/keocheung/AnnaTranslator/internal/furigana"
	"github.com/keocheung/AnnaTranslator/internal/replace"
	"github.com/keocheung/AnnaTranslator/internal/server"
)

// clipboardSource is the backend probed by the clipboard check.
var clipboardSource clipboard.Source = clipboard.SystemSource{}

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the string representation of the check status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status by name.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Symbol returns the tag printed before the check message.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return RenderConditional(SuccessStyle, "[OK]")
	case CheckWarn:
		return RenderConditional(WarningStyle, "[!!]")
	default:
		return RenderConditional(ErrorStyle, "[FAIL]")
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"` // Suggested fix
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), c.Message)
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n     " + RenderConditional(DimStyle, "-> "+c.Fix)
	}
	return result
}

// =============================================================================
// CHECKS
// =============================================================================

func runAllChecks(ctx context.Context, opts *globalOptions) []*HealthCheck {
	return []*HealthCheck{
		checkConfigValid(opts),
		checkRulesCompile(opts),
		checkCacheWritable(ctx, opts),
		checkDictionary(opts),
		checkClipboard(),
		checkListenerPort(ctx, opts),
	}
}

func checkConfigValid(opts *globalOptions) *HealthCheck {
	check := &HealthCheck{Name: "Config Valid"}
	if err := opts.cfg.Validate(); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Config invalid: %s", err)
		return check
	}
	check.Status = CheckPass
	if opts.cfgPath == "" {
		check.Message = "Config valid (using defaults)"
	} else {
		check.Message = "Config valid: " + opts.cfgPath
	}
	return check
}

func checkRulesCompile(opts *globalOptions) *HealthCheck {
	check := &HealthCheck{Name: "Rules Compile"}
	report := replace.NewEngine(nil).Install(opts.cfg.Replacements)
	if len(report.Failed) > 0 {
		f := report.Failed[0]
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("%d of %d rules failed to compile (first: #%d %s)",
			len(report.Failed), len(opts.cfg.Replacements), f.Index, f.Message)
		check.Fix = "Run: anna rules check"
		return check
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("%d rules installed, %d skipped", report.Installed, report.Skipped)
	return check
}

func checkCacheWritable(ctx context.Context, opts *globalOptions) *HealthCheck {
	check := &HealthCheck{Name: "Cache Writable"}
	dataDir, err := opts.cfg.ResolvedDataDir()
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not determine data directory: %s", err)
		return check
	}
	store, err := cache.Open(dataDir)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Could not create cache directory: %s", err)
		check.Fix = "Set data_dir to a writable directory"
		return check
	}
	n, err := store.Count(ctx)
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Cache database unusable: %s", err)
		check.Fix = "Check permissions on " + store.Path()
		return check
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("Cache writable (%d entries)", n)
	return check
}

func checkDictionary(opts *globalOptions) *HealthCheck {
	check := &HealthCheck{Name: "Dictionary Loads"}
	dictPath, err := opts.cfg.ResolvedDictionaryPath()
	if err != nil {
		check.Status = CheckFail
		check.Message = err.Error()
		return check
	}
	annotator := furigana.NewAnnotator(tokenizerFactory(dictPath), nil)
	if err := annotator.Init(); err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Tokenizer failed to load: %s", err)
		check.Fix = "Fix furigana.dictionary_path or leave it empty for the bundled dictionary"
		return check
	}
	check.Status = CheckPass
	if dictPath == "" {
		check.Message = "Bundled IPA dictionary loaded"
	} else {
		check.Message = "Dictionary loaded: " + dictPath
	}
	return check
}

func checkClipboard() *HealthCheck {
	check := &HealthCheck{Name: "Clipboard"}
	if _, err := clipboardSource.ReadText(); err != nil {
		check.Status = CheckWarn
		if errors.Is(err, clipboard.ErrUnsupported) {
			check.Message = "No clipboard backend available"
			check.Fix = "Install xclip, xsel or wl-clipboard"
		} else {
			check.Message = fmt.Sprintf("Clipboard read failed: %s", err)
		}
		return check
	}
	check.Status = CheckPass
	check.Message = "Clipboard readable"
	return check
}

func checkListenerPort(ctx context.Context, opts *globalOptions) *HealthCheck {
	check := &HealthCheck{Name: "Listener Port"}
	port := opts.cfg.Server.Port

	if health, err := fetchHealth(ctx, opts.daemonURL()); err == nil {
		check.Status = CheckPass
		check.Message = fmt.Sprintf("Daemon %s running on port %d", health.Version, port)
		return check
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Port %d is in use by another program", port)
		check.Fix = "Set server.port or TRANSLATOR_PORT to a free port"
		return check
	}
	ln.Close()
	check.Status = CheckPass
	check.Message = fmt.Sprintf("Port %d is free", port)
	return check
}

// fetchHealth queries GET /health on a daemon.
func fetchHealth(ctx context.Context, baseURL string) (*server.HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health returned %d", resp.StatusCode)
	}
	var health server.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &health, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func newDoctorCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "doctor",
		Aliases: []string{"diag"},
		Short:   "Run environment health checks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks := runAllChecks(cmd.Context(), opts)

			var passed, warned, failed int
			for _, c := range checks {
				switch c.Status {
				case CheckPass:
					passed++
				case CheckWarn:
					warned++
				default:
					failed++
				}
			}

			data := map[string]any{
				"checks": checks,
				"summary": map[string]int{
					"passed": passed,
					"warned": warned,
					"failed": failed,
				},
			}
			err := printResult(cmd, opts, data, func(w io.Writer) {
				fmt.Fprintln(w, RenderConditional(TitleStyle, "anna doctor"))
				for _, c := range checks {
					fmt.Fprintln(w, c.Render())
				}
				fmt.Fprintln(w, RenderConditional(DimStyle,
					fmt.Sprintf("%d passed, %d warnings, %d failed", passed, warned, failed)))
			})
			if err != nil {
				return err
			}
			if failed > 0 {
				return &CommandError{Command: "doctor", Action: "run", Reason: fmt.Sprintf("%d check(s) failed", failed)}
			}
			return nil
		},
	}
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				baseURL = opts.daemonURL()
			}
			health, err := fetchHealth(cmd.Context(), baseURL)
			if err != nil {
				return NetworkError("status", "health", err)
			}
			return printResult(cmd, opts, health, func(w io.Writer) {
				fmt.Fprintf(w, "%s%s\n", RenderLabel("Status"), RenderStatus(health.Status))
				fmt.Fprintf(w, "%s%s\n", RenderLabel("Version"), health.Version)
				fmt.Fprintf(w, "%s%s\n", RenderLabel("Uptime"), (time.Duration(health.UptimeSeconds) * time.Second).String())
				fmt.Fprintf(w, "%s%s\n", RenderLabel("Submit format"), health.SubmitFormat)
				fmt.Fprintf(w, "%s%t\n", RenderLabel("OpenAI input"), health.OpenAICompatibleInput)
				fmt.Fprintf(w, "%s%d\n", RenderLabel("Rules"), health.Rules)
				fmt.Fprintf(w, "%s%d\n", RenderLabel("UI subscribers"), health.EventSubscribers)
				fmt.Fprintf(w, "%s%t\n", RenderLabel("Clipboard watch"), health.ClipboardWatch)
				if health.ClipboardLast != "" {
					fmt.Fprintf(w, "%s%s\n", RenderLabel("Clipboard last"), health.ClipboardLast)
				}
			})
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "daemon base URL (default: http://127.0.0.1:<server.port>)")
	return cmd
}
