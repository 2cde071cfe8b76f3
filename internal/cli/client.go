// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keocheung/AnnaTranslator/internal/events"
	"github.com/keocheung/AnnaTranslator/internal/server"
	"github.com/keocheung/AnnaTranslator/internal/util"
)

// clientTimeout bounds requests to the local daemon.
const clientTimeout = 10 * time.Second

// apiError is the daemon's JSON error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// =============================================================================
// SUBMIT
// =============================================================================

func newSubmitCommand(opts *globalOptions) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "submit [text...]",
		Short: "Send text to a running daemon",
		Long: `POSTs the text to /submit on the local daemon, which rewrites it and
forwards it to the overlay. Reads stdin when no text is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := inputText(cmd, args)
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = opts.daemonURL()
			}

			resp, err := submit(cmd, baseURL, text)
			if err != nil {
				return err
			}
			return printResult(cmd, opts, resp, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", RenderStatus(resp.Status), resp.Text)
			})
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "daemon base URL (default: http://127.0.0.1:<server.port>)")
	return cmd
}

func submit(cmd *cobra.Command, baseURL, text string) (*server.SubmitResponse, error) {
	ctx := cmd.Context()
	url := strings.TrimRight(baseURL, "/") + "/submit"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(text))
	if err != nil {
		return nil, NewCommandError("submit", "request", "invalid URL", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	client := &http.Client{Timeout: clientTimeout}
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, NetworkError("submit", "post", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, NetworkError("submit", "read", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, NewCommandError("submit", "post", fmt.Sprintf("daemon returned %d", httpResp.StatusCode), errors.New(apiErr.Error.Message))
		}
		return nil, NewCommandError("submit", "post", fmt.Sprintf("daemon returned %d", httpResp.StatusCode), nil)
	}

	var resp server.SubmitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewCommandError("submit", "decode", "unexpected response", err)
	}
	return &resp, nil
}

// =============================================================================
// LISTEN
// =============================================================================

func newListenCommand(opts *globalOptions) *cobra.Command {
	var (
		baseURL string
		count   int
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print the daemon's event stream",
		Long: `Connects to the /events websocket of a running daemon and prints every
event (incoming_text, http_server_failed, translation_history_updated).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				baseURL = opts.daemonURL()
			}
			wsURL := eventsURL(baseURL)
			out := cmd.OutOrStdout()

			seen := 0
			err := events.Listen(cmd.Context(), wsURL, func(env events.Envelope) error {
				if opts.jsonOutput {
					data, err := json.Marshal(env)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
				} else {
					fmt.Fprintln(out, formatEnvelope(env, outputWidth(out)))
				}
				seen++
				if count > 0 && seen >= count {
					return events.ErrStopListening
				}
				return nil
			})
			if err != nil {
				return NetworkError("listen", "stream", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "", "daemon base URL (default: http://127.0.0.1:<server.port>)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many events (0 = until interrupted)")
	return cmd
}

// eventsURL turns an http(s) base URL into the ws(s) events endpoint.
func eventsURL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/events"
}

// formatEnvelope renders one event as a single terminal line.
func formatEnvelope(env events.Envelope, width int) string {
	ts := env.Time.Local().Format("15:04:05")
	name := util.PadWidth(env.Event, 28)

	var detail string
	switch env.Event {
	case events.IncomingText:
		var text string
		if err := json.Unmarshal(env.Payload, &text); err == nil {
			detail = text
		}
	case events.HTTPServerFailed:
		var f events.ServerFailure
		if err := json.Unmarshal(env.Payload, &f); err == nil {
			detail = fmt.Sprintf("port %d: %s", f.Port, f.Message)
		}
	}
	if detail == "" && len(env.Payload) > 0 {
		detail = string(env.Payload)
	}

	room := width - util.StringWidth(ts) - util.StringWidth(name) - 2
	if room < 10 {
		room = 10
	}
	return fmt.Sprintf("%s %s %s",
		RenderConditional(DimStyle, ts),
		RenderConditional(eventStyle(env.Event), name),
		util.Preview(detail, room),
	)
}
