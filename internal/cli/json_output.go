// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - Machine-readable output for scripting.
//
// Under --json every command prints exactly one envelope to stdout. A command
// that fails before printing gets an error envelope from Execute.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// JSONResponse is the envelope printed under --json.
type JSONResponse struct {
	Success bool `json:"success"`

	// Command is the full command path, e.g. "anna cache get".
	Command string `json:"command,omitempty"`

	// Data is command specific; null on failure.
	Data any `json:"data"`

	// Error is the error message, null on success.
	Error *string `json:"error"`

	// ExitCode mirrors the process exit status on failure.
	ExitCode int `json:"exit_code,omitempty"`

	Timestamp string `json:"timestamp"`
}

// NewJSONResponse wraps data in a successful envelope.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Command:   command,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewJSONErrorResponse builds the envelope for a failed command.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Command:   command,
		Error:     &msg,
		ExitCode:  ExitCode(err),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Print writes the envelope as indented JSON followed by a newline.
func (r *JSONResponse) Print(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("write JSON response: %w", err)
	}
	return nil
}

// trackingWriter records whether anything was written through it.
type trackingWriter struct {
	w       io.Writer
	written bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.written = true
	}
	return t.w.Write(p)
}
