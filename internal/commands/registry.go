// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/keocheung/AnnaTranslator/internal/telemetry"
)

var (
	// ErrUnknownCommand is returned by Invoke for a name nothing is registered under.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrInvalidArgs is returned when the argument object cannot be decoded or
	// a required argument is missing.
	ErrInvalidArgs = errors.New("invalid arguments")
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// HandlerFunc executes a command. args is the raw JSON argument object
// (never nil; "{}" when the caller sent nothing). The result is encoded as
// JSON by the transport.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Command is an externally callable operation.
type Command struct {
	// Name is the primary command name (e.g., "annotate_furigana")
	Name string

	// Aliases are alternative names
	Aliases []string

	// Description is shown by the listing endpoint
	Description string

	// Args defines the expected fields of the argument object
	Args []ArgDef

	Handler HandlerFunc

	// Hidden commands are callable but not listed
	Hidden bool

	// Category for grouping in listings
	Category string
}

// ArgDef defines one field of a command's argument object.
type ArgDef struct {
	Name        string  `json:"name"`
	Required    bool    `json:"required"`
	Type        ArgType `json:"type"`
	Description string  `json:"description,omitempty"`
}

// ArgType is the JSON type an argument is expected to have.
type ArgType string

const (
	ArgTypeString ArgType = "string"
	ArgTypeBool   ArgType = "bool"
	ArgTypeRules  ArgType = "rules"
)

// Info is the listing form of a command.
type Info struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Args        []ArgDef `json:"args,omitempty"`
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry. metrics and logger may be nil.
func NewRegistry(metrics *telemetry.Metrics, logger *zap.Logger) *Registry {
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
		metrics:  metrics,
		logger:   logger.Named("commands"),
	}
}

// Register adds a command, replacing any previous one with the same name.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	r.mu.RLock()
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	r.mu.RUnlock()

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ByCategory returns visible commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// List returns the visible commands in listing form.
func (r *Registry) List() []Info {
	var out []Info
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		out = append(out, Info{
			Name:        cmd.Name,
			Aliases:     cmd.Aliases,
			Description: cmd.Description,
			Category:    category,
			Args:        cmd.Args,
		})
	}
	return out
}

// Invoke runs the named command with a JSON argument object. Empty args are
// treated as "{}".
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	cmd := r.Get(name)
	if cmd == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	args = bytes.TrimSpace(args)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = json.RawMessage("{}")
	}
	if err := checkArgs(cmd, args); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := cmd.Handler(ctx, args)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	r.metrics.CommandDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("command", cmd.Name),
		attribute.String("status", status),
	))

	if err != nil {
		r.logger.Warn("COMMAND_FAILED", zap.String("command", cmd.Name), zap.Error(err))
		return nil, err
	}
	r.logger.Debug("COMMAND_OK", zap.String("command", cmd.Name), zap.Duration("elapsed", elapsed))
	return result, nil
}

// checkArgs verifies args is an object holding every required field.
func checkArgs(cmd *Command, args json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil {
		return fmt.Errorf("%w: %s: arguments must be a JSON object", ErrInvalidArgs, cmd.Name)
	}
	for _, def := range cmd.Args {
		if !def.Required {
			continue
		}
		v, ok := fields[def.Name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return fmt.Errorf("%w: %s: missing %q", ErrInvalidArgs, cmd.Name, def.Name)
		}
	}
	return nil
}

// decodeArgs unmarshals args into dst, wrapping failures in ErrInvalidArgs.
func decodeArgs(name string, args json.RawMessage, dst any) error {
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArgs, name, err)
	}
	return nil
}
