// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package replace

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// INSTALL REPORT
// =============================================================================

// RuleError describes a rule that failed to compile.
type RuleError struct {
	Index   int    `json:"index"`
	Pattern string `json:"pattern"`
	Message string `json:"message"`
}

// InstallReport summarizes the outcome of an Install call.
type InstallReport struct {
	Installed int         `json:"installed"`
	Skipped   int         `json:"skipped"`
	Failed    []RuleError `json:"failed,omitempty"`
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine holds the active, ordered rule list.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewEngine creates an engine with no rules installed.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("replace")}
}

// Install compiles specs and replaces the active set with the result.
// Blank patterns are skipped; patterns that fail to compile are logged and
// skipped while the remaining rules are still installed.
func (e *Engine) Install(specs []RuleSpec) InstallReport {
	var report InstallReport
	compiled := make([]Rule, 0, len(specs))

	for i, spec := range specs {
		if strings.TrimSpace(spec.Pattern) == "" {
			report.Skipped++
			continue
		}
		rule, err := Compile(spec)
		if err != nil {
			e.logger.Warn("RULE_COMPILE_FAILED",
				zap.Int("index", i),
				zap.String("pattern", spec.Pattern),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, RuleError{
				Index:   i,
				Pattern: spec.Pattern,
				Message: err.Error(),
			})
			continue
		}
		compiled = append(compiled, rule)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	report.Installed = len(compiled)
	e.logger.Info("RULES_INSTALLED",
		zap.Int("installed", report.Installed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
	)
	return report
}

// Apply runs text through every installed rule in order, each rule seeing the
// previous rule's output. With no rules installed the input is returned as is.
func (e *Engine) Apply(text string) string {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		text = rule.Apply(text)
	}
	return text
}

// Len returns the number of installed rules.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Specs returns the specs of the installed rules in order.
func (e *Engine) Specs() []RuleSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()

	specs := make([]RuleSpec, len(e.rules))
	for i, rule := range e.rules {
		specs[i] = rule.spec
	}
	return specs
}
