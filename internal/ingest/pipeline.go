// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ingest is the step shared by every text source: rewrite the raw
// text with the active rules, then broadcast it to the UI.
package ingest

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/keocheung/AnnaTranslator/internal/events"
	"github.com/keocheung/AnnaTranslator/internal/telemetry"
	"github.com/keocheung/AnnaTranslator/internal/util"
)

// Source names where a text came from. It appears in logs and metrics only;
// the emitted payload is the bare text.
type Source string

const (
	SourceHTTP      Source = "http"
	SourceOpenAI    Source = "openai"
	SourceClipboard Source = "clipboard"
)

// Rewriter applies the active rewrite rules. *replace.Engine implements it.
type Rewriter interface {
	Apply(text string) string
}

// Pipeline rewrites and emits incoming text.
type Pipeline struct {
	rules   Rewriter
	emitter events.Emitter
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// New creates a pipeline. metrics and logger may be nil.
func New(rules Rewriter, emitter events.Emitter, metrics *telemetry.Metrics, logger *zap.Logger) *Pipeline {
	if metrics == nil {
		metrics = telemetry.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		rules:   rules,
		emitter: emitter,
		metrics: metrics,
		logger:  logger.Named("ingest"),
	}
}

// Rewrite applies the rules without emitting.
func (p *Pipeline) Rewrite(raw string) string {
	return p.rules.Apply(raw)
}

// Process rewrites raw and emits the result as an IncomingText event. It
// returns the rewritten text, and an error only if emission failed.
func (p *Pipeline) Process(ctx context.Context, source Source, raw string) (string, error) {
	processed := p.rules.Apply(raw)
	return processed, p.Emit(ctx, source, processed)
}

// Emit broadcasts already rewritten text.
func (p *Pipeline) Emit(ctx context.Context, source Source, processed string) error {
	if err := p.emitter.Emit(events.IncomingText, processed); err != nil {
		telemetry.Count(ctx, p.metrics.EmitFailures, "event", events.IncomingText)
		p.logger.Error("EMIT_FAILED",
			zap.String("source", string(source)),
			zap.Error(err),
		)
		return fmt.Errorf("emit %s: %w", events.IncomingText, err)
	}

	telemetry.Count(ctx, p.metrics.TextsIngested, "source", string(source))
	p.logger.Info("TEXT_INGESTED",
		zap.String("source", string(source)),
		zap.Int("bytes", len(processed)),
		zap.String("preview", util.Preview(processed, 40)),
	)
	return nil
}

// Drop records that an input from source was discarded for reason.
func (p *Pipeline) Drop(ctx context.Context, source Source, reason string) {
	p.metrics.TextsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", string(source)),
		attribute.String("reason", reason),
	))
	p.logger.Debug("TEXT_DROPPED", zap.String("source", string(source)), zap.String("reason", reason))
}
