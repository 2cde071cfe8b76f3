// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for every instrument below.
const meterName = "github.com/keocheung/AnnaTranslator"

// Metrics holds the daemon's instruments.
type Metrics struct {
	// TextsIngested counts texts forwarded to the UI, by source.
	TextsIngested metric.Int64Counter

	// TextsDropped counts inputs discarded before emission, by source and reason.
	TextsDropped metric.Int64Counter

	// EmitFailures counts failed event emissions, by event.
	EmitFailures metric.Int64Counter

	// EventsDropped counts events a slow subscriber missed, by event.
	EventsDropped metric.Int64Counter

	// ClipboardErrors counts failed clipboard reads.
	ClipboardErrors metric.Int64Counter

	// CacheLookups counts cache reads, by result (hit, miss, error).
	CacheLookups metric.Int64Counter

	// CacheWrites counts cache writes, by result (stored, skipped, error).
	CacheWrites metric.Int64Counter

	// AnnotateDuration records the time to annotate one text, in seconds.
	AnnotateDuration metric.Float64Histogram

	// CommandDuration records command execution time, in seconds, by command.
	CommandDuration metric.Float64Histogram
}

// NewMetrics creates all instruments on a meter from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.TextsIngested, "anna.texts.ingested", "Texts forwarded to the UI."},
		{&m.TextsDropped, "anna.texts.dropped", "Inputs discarded before emission."},
		{&m.EmitFailures, "anna.events.emit_failures", "Event emissions that failed."},
		{&m.EventsDropped, "anna.events.dropped", "Events missed by a slow subscriber."},
		{&m.ClipboardErrors, "anna.clipboard.errors", "Failed clipboard reads."},
		{&m.CacheLookups, "anna.cache.lookups", "Translation cache reads."},
		{&m.CacheWrites, "anna.cache.writes", "Translation cache writes."},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}

	m.AnnotateDuration, err = meter.Float64Histogram("anna.annotate.duration",
		metric.WithDescription("Time to annotate one text."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram anna.annotate.duration: %w", err)
	}
	m.CommandDuration, err = meter.Float64Histogram("anna.command.duration",
		metric.WithDescription("Command execution time."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create histogram anna.command.duration: %w", err)
	}
	return m, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// Count adds one to c with a single string attribute.
func Count(ctx context.Context, c metric.Int64Counter, key, value string) {
	c.Add(ctx, 1, metric.WithAttributes(attribute.String(key, value)))
}
