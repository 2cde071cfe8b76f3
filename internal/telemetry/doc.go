// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides the daemon's OpenTelemetry metrics.
//
// InitProvider builds an SDK MeterProvider whose reader is a Prometheus
// exporter; the returned Handler is mounted at GET /metrics. NewMetrics
// creates the counters and histograms the ingest, clipboard, cache, furigana
// and command code records into. Nop returns instruments that discard
// everything, for when metrics are disabled.
//
// # Usage
//
//	p, err := telemetry.InitProvider(telemetry.ProviderConfig{ServiceVersion: version})
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(ctx)
//
//	m, err := telemetry.NewMetrics(p.MeterProvider)
//	telemetry.Count(ctx, m.TextsIngested, "source", "http")
package telemetry
