// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestCount_RecordsAttribute(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	Count(ctx, m.TextsIngested, "source", "http")
	Count(ctx, m.TextsIngested, "source", "http")
	Count(ctx, m.TextsIngested, "source", "clipboard")

	got := findMetric(t, reader, "anna.texts.ingested")
	if got == nil {
		t.Fatal("anna.texts.ingested not collected")
	}
	sum, ok := got.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("data type = %T, want metricdata.Sum[int64]", got.Data)
	}

	counts := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("source"))
		counts[v.AsString()] = dp.Value
	}
	if counts["http"] != 2 || counts["clipboard"] != 1 {
		t.Errorf("counts = %v, want http=2 clipboard=1", counts)
	}
}

func TestHistogram_Records(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.AnnotateDuration.Record(context.Background(), 0.25)

	got := findMetric(t, reader, "anna.annotate.duration")
	if got == nil {
		t.Fatal("anna.annotate.duration not collected")
	}
	hist, ok := got.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want metricdata.Histogram[float64]", got.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("unexpected data points: %+v", hist.DataPoints)
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	m := Nop()
	Count(context.Background(), m.CacheLookups, "result", "hit")
	m.CommandDuration.Record(context.Background(), 1)
}

func TestInitProvider_ServesPrometheus(t *testing.T) {
	p, err := InitProvider(ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer p.Shutdown(context.Background())

	// A second provider must not collide with the first.
	p2, err := InitProvider(ProviderConfig{})
	if err != nil {
		t.Fatalf("second InitProvider: %v", err)
	}
	defer p2.Shutdown(context.Background())

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	Count(context.Background(), m.ClipboardErrors, "kind", "read")

	rec := httptest.NewRecorder()
	p.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(string(body), "anna_clipboard_errors") {
		t.Errorf("metrics output missing anna_clipboard_errors:\n%s", body)
	}
}
