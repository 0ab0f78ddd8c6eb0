// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestInit(t *testing.T) {
	t.Run("nil context is rejected", func(t *testing.T) {
		//nolint:staticcheck // testing nil-context handling on purpose
		_, err := Init(nil, DefaultConfig())
		if !errors.Is(err, ErrNilContext) {
			t.Fatalf("want ErrNilContext, got %v", err)
		}
	})

	t.Run("disabled exporters need no network", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "none"
		cfg.MetricExporter = "none"

		shutdown, err := Init(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Init: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	})

	t.Run("unknown exporter fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "carrier-pigeon"
		cfg.MetricExporter = "none"

		_, err := Init(context.Background(), cfg)
		if !errors.Is(err, ErrUnknownExporter) {
			t.Fatalf("want ErrUnknownExporter, got %v", err)
		}
	})

	t.Run("prometheus exporter installs the metrics handler", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "none"
		cfg.MetricExporter = "prometheus"

		shutdown, err := Init(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Init: %v", err)
		}
		defer shutdown(context.Background())

		if MetricsHandler() == nil {
			t.Fatal("MetricsHandler() returned nil with prometheus exporter active")
		}
	})
}

func TestNewMetrics(t *testing.T) {
	t.Run("nil meter is rejected", func(t *testing.T) {
		_, err := NewMetrics(nil)
		if !errors.Is(err, ErrNilMeter) {
			t.Fatalf("want ErrNilMeter, got %v", err)
		}
	})

	t.Run("registers and records without error", func(t *testing.T) {
		provider := sdkmetric.NewMeterProvider()
		defer provider.Shutdown(context.Background())

		m, err := NewMetrics(provider.Meter("patchengine_test"))
		if err != nil {
			t.Fatalf("NewMetrics: %v", err)
		}

		ctx := context.Background()
		m.RecordRun(ctx, "succeeded", 42*time.Second, 2)
		m.RecordError(ctx, "network", "medium")
		m.RecordViolations(ctx, []string{"allowlist", "max_lines"})
		m.AppliedFilesTotal.Add(ctx, 3)
	})
}
