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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined metrics for the patch engine.
//
// All metrics use the "patchengine_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// RunsTotal counts workflow runs by outcome (succeeded, failed).
	RunsTotal metric.Int64Counter

	// RunDuration records end-to-end run duration in seconds.
	RunDuration metric.Float64Histogram

	// AttemptsPerRun records how many refinement attempts a run took.
	AttemptsPerRun metric.Int64Histogram

	// GeneratorLatency records generator call duration in seconds.
	GeneratorLatency metric.Float64Histogram

	// VerificationLatency records check command duration in seconds.
	VerificationLatency metric.Float64Histogram

	// ErrorsTotal counts classified errors by category and severity.
	ErrorsTotal metric.Int64Counter

	// ViolationsTotal counts policy violations by rule.
	ViolationsTotal metric.Int64Counter

	// AppliedFilesTotal counts files written by successful applies.
	AppliedFilesTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all metrics registered.
//
// Inputs:
//
//	meter - The OTel meter to register with. Must not be nil.
//
// Outputs:
//
//	*Metrics - All counters and histograms initialized.
//	error - Non-nil if any metric registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	m := &Metrics{}
	var err error

	if m.RunsTotal, err = meter.Int64Counter(
		"patchengine_runs_total",
		metric.WithDescription("Workflow runs by outcome"),
	); err != nil {
		return nil, fmt.Errorf("register runs_total: %w", err)
	}

	if m.RunDuration, err = meter.Float64Histogram(
		"patchengine_run_duration_seconds",
		metric.WithDescription("End-to-end workflow run duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("register run_duration: %w", err)
	}

	if m.AttemptsPerRun, err = meter.Int64Histogram(
		"patchengine_attempts_per_run",
		metric.WithDescription("Refinement attempts consumed per run"),
	); err != nil {
		return nil, fmt.Errorf("register attempts_per_run: %w", err)
	}

	if m.GeneratorLatency, err = meter.Float64Histogram(
		"patchengine_generator_latency_seconds",
		metric.WithDescription("Generator call duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("register generator_latency: %w", err)
	}

	if m.VerificationLatency, err = meter.Float64Histogram(
		"patchengine_verification_latency_seconds",
		metric.WithDescription("Check command duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("register verification_latency: %w", err)
	}

	if m.ErrorsTotal, err = meter.Int64Counter(
		"patchengine_errors_total",
		metric.WithDescription("Classified errors by category and severity"),
	); err != nil {
		return nil, fmt.Errorf("register errors_total: %w", err)
	}

	if m.ViolationsTotal, err = meter.Int64Counter(
		"patchengine_violations_total",
		metric.WithDescription("Policy violations by rule"),
	); err != nil {
		return nil, fmt.Errorf("register violations_total: %w", err)
	}

	if m.AppliedFilesTotal, err = meter.Int64Counter(
		"patchengine_applied_files_total",
		metric.WithDescription("Files written by successful applies"),
	); err != nil {
		return nil, fmt.Errorf("register applied_files_total: %w", err)
	}

	return m, nil
}

// RecordRun records the outcome, duration, and attempt count of one
// finished run.
func (m *Metrics) RecordRun(ctx context.Context, outcome string, duration time.Duration, attempts int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, duration.Seconds(), attrs)
	m.AttemptsPerRun.Record(ctx, int64(attempts), attrs)
}

// RecordError counts one classified error.
func (m *Metrics) RecordError(ctx context.Context, category, severity string) {
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("severity", severity),
	))
}

// RecordViolations counts policy violations by rule.
func (m *Metrics) RecordViolations(ctx context.Context, rules []string) {
	for _, rule := range rules {
		m.ViolationsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rule", rule),
		))
	}
}
