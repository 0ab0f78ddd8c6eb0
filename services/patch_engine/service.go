// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patch_engine provides the automated repair service: it
// accepts a fix request for a working tree, drives an LLM generator
// through a bounded generate, validate, apply, verify loop, and
// leaves the tree either verifiably fixed or untouched.
//
// The package wires the engine components (ops, anchor, synth,
// validate, apply, verify, workflow, recovery, generator) behind one
// Service with an HTTP surface and persistent run history.
package patch_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/patchsmith/services/llm"
	"github.com/AleutianAI/patchsmith/services/patch_engine/generator"
	"github.com/AleutianAI/patchsmith/services/patch_engine/recovery"
	"github.com/AleutianAI/patchsmith/services/patch_engine/runstore"
	"github.com/AleutianAI/patchsmith/services/patch_engine/telemetry"
	"github.com/AleutianAI/patchsmith/services/patch_engine/validate"
	"github.com/AleutianAI/patchsmith/services/patch_engine/verify"
	"github.com/AleutianAI/patchsmith/services/patch_engine/workflow"
)

// tracer traces workflow phases for the service surface.
var tracer = otel.Tracer("patchsmith.engine.service")

// ErrNilDependency indicates a required constructor dependency was
// nil.
var ErrNilDependency = errors.New("required dependency must not be nil")

// ServiceConfig configures the patch engine service.
type ServiceConfig struct {
	// Workflow tunes the refinement loop. Nil takes defaults.
	Workflow *workflow.Config

	// Generator tunes prompt assembly and request pacing.
	Generator generator.Config

	// VerifyTimeout bounds one check command run. Zero takes the
	// verify package default.
	VerifyTimeout time.Duration

	// MaxConcurrentRuns caps simultaneous workflow runs. Each run
	// owns its working tree, so the cap protects the host, not the
	// trees. Default: 4.
	MaxConcurrentRuns int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxConcurrentRuns: 4,
	}
}

// Service is the patch engine service.
//
// Thread Safety: Safe for concurrent use. Each Fix call drives its
// own controller; runs for different working trees proceed in
// parallel up to MaxConcurrentRuns.
type Service struct {
	config  ServiceConfig
	client  llm.LLMClient
	store   *runstore.Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
	slots   chan struct{}
}

// NewService creates the patch engine service.
//
// Inputs:
//
//	cfg - Service configuration
//	client - Generator backend. Must not be nil.
//	store - Run history store. Must not be nil.
//	metrics - Engine metrics; nil disables metric recording.
//	logger - Logger; nil uses slog.Default().
//
// Outputs:
//
//	*Service - The configured service
//	error - Non-nil when a required dependency is missing
func NewService(cfg ServiceConfig, client llm.LLMClient, store *runstore.Store, metrics *telemetry.Metrics, logger *slog.Logger) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: llm client", ErrNilDependency)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: run store", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultServiceConfig().MaxConcurrentRuns
	}

	return &Service{
		config:  cfg,
		client:  client,
		store:   store,
		metrics: metrics,
		logger:  logger.With("component", "patch_engine"),
		slots:   make(chan struct{}, cfg.MaxConcurrentRuns),
	}, nil
}

// Fix runs one refinement workflow for the request.
//
// Description:
//
//	Builds the run's collaborators (work-tree store, verifier,
//	generator), drives the controller to a terminal state, and
//	persists the finished run. The returned run is complete even when
//	the error is non-nil; callers get the attempt history either way.
//
// Inputs:
//
//	ctx - Context for cancellation; a deadline bounds the whole run
//	req - The fix request DTO
//
// Outputs:
//
//	*workflow.WorkflowRun - Full run record
//	error - Non-nil when the run did not end SUCCEEDED
func (s *Service) Fix(ctx context.Context, req *FixRequest) (*workflow.WorkflowRun, error) {
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ctx, span := tracer.Start(ctx, "patchengine.fix",
		oteltrace.WithAttributes(
			attribute.String("work_dir", req.WorkDir),
			attribute.Int("context_files", len(req.Files)),
		))
	defer span.End()

	files, err := workflow.NewTreeStore(req.WorkDir, s.logger.With("work_dir", req.WorkDir))
	if err != nil {
		return nil, fmt.Errorf("open work tree: %w", err)
	}

	verifier, err := verify.NewRunner(verify.Config{
		WorkDir: req.WorkDir,
		Command: req.VerifyCommand,
		Timeout: s.config.VerifyTimeout,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("verification runner: %w", err)
	}

	gen, err := generator.New(s.config.Generator, s.client, s.logger)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	var genCollab workflow.Generator = gen
	if s.metrics != nil {
		genCollab = &timedGenerator{inner: gen, metrics: s.metrics}
	}

	cfg := s.config.Workflow
	if req.TimeoutSeconds > 0 {
		base := workflow.DefaultConfig()
		if cfg != nil {
			base = cfg
		}
		withTimeout := *base
		withTimeout.TotalTimeout = time.Duration(req.TimeoutSeconds) * time.Second
		cfg = &withTimeout
	}

	sink := &recordSink{store: s.store, metrics: s.metrics, logger: s.logger}
	controller := workflow.NewController(cfg, files, genCollab, verifier, sink, nil, s.logger)

	run, runErr := controller.Run(ctx, &workflow.Request{
		Task:    req.Task,
		WorkDir: req.WorkDir,
		Files:   req.Files,
		Policy: validate.PolicyConfig{
			AllowedPathPrefixes:  req.AllowedPathPrefixes,
			MaxFilesChanged:      req.MaxFilesChanged,
			MaxTotalChangedLines: req.MaxTotalChangedLines,
			DisableSyntaxCheck:   req.DisableSyntaxCheck,
		},
		MaxAttempts: req.MaxAttempts,
	})
	if run != nil {
		span.SetAttributes(
			attribute.String("run_id", run.ID),
			attribute.String("final_state", run.GetState().String()),
			attribute.Int("attempts", len(run.Attempts)),
		)
	}
	return run, runErr
}

// GetRun retrieves a stored run by ID.
func (s *Service) GetRun(ctx context.Context, id string) (*workflow.WorkflowRun, error) {
	return s.store.Get(ctx, id)
}

// ListRuns returns stored runs newest-first, up to limit.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*workflow.WorkflowRun, error) {
	return s.store.List(ctx, limit)
}

// Ready reports whether the service can accept a run right now.
func (s *Service) Ready(ctx context.Context) error {
	if _, err := s.store.Count(ctx); err != nil {
		return fmt.Errorf("run store: %w", err)
	}
	return nil
}

// =============================================================================
// TIMED GENERATOR
// =============================================================================

// timedGenerator records generator call latency around the inner
// generator. Wired in only when the service carries metrics.
type timedGenerator struct {
	inner   workflow.Generator
	metrics *telemetry.Metrics
}

var _ workflow.Generator = (*timedGenerator)(nil)

func (g *timedGenerator) Generate(ctx context.Context, req *workflow.GenerateRequest) (string, error) {
	start := time.Now()
	out, err := g.inner.Generate(ctx, req)
	g.metrics.GeneratorLatency.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("error", err != nil)))
	return out, err
}

// =============================================================================
// OBSERVABILITY SINK
// =============================================================================

// recordSink emits every attempt and error record as structured data
// and persists the finished run. It satisfies the controller's rule
// that records are never prose-only.
type recordSink struct {
	store   *runstore.Store
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

var _ workflow.Sink = (*recordSink)(nil)

func (k *recordSink) RecordAttempt(ctx context.Context, runID string, rec workflow.AttemptRecord) {
	attrs := []any{
		slog.String("run_id", runID),
		slog.Int("attempt_number", rec.AttemptNumber),
		slog.Int("operations", len(rec.Operations)),
		slog.Time("timestamp", rec.Timestamp),
	}
	if rec.Validation != nil {
		attrs = append(attrs,
			slog.Bool("valid", rec.Validation.Valid),
			slog.Any("violations", rec.Validation.Messages()),
		)
		if k.metrics != nil && !rec.Validation.Valid {
			rules := make([]string, 0, len(rec.Validation.Violations))
			for _, v := range rec.Validation.Violations {
				rules = append(rules, v.Rule)
			}
			k.metrics.RecordViolations(ctx, rules)
		}
	}
	if rec.Verification != nil {
		attrs = append(attrs,
			slog.Bool("verification_passed", rec.Verification.Passed),
			slog.Int("verification_exit_code", rec.Verification.ExitCode),
		)
		if k.metrics != nil {
			k.metrics.VerificationLatency.Record(ctx, rec.Verification.Duration.Seconds())
		}
	}
	if rec.Failure != "" {
		attrs = append(attrs, slog.String("failure", rec.Failure))
	}
	k.logger.Info("attempt_record", attrs...)
}

func (k *recordSink) RecordError(ctx context.Context, runID string, rec recovery.ErrorRecord) {
	k.logger.Warn("error_record",
		slog.String("run_id", runID),
		slog.String("category", string(rec.Category)),
		slog.String("severity", string(rec.Severity)),
		slog.String("stage", rec.Stage),
		slog.Int("retry_count", rec.RetryCount),
		slog.Bool("recovered", rec.Recovered),
		slog.String("message", rec.Message),
	)
	if k.metrics != nil {
		k.metrics.RecordError(ctx, string(rec.Category), string(rec.Severity))
	}
}

func (k *recordSink) RecordRun(ctx context.Context, run *workflow.WorkflowRun) {
	if k.metrics != nil {
		k.metrics.RecordRun(ctx, strings.ToLower(run.GetState().String()), run.Duration(), len(run.Attempts))
		if run.Succeeded() {
			// One "+++ b/" header per touched file in the rendered diff.
			k.metrics.AppliedFilesTotal.Add(ctx, int64(strings.Count(run.Diff, "+++ b/")))
		}
	}

	// Persist on a fresh context: a run that failed on deadline
	// expiry still belongs in the history.
	putCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := k.store.Put(putCtx, run); err != nil {
		k.logger.Error("persist run failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}
