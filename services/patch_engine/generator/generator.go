// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator turns a fix request into raw operation-set output
// by prompting an LLM backend. It owns the patcher prompt and the
// client-side request throttle; parsing what comes back is the ops
// package's job.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/patchsmith/services/llm"
	"github.com/AleutianAI/patchsmith/services/patch_engine/workflow"
)

const (
	// DefaultTemperature keeps the patcher near-deterministic.
	DefaultTemperature = 0.1

	// DefaultMaxTokens bounds one completion.
	DefaultMaxTokens = 4096

	// DefaultRequestsPerMinute is the client-side request ceiling.
	DefaultRequestsPerMinute = 30

	// DefaultMaxFileBytes bounds each context file in the prompt.
	DefaultMaxFileBytes = 64 << 10
)

// Config tunes prompt assembly and request pacing.
type Config struct {
	// Temperature for the completion. Zero means DefaultTemperature.
	Temperature float32

	// MaxTokens bounds the completion. Zero means DefaultMaxTokens.
	MaxTokens int

	// RequestsPerMinute caps outbound requests. Zero means
	// DefaultRequestsPerMinute; negative disables the throttle.
	RequestsPerMinute int

	// MaxFileBytes bounds each context file in the prompt. Zero means
	// DefaultMaxFileBytes; negative disables the bound.
	MaxFileBytes int
}

func (c Config) normalized() Config {
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.RequestsPerMinute == 0 {
		c.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.MaxFileBytes == 0 {
		c.MaxFileBytes = DefaultMaxFileBytes
	}
	return c
}

// EditGenerator produces operation-set output through an LLM backend.
//
// Thread Safety: safe for concurrent use; the limiter serializes
// request pacing across goroutines.
type EditGenerator struct {
	client  llm.LLMClient
	config  Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ workflow.Generator = (*EditGenerator)(nil)

// New creates a generator over the given backend.
func New(cfg Config, client llm.LLMClient, logger *slog.Logger) (*EditGenerator, error) {
	if client == nil {
		return nil, errors.New("llm client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalized()

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &EditGenerator{
		client:  client,
		config:  cfg,
		limiter: limiter,
		logger:  logger.With("component", "generator"),
	}, nil
}

// Generate prompts the backend for one operation set.
//
// Description:
//
//	Waits for the request throttle, assembles the patcher prompt from
//	the task, prior-attempt feedback, and the current file contents,
//	and returns the backend's raw output. Output is returned verbatim;
//	extraction and schema checks happen in ops.ParseOperations.
//
// Inputs:
//
//	ctx - Context for cancellation; also bounds the throttle wait
//	req - The attempt's task, files, and feedback
//
// Outputs:
//
//	string - Raw model output
//	error - Non-nil on throttle interruption or backend failure
func (g *EditGenerator) Generate(ctx context.Context, req *workflow.GenerateRequest) (string, error) {
	if req == nil {
		return "", errors.New("generate request must not be nil")
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	prompt := systemPrompt + "\n\n" + buildUserPrompt(req, g.config.MaxFileBytes)

	g.logger.Debug("Requesting operation set",
		slog.Int("attempt", req.Attempt),
		slog.Int("context_files", len(req.Files)),
		slog.Int("prompt_bytes", len(prompt)),
		slog.Bool("with_feedback", req.Feedback != ""),
	)

	temperature := g.config.Temperature
	maxTokens := g.config.MaxTokens
	out, err := g.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generator backend: %w", err)
	}

	g.logger.Debug("Operation set received",
		slog.Int("attempt", req.Attempt),
		slog.Int("response_bytes", len(out)),
	)
	return out, nil
}
