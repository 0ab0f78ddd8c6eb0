// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
	"github.com/AleutianAI/patchsmith/services/patch_engine/recovery"
	"github.com/AleutianAI/patchsmith/services/patch_engine/validate"
	"github.com/AleutianAI/patchsmith/services/patch_engine/verify"
)

// Defaults for controller configuration.
const (
	// DefaultMaxAttempts is the refinement attempt budget.
	DefaultMaxAttempts = 3

	// DefaultTotalTimeout caps one run end to end.
	DefaultTotalTimeout = 10 * time.Minute

	// DefaultFeedbackOutputBytes caps verification output carried into
	// the next attempt's prompt.
	DefaultFeedbackOutputBytes = 8 * 1024
)

// =============================================================================
// REQUEST
// =============================================================================

// Request describes one fix request: the failing behavior, the work
// tree, and the policy bounding what the fix may touch.
type Request struct {
	// Task describes the failing behavior to fix.
	Task string `json:"task"`

	// WorkDir is the absolute path of the working tree. The run owns
	// it exclusively for its duration; callers serialize access.
	WorkDir string `json:"work_dir"`

	// Files lists the repository-relative files shown to the generator
	// as context.
	Files []string `json:"files"`

	// Policy bounds what the change set may touch. Supplied per
	// request, never global.
	Policy validate.PolicyConfig `json:"policy"`

	// MaxAttempts overrides the configured attempt budget when > 0.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

// Validate checks that the request has required fields.
func (r *Request) Validate() error {
	if r == nil || r.Task == "" || r.WorkDir == "" || len(r.Files) == 0 {
		return ErrEmptyRequest
	}
	return nil
}

// =============================================================================
// CONFIG
// =============================================================================

// Config tunes a controller. Zero values take defaults.
type Config struct {
	// MaxAttempts is the attempt budget used when the request does not
	// set its own.
	MaxAttempts int

	// TotalTimeout caps one run end to end. Zero leaves the caller's
	// context in charge.
	TotalTimeout time.Duration

	// FeedbackOutputBytes caps how much verification output is carried
	// into the next attempt's prompt.
	FeedbackOutputBytes int

	// Retry tunes transport-level recovery around generator calls and
	// the delay between refinement attempts.
	Retry recovery.RetryPolicy
}

// DefaultConfig returns the standard controller configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:         DefaultMaxAttempts,
		TotalTimeout:        DefaultTotalTimeout,
		FeedbackOutputBytes: DefaultFeedbackOutputBytes,
		Retry:               recovery.DefaultRetryPolicy(),
	}
}

// normalized fills unset fields with defaults, leaving the receiver
// untouched.
func (c *Config) normalized() *Config {
	out := *c
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.FeedbackOutputBytes <= 0 {
		out.FeedbackOutputBytes = DefaultFeedbackOutputBytes
	}
	if out.Retry == (recovery.RetryPolicy{}) {
		out.Retry = recovery.DefaultRetryPolicy()
	}
	return &out
}

// =============================================================================
// ATTEMPT RECORD
// =============================================================================

// AttemptRecord is the account of one refinement attempt. Records are
// append-only: once in the run history they are never modified.
type AttemptRecord struct {
	// AttemptNumber counts from 1.
	AttemptNumber int `json:"attempt_number"`

	// Operations is the parsed operation set, when parsing got that far.
	Operations []ops.Operation `json:"operations,omitempty"`

	// DiffText is the synthesized unified diff, when synthesis got
	// that far.
	DiffText string `json:"diff_text,omitempty"`

	// Validation holds the policy result, when the attempt reached
	// validation.
	Validation *validate.Result `json:"validation,omitempty"`

	// Verification holds the check command result, when the attempt
	// reached verification.
	Verification *verify.Result `json:"verification,omitempty"`

	// FeedbackGiven is the feedback block this attempt's prompt
	// carried. Empty on the first attempt.
	FeedbackGiven string `json:"feedback_given,omitempty"`

	// Failure describes why the attempt failed. Empty on success.
	Failure string `json:"failure,omitempty"`

	// Timestamp is when the attempt ended.
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// WORKFLOW RUN
// =============================================================================

// WorkflowRun is the full record of one fix request: policy, state,
// every attempt, and every classified error. One run owns one working
// tree for its duration and is never shared between requests.
type WorkflowRun struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// Task is the request's failing-behavior description.
	Task string `json:"task"`

	// WorkDir is the working tree the run operated on.
	WorkDir string `json:"work_dir"`

	// Policy is the policy the run was bounded by.
	Policy validate.PolicyConfig `json:"policy"`

	// MaxAttempts is the resolved attempt budget.
	MaxAttempts int `json:"max_attempts"`

	// State is the current run state. Read it through GetState; the
	// controller advances it through the state machine.
	State RunState `json:"state"`

	// Reason is the single top-level failure reason on FAILED runs.
	Reason string `json:"reason,omitempty"`

	// Diff is the final unified diff on SUCCEEDED runs.
	Diff string `json:"diff,omitempty"`

	// Attempts is the append-only attempt history.
	Attempts []AttemptRecord `json:"attempts"`

	// Errors are the classified failures recorded during the run.
	Errors []recovery.ErrorRecord `json:"errors,omitempty"`

	// StartedAt and FinishedAt bound the run in wall-clock time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// mu guards State. The remaining fields are written only by the
	// controller goroutine driving the run.
	mu sync.RWMutex
}

// NewRun creates the run record for a request in its initial state.
func NewRun(req *Request, now time.Time) *WorkflowRun {
	return &WorkflowRun{
		ID:          uuid.New().String(),
		Task:        req.Task,
		WorkDir:     req.WorkDir,
		Policy:      req.Policy,
		MaxAttempts: req.MaxAttempts,
		State:       StateGenerating,
		StartedAt:   now,
	}
}

// GetState returns the current run state.
func (r *WorkflowRun) GetState() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State
}

// SetState records a new state. Transitions normally go through a
// StateMachine, which validates them before calling this.
func (r *WorkflowRun) SetState(s RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = s
}

// Succeeded reports whether the run ended with a verified change.
func (r *WorkflowRun) Succeeded() bool {
	return r.GetState() == StateSucceeded
}

// Duration returns the wall-clock span of the run, zero while it is
// still in progress.
func (r *WorkflowRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ErrorSummary aggregates the run's classified errors.
func (r *WorkflowRun) ErrorSummary() recovery.Summary {
	return recovery.Summarize(r.Errors)
}
