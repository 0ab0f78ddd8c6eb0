// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch_engine

import (
	"time"

	"github.com/AleutianAI/patchsmith/services/patch_engine/recovery"
	"github.com/AleutianAI/patchsmith/services/patch_engine/workflow"
)

// FixRequest is the request body for POST /v1/patchengine/fix.
type FixRequest struct {
	// Task describes the failing behavior to fix. Required.
	Task string `json:"task" binding:"required"`

	// WorkDir is the absolute path of the working tree the run owns
	// for its duration. Required.
	WorkDir string `json:"work_dir" binding:"required"`

	// Files lists the repository-relative files shown to the
	// generator as context. Required, at least one.
	Files []string `json:"files" binding:"required,min=1"`

	// AllowedPathPrefixes lists path prefixes the change may touch.
	// Required: an empty allowlist permits nothing.
	AllowedPathPrefixes []string `json:"allowed_path_prefixes" binding:"required,min=1"`

	// MaxFilesChanged caps touched files. Zero takes the default.
	MaxFilesChanged int `json:"max_files_changed"`

	// MaxTotalChangedLines caps additions plus deletions. Zero takes
	// the default.
	MaxTotalChangedLines int `json:"max_total_changed_lines"`

	// MaxAttempts overrides the refinement attempt budget when > 0.
	MaxAttempts int `json:"max_attempts"`

	// DisableSyntaxCheck turns off the post-edit parse gate.
	DisableSyntaxCheck bool `json:"disable_syntax_check"`

	// VerifyCommand is the check command as argv. When empty, the
	// command is detected from the project layout in WorkDir.
	VerifyCommand []string `json:"verify_command"`

	// TimeoutSeconds bounds the whole run. Zero takes the default.
	TimeoutSeconds int `json:"timeout_seconds"`
}

// FixResponse is the response for POST /v1/patchengine/fix.
type FixResponse struct {
	// RunID identifies the run for later retrieval.
	RunID string `json:"run_id"`

	// State is the terminal run state (SUCCEEDED or FAILED).
	State string `json:"state"`

	// Diff is the final unified diff on success.
	Diff string `json:"diff,omitempty"`

	// Reason is the single top-level failure reason on failure.
	Reason string `json:"reason,omitempty"`

	// Attempts is the full attempt history.
	Attempts []workflow.AttemptRecord `json:"attempts"`

	// Errors are the classified failures recorded during the run.
	Errors []recovery.ErrorRecord `json:"errors,omitempty"`

	// ErrorSummary aggregates the classified failures.
	ErrorSummary recovery.Summary `json:"error_summary"`

	// DurationMs is the wall-clock span of the run in milliseconds.
	DurationMs int64 `json:"duration_ms"`
}

// FixResponseFromRun builds the response DTO for a finished run.
func FixResponseFromRun(run *workflow.WorkflowRun) *FixResponse {
	return &FixResponse{
		RunID:        run.ID,
		State:        run.GetState().String(),
		Diff:         run.Diff,
		Reason:       run.Reason,
		Attempts:     run.Attempts,
		Errors:       run.Errors,
		ErrorSummary: run.ErrorSummary(),
		DurationMs:   run.Duration().Milliseconds(),
	}
}

// RunSummary is one row of GET /v1/patchengine/runs.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Task       string    `json:"task"`
	State      string    `json:"state"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
}

// RunSummaryFromRun builds the listing row for a stored run.
func RunSummaryFromRun(run *workflow.WorkflowRun) RunSummary {
	return RunSummary{
		RunID:      run.ID,
		Task:       run.Task,
		State:      run.GetState().String(),
		Attempts:   len(run.Attempts),
		Reason:     run.Reason,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		DurationMs: run.Duration().Milliseconds(),
	}
}

// ListRunsResponse is the response for GET /v1/patchengine/runs.
type ListRunsResponse struct {
	Runs  []RunSummary `json:"runs"`
	Total int          `json:"total"`
}

// ErrorResponse is the error envelope for all endpoints.
type ErrorResponse struct {
	// Error is a human-readable description.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code"`
}
