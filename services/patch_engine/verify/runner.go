// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package verify runs the external check command that decides whether
// an applied change set actually fixed anything.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrVerificationTimeout indicates the check command exceeded its
	// timeout.
	ErrVerificationTimeout = errors.New("verification command timeout")

	// ErrNoProjectDetected indicates no supported project layout was
	// found and no command was configured.
	ErrNoProjectDetected = errors.New("no supported project detected in work directory")
)

// =============================================================================
// RUNNER
// =============================================================================

const (
	// DefaultTimeout bounds a single verification run.
	DefaultTimeout = 5 * time.Minute

	// DefaultMaxOutputBytes bounds captured command output.
	DefaultMaxOutputBytes = 1 << 20
)

// Config configures a verification runner.
type Config struct {
	// WorkDir is the directory the command runs in.
	WorkDir string

	// Command is the check command as argv. When empty, the command is
	// detected from the project layout in WorkDir.
	Command []string

	// Timeout bounds one run. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxOutputBytes bounds captured output. Zero means
	// DefaultMaxOutputBytes.
	MaxOutputBytes int
}

// Result is the outcome of one verification run.
type Result struct {
	// Passed is true when the command exited zero.
	Passed bool `json:"passed"`

	// ExitCode is the command's exit code; -1 when it did not run to
	// completion.
	ExitCode int `json:"exit_code"`

	// Output is the combined stdout and stderr, possibly truncated.
	Output string `json:"output,omitempty"`

	// Truncated is true when Output hit the capture limit.
	Truncated bool `json:"truncated,omitempty"`

	// TimedOut is true when the run was killed at the timeout.
	TimedOut bool `json:"timed_out,omitempty"`

	// Duration is the wall time of the run in nanoseconds.
	Duration time.Duration `json:"duration"`

	// Command is the argv that was executed.
	Command []string `json:"command,omitempty"`
}

// Runner executes the configured check command.
//
// Thread Safety: Safe for concurrent use. Each run creates its own
// process.
type Runner struct {
	config Config
	logger *slog.Logger
}

// NewRunner creates a verification runner.
//
// Description:
//
//	Validates the configuration and, when no command is given, detects
//	one from the project layout in WorkDir.
//
// Inputs:
//
//	cfg - Runner configuration
//	logger - Logger for structured logging (nil for default)
//
// Outputs:
//
//	*Runner - Ready-to-use runner
//	error - Non-nil if WorkDir is empty or no command could be determined
func NewRunner(cfg Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkDir == "" {
		return nil, errors.New("work directory is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}

	if len(cfg.Command) == 0 {
		command, err := DetectCommand(cfg.WorkDir)
		if err != nil {
			return nil, err
		}
		cfg.Command = command
	}

	return &Runner{
		config: cfg,
		logger: logger.With("component", "verify"),
	}, nil
}

// Command returns the argv the runner will execute.
func (r *Runner) Command() []string {
	return r.config.Command
}

// Run executes the check command once.
//
// Description:
//
//	Runs the command in the work directory, capturing combined stdout
//	and stderr up to the configured limit. A non-zero exit is a failed
//	verification, not an error; errors are reserved for the command
//	not running at all.
//
// Inputs:
//
//	ctx - Context for cancellation
//
// Outputs:
//
//	*Result - Run outcome including captured output
//	error - Non-nil on timeout or if the command could not be started
//
// Thread Safety: Safe for concurrent use.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.config.Command[0], r.config.Command[1:]...)
	cmd.Dir = r.config.WorkDir

	// One writer for both streams keeps the output interleaved the way
	// a terminal would show it.
	var buf bytes.Buffer
	limited := &limitedWriter{w: &buf, limit: r.config.MaxOutputBytes}
	cmd.Stdout = limited
	cmd.Stderr = limited

	r.logger.Debug("Running verification command",
		slog.Any("command", r.config.Command),
		slog.String("work_dir", r.config.WorkDir),
		slog.Duration("timeout", r.config.Timeout),
	)

	err := cmd.Run()

	result := &Result{
		ExitCode:  0,
		Output:    buf.String(),
		Truncated: limited.truncated,
		Duration:  time.Since(start),
		Command:   r.config.Command,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("Verification timed out",
			slog.Duration("timeout", r.config.Timeout),
		)
		return result, ErrVerificationTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			return result, fmt.Errorf("running verification command: %w", err)
		}
	}

	result.Passed = result.ExitCode == 0

	r.logger.Info("Verification completed",
		slog.Bool("passed", result.Passed),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", result.Duration),
		slog.Int("output_bytes", len(result.Output)),
	)

	return result, nil
}

// =============================================================================
// LIMITED WRITER
// =============================================================================

// limitedWriter wraps a writer with a size limit.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	// Always report the full length consumed: a short count here reads
	// as a failed write to the exec pipe copier and kills the child.
	orig := len(p)

	if lw.written >= lw.limit {
		lw.truncated = true
		return orig, nil // Silently discard
	}

	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	n, err = lw.w.Write(p)
	lw.written += n
	return orig, err
}
