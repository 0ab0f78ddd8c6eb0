// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow drives one fix request through the refinement
// loop: generate an operation set, synthesize and validate the change
// set, apply it, verify with the project's check command, and retry
// with feedback until the check passes or the attempt budget is
// spent.
//
// Attempts are strictly sequential. Each attempt's prompt depends on
// the failure detail of the attempt before it, so there is nothing to
// parallelize or speculate. The working tree is only ever left
// modified by a run that ended SUCCEEDED; every other path restores
// the pre-apply snapshot before the run terminates.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/patchsmith/services/patch_engine/apply"
	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
	"github.com/AleutianAI/patchsmith/services/patch_engine/recovery"
	"github.com/AleutianAI/patchsmith/services/patch_engine/synth"
	"github.com/AleutianAI/patchsmith/services/patch_engine/validate"
	"github.com/AleutianAI/patchsmith/services/patch_engine/verify"
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller orchestrates the refinement loop for one run.
//
// Thread Safety: NOT safe for concurrent use. Each run should have
// its own Controller instance.
type Controller struct {
	config    *Config
	files     FileStore
	generator Generator
	verifier  Verifier
	sink      Sink
	clock     recovery.Clock
	machine   *StateMachine
	logger    *slog.Logger
	running   bool
	sess      *session
}

// session is the working state of one run.
type session struct {
	req       *Request
	run       *WorkflowRun
	validator *validate.Validator
	exec      *recovery.Executor
	feedback  *Builder

	// Per-attempt scratch, cleared when the next attempt starts.
	operations []ops.Operation
	changes    *synth.Result
	validation *validate.Result
	pending    *apply.ApplyResult

	// lastFeedback is the feedback block the current attempt's prompt
	// carried.
	lastFeedback string

	extraErrors []recovery.ErrorRecord
	lastErr     error
}

// NewController creates a workflow controller.
//
// Inputs:
//
//	cfg - Controller configuration; nil takes defaults
//	files - Working-tree surface for the run's work dir
//	gen - Generator collaborator
//	verifier - Check-command runner for the same work dir
//	sink - Structured record sink; nil drops records
//	clock - Time source for retry waits; nil uses the system clock
//	logger - Logger for structured logging
//
// Outputs:
//
//	*Controller - Configured controller
func NewController(cfg *Config, files FileStore, gen Generator, verifier Verifier, sink Sink, clock recovery.Clock, logger *slog.Logger) *Controller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if sink == nil {
		sink = nopSink{}
	}
	if clock == nil {
		clock = recovery.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		config:    cfg.normalized(),
		files:     files,
		generator: gen,
		verifier:  verifier,
		sink:      sink,
		clock:     clock,
		machine:   DefaultStateMachine,
		logger:    logger.With("component", "workflow"),
	}
}

// Run executes the refinement loop for one request.
//
// Description:
//
//	Drives the run state machine:
//	  1. Generate an operation set, with feedback from prior attempts
//	  2. Synthesize the change set and validate it against policy
//	  3. Apply it to the work tree as one unit
//	  4. Run the check command; revert and retry if it still fails
//
//	Validation, synthesis, and verification failures consume an
//	attempt and feed the next one. An apply failure ends the run
//	immediately: it signals an environment problem that another
//	generation cannot fix. On deadline expiry the run fails with
//	ErrRunTimeout and any unverified change set is reverted first.
//
// Inputs:
//
//	ctx - Context for cancellation; a deadline bounds the whole run
//	req - The fix request
//
// Outputs:
//
//	*WorkflowRun - Full run record, also returned on failure
//	error - Non-nil when the run did not end SUCCEEDED
func (c *Controller) Run(ctx context.Context, req *Request) (*WorkflowRun, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if c.running {
		return nil, ErrAlreadyRunning
	}
	if c.files == nil || c.generator == nil || c.verifier == nil {
		return nil, errors.New("files, generator and verifier must not be nil")
	}

	c.running = true
	defer func() { c.running = false }()

	run := NewRun(req, c.clock.Now().UTC())
	if run.MaxAttempts <= 0 {
		run.MaxAttempts = c.config.MaxAttempts
	}

	s := &session{
		req:       req,
		run:       run,
		validator: validate.New(req.Policy),
		exec:      recovery.NewExecutor(c.config.Retry, c.clock, c.logger),
		feedback:  NewBuilder(c.config.FeedbackOutputBytes),
	}
	c.sess = s

	if c.config.TotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.TotalTimeout)
		defer cancel()
	}

	c.logger.Info("Starting workflow run",
		slog.String("run_id", run.ID),
		slog.String("work_dir", req.WorkDir),
		slog.Int("max_attempts", run.MaxAttempts),
		slog.Int("context_files", len(req.Files)),
	)

	for !run.GetState().IsTerminal() {
		select {
		case <-ctx.Done():
			c.failTimeout(s)
		default:
			if err := c.step(ctx, s); err != nil {
				c.logger.Error("Step failed",
					slog.String("run_id", run.ID),
					slog.String("state", run.GetState().String()),
					slog.String("error", err.Error()),
				)
				// The state machine has already decided what happens
				// next; the error is the step's account of it.
			}
		}
	}

	c.finish(ctx, s)

	if run.Succeeded() {
		return run, nil
	}
	if s.lastErr == nil {
		s.lastErr = errors.New(run.Reason)
	}
	return run, s.lastErr
}

// step executes one state of the run.
func (c *Controller) step(ctx context.Context, s *session) error {
	switch s.run.GetState() {
	case StateGenerating:
		return c.stepGenerate(ctx, s)
	case StateValidating:
		return c.stepValidate(ctx, s)
	case StateApplying:
		return c.stepApply(ctx, s)
	case StateVerifying:
		return c.stepVerify(ctx, s)
	case StateRetrying:
		return c.stepRetry(ctx, s)
	default:
		return fmt.Errorf("%w: no handler for state %s", ErrInvalidTransition, s.run.GetState())
	}
}

// transition advances the run with logging.
func (c *Controller) transition(s *session, to RunState) error {
	from := s.run.GetState()
	if err := c.machine.Transition(s.run, to); err != nil {
		return err
	}

	c.logger.Info("Workflow state transition",
		slog.String("run_id", s.run.ID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", c.machine.TransitionReason(from, to)),
		slog.Int("attempts", len(s.run.Attempts)),
	)
	return nil
}

// =============================================================================
// STATE HANDLERS
// =============================================================================

func (c *Controller) stepGenerate(ctx context.Context, s *session) error {
	attempt := len(s.run.Attempts) + 1

	c.logger.Debug("Generating operation set",
		slog.Int("attempt", attempt),
		slog.Int("max", s.run.MaxAttempts),
	)

	contextFiles, err := c.files.ReadFiles(s.req.Files)
	if err != nil {
		return c.fail(s, fmt.Errorf("reading context files: %w", err))
	}

	s.lastFeedback = s.feedback.String()
	genReq := &GenerateRequest{
		Task:     s.req.Task,
		Files:    contextFiles,
		Feedback: s.lastFeedback,
		Attempt:  attempt,
	}

	var raw string
	err = s.exec.Execute(ctx, "generate", func(ctx context.Context) error {
		out, genErr := c.generator.Generate(ctx, genReq)
		if genErr != nil {
			return genErr
		}
		raw = out
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return c.failTimeout(s)
		}
		// Transport-level recovery already spent its own retry budget
		// on this; burning more attempts on the same outage cannot
		// help.
		c.recordAttempt(ctx, s, AttemptRecord{
			AttemptNumber: attempt,
			FeedbackGiven: s.lastFeedback,
			Failure:       err.Error(),
		})
		return c.fail(s, fmt.Errorf("generation failed: %w", err))
	}

	operations, err := ops.ParseOperations(raw)
	if err != nil {
		var abort *ops.AbortError
		if errors.As(err, &abort) {
			c.recordAttempt(ctx, s, AttemptRecord{
				AttemptNumber: attempt,
				FeedbackGiven: s.lastFeedback,
				Failure:       abort.Error(),
			})
			return c.fail(s, abort)
		}

		s.feedback.AddFailure(attempt, "produced output that could not be parsed into operations", err.Error())
		return c.retryOrFail(ctx, s, AttemptRecord{
			AttemptNumber: attempt,
			FeedbackGiven: s.lastFeedback,
			Failure:       err.Error(),
		}, err)
	}
	s.operations = operations

	changes, err := c.buildChangeSet(operations)
	if err != nil {
		s.feedback.AddFailure(attempt, "produced operations that could not be synthesized", err.Error())
		return c.retryOrFail(ctx, s, AttemptRecord{
			AttemptNumber: attempt,
			Operations:    operations,
			FeedbackGiven: s.lastFeedback,
			Failure:       err.Error(),
		}, err)
	}
	s.changes = changes

	return c.transition(s, StateValidating)
}

// buildChangeSet groups operations, reads the current content of every
// targeted file, and synthesizes the change set against it.
func (c *Controller) buildChangeSet(operations []ops.Operation) (*synth.Result, error) {
	ps, err := ops.NewPatchSet(operations)
	if err != nil {
		return nil, err
	}
	contents, err := c.files.ReadFiles(ps.Paths())
	if err != nil {
		return nil, err
	}
	return synth.Synthesize(contents, ps)
}

func (c *Controller) stepValidate(ctx context.Context, s *session) error {
	attempt := len(s.run.Attempts) + 1

	result, err := s.validator.Validate(ctx, s.changes)
	if err != nil {
		if ctx.Err() != nil {
			return c.failTimeout(s)
		}
		return c.fail(s, fmt.Errorf("validation: %w", err))
	}
	s.validation = result

	if !result.Valid {
		c.logger.Warn("Change set rejected by policy",
			slog.Int("attempt", attempt),
			slog.Int("violations", len(result.Violations)),
		)
		cause := fmt.Errorf("validation failed with %d violations", len(result.Violations))
		s.feedback.AddViolations(attempt, result.Violations)
		return c.retryOrFail(ctx, s, AttemptRecord{
			AttemptNumber: attempt,
			Operations:    s.operations,
			DiffText:      s.changes.Diff,
			Validation:    result,
			FeedbackGiven: s.lastFeedback,
			Failure:       cause.Error(),
		}, cause)
	}

	c.logger.Info("Change set passed validation",
		slog.Int("attempt", attempt),
		slog.Int("files", len(s.changes.Edits)),
	)
	return c.transition(s, StateApplying)
}

func (c *Controller) stepApply(ctx context.Context, s *session) error {
	attempt := len(s.run.Attempts) + 1

	result, err := c.files.Apply(ctx, s.changes.Edits)
	if err != nil {
		if result != nil && len(result.FilesLeftModified) > 0 {
			c.logger.Error("Work tree left modified after failed apply",
				slog.String("run_id", s.run.ID),
				slog.Any("files", result.FilesLeftModified),
			)
		}
		c.recordAttempt(ctx, s, AttemptRecord{
			AttemptNumber: attempt,
			Operations:    s.operations,
			DiffText:      s.changes.Diff,
			Validation:    s.validation,
			FeedbackGiven: s.lastFeedback,
			Failure:       err.Error(),
		})
		return c.fail(s, err)
	}
	s.pending = result

	c.logger.Info("Change set applied",
		slog.Int("attempt", attempt),
		slog.Int("files_written", len(result.FilesWritten)),
	)
	return c.transition(s, StateVerifying)
}

func (c *Controller) stepVerify(ctx context.Context, s *session) error {
	attempt := len(s.run.Attempts) + 1

	result, err := c.verifier.Run(ctx)
	if ctx.Err() != nil {
		return c.failTimeout(s)
	}
	if err != nil && !errors.Is(err, verify.ErrVerificationTimeout) {
		// The check command could not be judged at all. Put the tree
		// back and stop; this is an environment problem.
		revertErr := c.revert(s)
		c.recordAttempt(ctx, s, AttemptRecord{
			AttemptNumber: attempt,
			Operations:    s.operations,
			DiffText:      s.changes.Diff,
			Validation:    s.validation,
			FeedbackGiven: s.lastFeedback,
			Failure:       err.Error(),
		})
		if revertErr != nil {
			return c.fail(s, fmt.Errorf("verification runner: %v; revert also failed: %w", err, revertErr))
		}
		return c.fail(s, fmt.Errorf("verification runner: %w", err))
	}

	// A timed-out check counts as a failing check; the result carries
	// the partial output either way.
	if result.Passed {
		s.pending = nil
		s.run.Diff = s.changes.Diff
		c.recordAttempt(ctx, s, AttemptRecord{
			AttemptNumber: attempt,
			Operations:    s.operations,
			DiffText:      s.changes.Diff,
			Validation:    s.validation,
			Verification:  result,
			FeedbackGiven: s.lastFeedback,
		})
		c.logger.Info("Verification passed",
			slog.Int("attempt", attempt),
			slog.Duration("check_duration", result.Duration),
		)
		return c.transition(s, StateSucceeded)
	}

	c.logger.Warn("Verification still failing",
		slog.Int("attempt", attempt),
		slog.Int("exit_code", result.ExitCode),
		slog.Bool("timed_out", result.TimedOut),
	)

	rec := AttemptRecord{
		AttemptNumber: attempt,
		Operations:    s.operations,
		DiffText:      s.changes.Diff,
		Validation:    s.validation,
		Verification:  result,
		FeedbackGiven: s.lastFeedback,
		Failure:       ErrTestsStillFailing.Error(),
	}

	if err := c.revert(s); err != nil {
		c.recordAttempt(ctx, s, rec)
		return c.fail(s, fmt.Errorf("revert after failed verification: %w", err))
	}

	s.feedback.AddVerification(attempt, result.Output)
	return c.retryOrFail(ctx, s, rec, ErrTestsStillFailing)
}

func (c *Controller) stepRetry(ctx context.Context, s *session) error {
	completed := len(s.run.Attempts)
	delay := c.config.Retry.Backoff(completed)

	c.logger.Info("Waiting before next attempt",
		slog.String("run_id", s.run.ID),
		slog.Int("completed_attempts", completed),
		slog.Duration("delay", delay),
	)

	if err := c.clock.Sleep(ctx, delay); err != nil {
		return c.failTimeout(s)
	}

	s.operations = nil
	s.changes = nil
	s.validation = nil
	s.pending = nil
	return c.transition(s, StateGenerating)
}

// =============================================================================
// OUTCOME HANDLING
// =============================================================================

// retryOrFail records the failed attempt and either moves to RETRYING
// or, with the budget spent, ends the run.
func (c *Controller) retryOrFail(ctx context.Context, s *session, rec AttemptRecord, cause error) error {
	c.recordAttempt(ctx, s, rec)
	if len(s.run.Attempts) >= s.run.MaxAttempts {
		return c.fail(s, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, len(s.run.Attempts), cause))
	}
	return c.transition(s, StateRetrying)
}

// fail ends the run with a single top-level reason.
func (c *Controller) fail(s *session, cause error) error {
	s.lastErr = cause
	s.run.Reason = cause.Error()
	if err := c.transition(s, StateFailed); err != nil {
		return err
	}
	return cause
}

// failTimeout ends the run on deadline expiry or cancellation. Any
// applied-but-unverified change set is reverted first, so the tree is
// never left modified by a run that did not succeed.
func (c *Controller) failTimeout(s *session) error {
	if s.pending != nil {
		if err := c.revert(s); err != nil {
			c.logger.Error("Revert on timeout failed",
				slog.String("run_id", s.run.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	rec := recovery.ErrorRecord{
		Category:  recovery.CategoryWorkflow,
		Severity:  recovery.SeverityHigh,
		Message:   ErrRunTimeout.Error(),
		Stage:     "run",
		Timestamp: c.clock.Now().UTC(),
	}
	s.extraErrors = append(s.extraErrors, rec)
	c.sink.RecordError(context.Background(), s.run.ID, rec)

	s.lastErr = ErrRunTimeout
	s.run.Reason = ErrRunTimeout.Error()
	if err := c.transition(s, StateFailed); err != nil {
		return err
	}
	return s.lastErr
}

// revert restores the pending applied change set. Runs with a
// cancelled context still revert; the restore uses its own context.
func (c *Controller) revert(s *session) error {
	if s.pending == nil {
		return nil
	}
	if err := c.files.Restore(context.Background(), s.pending.Snapshot); err != nil {
		c.logger.Error("Revert failed",
			slog.String("run_id", s.run.ID),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.pending = nil
	return nil
}

// recordAttempt appends to the run history and emits the record.
func (c *Controller) recordAttempt(ctx context.Context, s *session, rec AttemptRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.clock.Now().UTC()
	}
	s.run.Attempts = append(s.run.Attempts, rec)
	c.sink.RecordAttempt(ctx, s.run.ID, rec)

	c.logger.Info("Attempt recorded",
		slog.String("run_id", s.run.ID),
		slog.Int("attempt", rec.AttemptNumber),
		slog.Int("operations", len(rec.Operations)),
		slog.Bool("failed", rec.Failure != ""),
		slog.String("failure", rec.Failure),
	)
}

// finish stamps the run, folds in the recovery records, and emits the
// final state.
func (c *Controller) finish(ctx context.Context, s *session) {
	run := s.run
	run.FinishedAt = c.clock.Now().UTC()
	run.Errors = append(s.exec.Records(), s.extraErrors...)

	for _, rec := range s.exec.Records() {
		c.sink.RecordError(ctx, run.ID, rec)
	}
	c.sink.RecordRun(ctx, run)

	c.logger.Info("Workflow run complete",
		slog.String("run_id", run.ID),
		slog.String("final_state", run.GetState().String()),
		slog.Bool("success", run.Succeeded()),
		slog.Int("attempts", len(run.Attempts)),
		slog.Int("errors", len(run.Errors)),
		slog.Duration("duration", run.Duration()),
	)
}

// CurrentRun returns the run being driven, for inspection.
func (c *Controller) CurrentRun() *WorkflowRun {
	if c.sess == nil {
		return nil
	}
	return c.sess.run
}

// IsRunning returns true while Run is in progress.
func (c *Controller) IsRunning() bool {
	return c.running
}
