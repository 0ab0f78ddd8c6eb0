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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/patchsmith/services/patch_engine/apply"
	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
	"github.com/AleutianAI/patchsmith/services/patch_engine/recovery"
	"github.com/AleutianAI/patchsmith/services/patch_engine/synth"
	"github.com/AleutianAI/patchsmith/services/patch_engine/validate"
	"github.com/AleutianAI/patchsmith/services/patch_engine/verify"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeWorkFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func readWorkFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// testRetryPolicy is the default policy without jitter, so waits are
// exact.
func testRetryPolicy() recovery.RetryPolicy {
	return recovery.RetryPolicy{
		BackoffBase:       time.Second,
		BackoffMax:        30 * time.Second,
		MaxNetworkRetries: 3,
		RateLimitWait:     30 * time.Second,
		ResourceWait:      5 * time.Second,
	}
}

func newWorkStore(t *testing.T, dir string) FileStore {
	t.Helper()
	store, err := NewTreeStore(dir, discardLogger())
	if err != nil {
		t.Fatalf("NewTreeStore: %v", err)
	}
	return store
}

// scriptedGenerator returns canned outputs in order, repeating the
// last one, and keeps every request for prompt assertions.
type scriptedGenerator struct {
	outputs  []string
	calls    int
	requests []*GenerateRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req *GenerateRequest) (string, error) {
	g.requests = append(g.requests, req)
	idx := g.calls
	if idx >= len(g.outputs) {
		idx = len(g.outputs) - 1
	}
	g.calls++
	return g.outputs[idx], nil
}

// erroringGenerator always fails with the same error.
type erroringGenerator struct {
	err   error
	calls int
}

func (g *erroringGenerator) Generate(context.Context, *GenerateRequest) (string, error) {
	g.calls++
	return "", g.err
}

// stubVerifier returns canned results in order, repeating the last
// one.
type stubVerifier struct {
	results []*verify.Result
	calls   int
}

func (v *stubVerifier) Run(context.Context) (*verify.Result, error) {
	idx := v.calls
	if idx >= len(v.results) {
		idx = len(v.results) - 1
	}
	v.calls++
	return v.results[idx], nil
}

// cancellingVerifier cancels the run mid-verification.
type cancellingVerifier struct {
	cancel context.CancelFunc
	calls  int
}

func (v *cancellingVerifier) Run(context.Context) (*verify.Result, error) {
	v.calls++
	v.cancel()
	return nil, context.Canceled
}

// failingApplyStore reads and restores through the real store but
// refuses to apply.
type failingApplyStore struct {
	FileStore
	applyErr error
}

func (s *failingApplyStore) Apply(context.Context, []synth.FileEdit) (*apply.ApplyResult, error) {
	return nil, s.applyErr
}

// captureSink keeps every emitted record.
type captureSink struct {
	attempts []AttemptRecord
	errs     []recovery.ErrorRecord
	runs     []*WorkflowRun
}

func (s *captureSink) RecordAttempt(_ context.Context, _ string, rec AttemptRecord) {
	s.attempts = append(s.attempts, rec)
}

func (s *captureSink) RecordError(_ context.Context, _ string, rec recovery.ErrorRecord) {
	s.errs = append(s.errs, rec)
}

func (s *captureSink) RecordRun(_ context.Context, run *WorkflowRun) {
	s.runs = append(s.runs, run)
}

const sampleFixOutput = `{"ops": [{"path": "sample.py", "find": "assert 1 == 2", "replace": "assert 1 == 1"}]}`

func sampleRequest(dir string) *Request {
	return &Request{
		Task:    "make the failing assertion pass",
		WorkDir: dir,
		Files:   []string{"sample.py"},
		Policy:  validate.PolicyConfig{AllowedPathPrefixes: []string{"sample.py"}},
	}
}

// =============================================================================
// RUN SCENARIOS
// =============================================================================

func TestController_EndToEndFix(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "sample.py", "x = 1\nassert 1 == 2\n")

	gen := &scriptedGenerator{outputs: []string{sampleFixOutput}}
	runner, err := verify.NewRunner(verify.Config{
		WorkDir: dir,
		Command: []string{"grep", "-q", "assert 1 == 1", "sample.py"},
	}, discardLogger())
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sink := &captureSink{}
	ctrl := NewController(&Config{Retry: testRetryPolicy()}, newWorkStore(t, dir), gen, runner, sink, clock, discardLogger())

	run, err := ctrl.Run(context.Background(), sampleRequest(dir))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Succeeded() {
		t.Fatalf("final state = %s, want %s", run.GetState(), StateSucceeded)
	}

	if len(run.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(run.Attempts))
	}
	at := run.Attempts[0]
	if at.AttemptNumber != 1 || at.Failure != "" || at.FeedbackGiven != "" {
		t.Errorf("unexpected attempt record: %+v", at)
	}
	if at.Verification == nil || !at.Verification.Passed {
		t.Error("attempt should record a passing verification")
	}

	for _, want := range []string{"sample.py", "-assert 1 == 2", "+assert 1 == 1"} {
		if !strings.Contains(run.Diff, want) {
			t.Errorf("run diff missing %q:\n%s", want, run.Diff)
		}
	}
	if got := readWorkFile(t, dir, "sample.py"); got != "x = 1\nassert 1 == 1\n" {
		t.Errorf("work tree content = %q", got)
	}

	if sleeps := clock.Sleeps(); len(sleeps) != 0 {
		t.Errorf("unexpected waits: %v", sleeps)
	}
	if len(run.Errors) != 0 {
		t.Errorf("run errors = %v, want none", run.Errors)
	}
	if len(sink.runs) != 1 || len(sink.attempts) != 1 {
		t.Errorf("sink saw %d runs, %d attempts", len(sink.runs), len(sink.attempts))
	}
	if run.FinishedAt.IsZero() {
		t.Error("FinishedAt not stamped")
	}
}

func TestController_BoundedRetryThenExhaustion(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "src/app.py", "def handler():\n    return 1\n")
	writeWorkFile(t, dir, "secrets/token.txt", "TOKEN = abc123\n")

	// Every attempt proposes the same out-of-policy edit.
	gen := &scriptedGenerator{outputs: []string{
		`{"ops": [{"path": "secrets/token.txt", "find": "TOKEN = abc123", "replace": "TOKEN = redacted"}]}`,
	}}
	verifier := &stubVerifier{results: []*verify.Result{{Passed: true}}}
	clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := NewController(&Config{Retry: testRetryPolicy()}, newWorkStore(t, dir), gen, verifier, nil, clock, discardLogger())

	run, err := ctrl.Run(context.Background(), &Request{
		Task:    "redact the token",
		WorkDir: dir,
		Files:   []string{"src/app.py", "secrets/token.txt"},
		Policy:  validate.PolicyConfig{AllowedPathPrefixes: []string{"src/"}},
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("err = %v, want ErrAttemptsExhausted", err)
	}
	if got := run.GetState(); got != StateFailed {
		t.Fatalf("final state = %s, want %s", got, StateFailed)
	}

	if len(run.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(run.Attempts))
	}
	for i, at := range run.Attempts {
		if at.AttemptNumber != i+1 {
			t.Errorf("attempt %d numbered %d", i, at.AttemptNumber)
		}
		if at.Validation == nil || at.Validation.Valid {
			t.Errorf("attempt %d should record a failed validation", i+1)
			continue
		}
		if at.Validation.Violations[0].Rule != validate.RuleAllowlist {
			t.Errorf("attempt %d violation rule = %s", i+1, at.Validation.Violations[0].Rule)
		}
		if at.DiffText == "" {
			t.Errorf("attempt %d missing diff text", i+1)
		}
	}

	// Only the inter-attempt waits, growing per completed attempt.
	wantSleeps := []time.Duration{time.Second, 2 * time.Second}
	if got := clock.Sleeps(); len(got) != len(wantSleeps) || got[0] != wantSleeps[0] || got[1] != wantSleeps[1] {
		t.Errorf("sleeps = %v, want %v", got, wantSleeps)
	}

	if gen.calls != 3 {
		t.Errorf("generator called %d times, want 3", gen.calls)
	}
	if fb := gen.requests[0].Feedback; fb != "" {
		t.Errorf("first attempt carried feedback: %q", fb)
	}
	second := gen.requests[1].Feedback
	for _, want := range []string{feedbackHeader, "[allowlist]", "Attempt 1"} {
		if !strings.Contains(second, want) {
			t.Errorf("second prompt feedback missing %q:\n%s", want, second)
		}
	}
	third := gen.requests[2].Feedback
	if !strings.Contains(third, "Attempt 1") || !strings.Contains(third, "Attempt 2") {
		t.Errorf("third prompt should carry both prior failures:\n%s", third)
	}

	if verifier.calls != 0 {
		t.Errorf("verifier ran %d times for a never-applied change", verifier.calls)
	}
	if !strings.Contains(run.Reason, "attempt budget exhausted") {
		t.Errorf("run reason = %q", run.Reason)
	}
	if got := readWorkFile(t, dir, "secrets/token.txt"); got != "TOKEN = abc123\n" {
		t.Errorf("rejected change reached the work tree: %q", got)
	}
}

func TestController_VerificationFailureRevertsThenSucceeds(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "sample.py", "x = 1\nassert 1 == 2\n")

	gen := &scriptedGenerator{outputs: []string{sampleFixOutput}}
	verifier := &stubVerifier{results: []*verify.Result{
		{Passed: false, ExitCode: 1, Output: "FAILED tests/test_sample.py::test_answer", Command: []string{"pytest"}},
		{Passed: true, ExitCode: 0, Command: []string{"pytest"}},
	}}
	clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := NewController(&Config{Retry: testRetryPolicy()}, newWorkStore(t, dir), gen, verifier, nil, clock, discardLogger())

	run, err := ctrl.Run(context.Background(), sampleRequest(dir))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Succeeded() {
		t.Fatalf("final state = %s, want %s", run.GetState(), StateSucceeded)
	}

	if len(run.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(run.Attempts))
	}
	first, second := run.Attempts[0], run.Attempts[1]
	if first.Verification == nil || first.Verification.Passed {
		t.Error("first attempt should record the failed verification")
	}
	if first.Failure != ErrTestsStillFailing.Error() {
		t.Errorf("first attempt failure = %q", first.Failure)
	}
	if second.Verification == nil || !second.Verification.Passed || second.Failure != "" {
		t.Errorf("unexpected second attempt record: %+v", second)
	}

	// The second attempt's find text only matches because the first
	// apply was rolled back before regenerating.
	if got := readWorkFile(t, dir, "sample.py"); got != "x = 1\nassert 1 == 1\n" {
		t.Errorf("work tree content = %q", got)
	}

	if got := clock.Sleeps(); len(got) != 1 || got[0] != time.Second {
		t.Errorf("sleeps = %v, want [1s]", got)
	}
	fb := gen.requests[1].Feedback
	for _, want := range []string{"applied cleanly, but verification still fails", "FAILED tests/test_sample.py::test_answer"} {
		if !strings.Contains(fb, want) {
			t.Errorf("retry feedback missing %q:\n%s", want, fb)
		}
	}
	if verifier.calls != 2 {
		t.Errorf("verifier called %d times, want 2", verifier.calls)
	}
}

func TestController_GeneratorAbortEndsRun(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "sample.py", "x = 1\nassert 1 == 2\n")

	gen := &scriptedGenerator{outputs: []string{`{"abort": "out_of_scope"}`}}
	verifier := &stubVerifier{results: []*verify.Result{{Passed: true}}}
	clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := NewController(&Config{Retry: testRetryPolicy()}, newWorkStore(t, dir), gen, verifier, nil, clock, discardLogger())

	run, err := ctrl.Run(context.Background(), sampleRequest(dir))

	var abortErr *ops.AbortError
	if !errors.As(err, &abortErr) {
		t.Fatalf("err = %v, want *ops.AbortError", err)
	}
	if abortErr.Reason != ops.AbortOutOfScope {
		t.Errorf("abort reason = %q", abortErr.Reason)
	}
	if got := run.GetState(); got != StateFailed {
		t.Errorf("final state = %s, want %s", got, StateFailed)
	}
	if len(run.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1: an abort never retries", len(run.Attempts))
	}
	if verifier.calls != 0 {
		t.Errorf("verifier called %d times", verifier.calls)
	}
	if sleeps := clock.Sleeps(); len(sleeps) != 0 {
		t.Errorf("unexpected waits: %v", sleeps)
	}
	if !strings.Contains(run.Reason, "out_of_scope") {
		t.Errorf("run reason = %q", run.Reason)
	}
}

func TestController_ParseFailureFeedsBack(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "sample.py", "x = 1\nassert 1 == 2\n")

	gen := &scriptedGenerator{outputs: []string{
		"I am sorry, I cannot help with that request.",
		sampleFixOutput,
	}}
	verifier := &stubVerifier{results: []*verify.Result{{Passed: true}}}
	clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := NewController(&Config{Retry: testRetryPolicy()}, newWorkStore(t, dir), gen, verifier, nil, clock, discardLogger())

	run, err := ctrl.Run(context.Background(), sampleRequest(dir))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !run.Succeeded() {
		t.Fatalf("final state = %s, want %s", run.GetState(), StateSucceeded)
	}

	if len(run.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(run.Attempts))
	}
	if run.Attempts[0].Failure == "" {
		t.Error("first attempt should record the parse failure")
	}
	if len(run.Attempts[0].Operations) != 0 {
		t.Error("first attempt parsed no operations")
	}
	if fb := gen.requests[1].Feedback; !strings.Contains(fb, "could not be parsed") {
		t.Errorf("retry feedback missing parse failure:\n%s", fb)
	}
}

func TestController_ApplyFailureIsTerminal(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "sample.py", "x = 1\nassert 1 == 2\n")

	store := &failingApplyStore{
		FileStore: newWorkStore(t, dir),
		applyErr:  fmt.Errorf("%w: writing sample.py: disk full", apply.ErrApplyFailed),
	}
	gen := &scriptedGenerator{outputs: []string{sampleFixOutput}}
	verifier := &stubVerifier{results: []*verify.Result{{Passed: true}}}
	clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := NewController(&Config{Retry: testRetryPolicy()}, store, gen, verifier, nil, clock, discardLogger())

	run, err := ctrl.Run(context.Background(), sampleRequest(dir))
	if !errors.Is(err, apply.ErrApplyFailed) {
		t.Fatalf("err = %v, want apply.ErrApplyFailed", err)
	}
	if got := run.GetState(); got != StateFailed {
		t.Errorf("final state = %s, want %s", got, StateFailed)
	}
	if len(run.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1: apply failures never retry", len(run.Attempts))
	}
	if verifier.calls != 0 {
		t.Errorf("verifier called %d times", verifier.calls)
	}
	if sleeps := clock.Sleeps(); len(sleeps) != 0 {
		t.Errorf("unexpected waits: %v", sleeps)
	}
	if got := readWorkFile(t, dir, "sample.py"); got != "x = 1\nassert 1 == 2\n" {
		t.Errorf("work tree modified by failed apply: %q", got)
	}
}

func TestController_TransportFailureFatalAfterRecovery(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "sample.py", "x = 1\nassert 1 == 2\n")

	errNet := errors.New("dial tcp 10.0.0.1:443: connection refused")
	gen := &erroringGenerator{err: errNet}
	verifier := &stubVerifier{results: []*verify.Result{{Passed: true}}}
	clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := NewController(&Config{Retry: testRetryPolicy()}, newWorkStore(t, dir), gen, verifier, nil, clock, discardLogger())

	run, err := ctrl.Run(context.Background(), sampleRequest(dir))
	if !errors.Is(err, errNet) {
		t.Fatalf("err = %v, want the transport error", err)
	}
	if got := run.GetState(); got != StateFailed {
		t.Errorf("final state = %s, want %s", got, StateFailed)
	}

	// The transport layer burned its own 1s/2s/4s budget; the run does
	// not spend further attempts on the same outage.
	wantSleeps := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	got := clock.Sleeps()
	if len(got) != len(wantSleeps) {
		t.Fatalf("sleeps = %v, want %v", got, wantSleeps)
	}
	for i := range got {
		if got[i] != wantSleeps[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, got[i], wantSleeps[i])
		}
	}

	if gen.calls != 4 {
		t.Errorf("generator called %d times, want 4", gen.calls)
	}
	if len(run.Attempts) != 1 {
		t.Errorf("attempts = %d, want 1", len(run.Attempts))
	}
	if !strings.Contains(run.Attempts[0].Failure, "connection refused") {
		t.Errorf("attempt failure = %q", run.Attempts[0].Failure)
	}

	if len(run.Errors) != 4 {
		t.Fatalf("run errors = %d, want 4", len(run.Errors))
	}
	for i, rec := range run.Errors {
		if rec.Category != recovery.CategoryNetwork {
			t.Errorf("error %d category = %s, want network", i, rec.Category)
		}
		if rec.Stage != "generate" {
			t.Errorf("error %d stage = %s", i, rec.Stage)
		}
	}
}

func TestController_CancelledDuringVerificationReverts(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "sample.py", "x = 1\nassert 1 == 2\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &scriptedGenerator{outputs: []string{sampleFixOutput}}
	verifier := &cancellingVerifier{cancel: cancel}
	clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	ctrl := NewController(&Config{Retry: testRetryPolicy()}, newWorkStore(t, dir), gen, verifier, nil, clock, discardLogger())

	run, err := ctrl.Run(ctx, sampleRequest(dir))
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("err = %v, want ErrRunTimeout", err)
	}
	if got := run.GetState(); got != StateFailed {
		t.Errorf("final state = %s, want %s", got, StateFailed)
	}

	// The applied-but-unverified change set must not survive the
	// cancelled run.
	if got := readWorkFile(t, dir, "sample.py"); got != "x = 1\nassert 1 == 2\n" {
		t.Errorf("work tree content = %q, want original", got)
	}

	if verifier.calls != 1 {
		t.Errorf("verifier called %d times", verifier.calls)
	}
	if len(run.Errors) != 1 {
		t.Fatalf("run errors = %d, want 1", len(run.Errors))
	}
	if run.Errors[0].Category != recovery.CategoryWorkflow {
		t.Errorf("error category = %s, want workflow", run.Errors[0].Category)
	}
	if run.Reason != ErrRunTimeout.Error() {
		t.Errorf("run reason = %q", run.Reason)
	}
}

// =============================================================================
// INPUT GUARDS
// =============================================================================

func TestController_InputGuards(t *testing.T) {
	dir := t.TempDir()
	writeWorkFile(t, dir, "sample.py", "x = 1\n")

	newCtrl := func() *Controller {
		gen := &scriptedGenerator{outputs: []string{sampleFixOutput}}
		verifier := &stubVerifier{results: []*verify.Result{{Passed: true}}}
		clock := recovery.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		return NewController(&Config{Retry: testRetryPolicy()}, newWorkStore(t, dir), gen, verifier, nil, clock, discardLogger())
	}

	t.Run("nil context", func(t *testing.T) {
		var nilCtx context.Context
		_, err := newCtrl().Run(nilCtx, sampleRequest(dir))
		if !errors.Is(err, ErrNilContext) {
			t.Errorf("err = %v, want ErrNilContext", err)
		}
	})

	t.Run("empty request", func(t *testing.T) {
		_, err := newCtrl().Run(context.Background(), &Request{})
		if !errors.Is(err, ErrEmptyRequest) {
			t.Errorf("err = %v, want ErrEmptyRequest", err)
		}
	})

	t.Run("missing collaborators", func(t *testing.T) {
		ctrl := NewController(nil, nil, nil, nil, nil, nil, discardLogger())
		_, err := ctrl.Run(context.Background(), sampleRequest(dir))
		if err == nil || !strings.Contains(err.Error(), "must not be nil") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
	}{
		{"nil request", nil, true},
		{"missing task", &Request{WorkDir: "/w", Files: []string{"a.py"}}, true},
		{"missing work dir", &Request{Task: "t", Files: []string{"a.py"}}, true},
		{"no files", &Request{Task: "t", WorkDir: "/w"}, true},
		{"complete", &Request{Task: "t", WorkDir: "/w", Files: []string{"a.py"}}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr && !errors.Is(err, ErrEmptyRequest) {
				t.Errorf("err = %v, want ErrEmptyRequest", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("err = %v, want nil", err)
			}
		})
	}
}

func TestNewRun(t *testing.T) {
	req := &Request{
		Task:        "fix it",
		WorkDir:     "/work",
		Files:       []string{"a.py"},
		MaxAttempts: 5,
	}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	run := NewRun(req, now)
	if run.ID == "" {
		t.Error("run ID is empty")
	}
	if run.GetState() != StateGenerating {
		t.Errorf("initial state = %s, want %s", run.GetState(), StateGenerating)
	}
	if run.MaxAttempts != 5 {
		t.Errorf("max attempts = %d, want 5", run.MaxAttempts)
	}
	if !run.StartedAt.Equal(now) {
		t.Errorf("started at = %v, want %v", run.StartedAt, now)
	}
	if run.Succeeded() {
		t.Error("new run should not report success")
	}

	other := NewRun(req, now)
	if other.ID == run.ID {
		t.Error("run IDs should be unique")
	}
}
