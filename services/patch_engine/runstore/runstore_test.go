// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/patchsmith/services/patch_engine/recovery"
	"github.com/AleutianAI/patchsmith/services/patch_engine/validate"
	"github.com/AleutianAI/patchsmith/services/patch_engine/workflow"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func sampleRun(id string, startedAt time.Time) *workflow.WorkflowRun {
	return &workflow.WorkflowRun{
		ID:          id,
		Task:        "fix the failing assertion",
		WorkDir:     "/tmp/worktree",
		Policy:      validate.PolicyConfig{AllowedPathPrefixes: []string{"src/"}},
		MaxAttempts: 3,
		State:       workflow.StateSucceeded,
		Diff:        "--- a/src/calc.py\n+++ b/src/calc.py\n",
		Attempts: []workflow.AttemptRecord{
			{AttemptNumber: 1, Timestamp: startedAt.Add(30 * time.Second)},
		},
		Errors: []recovery.ErrorRecord{
			{Category: recovery.CategoryNetwork, Severity: recovery.SeverityMedium, Message: "connection reset", Recovered: true},
		},
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Minute),
	}
}

func TestOpen(t *testing.T) {
	t.Run("persistent store requires a path", func(t *testing.T) {
		_, err := Open(Config{})
		require.Error(t, err)
	})

	t.Run("opens on disk and survives reopen", func(t *testing.T) {
		dir := t.TempDir()
		cfg := DefaultConfig(dir)
		cfg.GCInterval = 0 // no background GC in tests

		s, err := Open(cfg)
		require.NoError(t, err)

		run := sampleRun("run-1", time.Now().UTC())
		require.NoError(t, s.Put(context.Background(), run))
		require.NoError(t, s.Close())

		s, err = Open(cfg)
		require.NoError(t, err)
		defer s.Close()

		got, err := s.Get(context.Background(), "run-1")
		require.NoError(t, err)
		assert.Equal(t, run.Task, got.Task)
	})
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t.Run("round-trips a full run record", func(t *testing.T) {
		run := sampleRun("run-rt", time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		require.NoError(t, s.Put(ctx, run))

		got, err := s.Get(ctx, "run-rt")
		require.NoError(t, err)

		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, run.Task, got.Task)
		assert.Equal(t, run.State, got.State)
		assert.Equal(t, run.Diff, got.Diff)
		require.Len(t, got.Attempts, 1)
		assert.Equal(t, 1, got.Attempts[0].AttemptNumber)
		require.Len(t, got.Errors, 1)
		assert.Equal(t, recovery.CategoryNetwork, got.Errors[0].Category)
		assert.True(t, got.Errors[0].Recovered)
		assert.True(t, run.StartedAt.Equal(got.StartedAt))
	})

	t.Run("missing run returns ErrRunNotFound", func(t *testing.T) {
		_, err := s.Get(ctx, "no-such-run")
		require.ErrorIs(t, err, ErrRunNotFound)
	})

	t.Run("nil run is rejected", func(t *testing.T) {
		require.ErrorIs(t, s.Put(ctx, nil), ErrNilRun)
	})

	t.Run("put replaces a previous version", func(t *testing.T) {
		run := sampleRun("run-upd", time.Now().UTC())
		run.State = workflow.StateFailed
		run.Reason = "attempt budget exhausted"
		require.NoError(t, s.Put(ctx, run))

		run.State = workflow.StateSucceeded
		run.Reason = ""
		require.NoError(t, s.Put(ctx, run))

		got, err := s.Get(ctx, "run-upd")
		require.NoError(t, err)
		assert.Equal(t, workflow.StateSucceeded, got.State)
		assert.Empty(t, got.Reason)
	})
}

func TestList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.Put(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	t.Run("lists newest first", func(t *testing.T) {
		runs, err := s.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, "run-c", runs[0].ID)
		assert.Equal(t, "run-b", runs[1].ID)
		assert.Equal(t, "run-a", runs[2].ID)
	})

	t.Run("honors the limit", func(t *testing.T) {
		runs, err := s.List(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-c", runs[0].ID)
	})

	t.Run("count matches stored runs", func(t *testing.T) {
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-del", time.Now().UTC())
	require.NoError(t, s.Put(ctx, run))
	require.NoError(t, s.Delete(ctx, "run-del"))

	_, err := s.Get(ctx, "run-del")
	require.ErrorIs(t, err, ErrRunNotFound)

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	t.Run("deleting a missing run is a no-op", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "run-del"))
	})
}

func TestCancelledContext(t *testing.T) {
	s := openTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, s.Put(ctx, sampleRun("run-x", time.Now().UTC())))
	_, err := s.Get(ctx, "run-x")
	require.Error(t, err)
	_, err = s.List(ctx, 0)
	require.Error(t, err)
}
