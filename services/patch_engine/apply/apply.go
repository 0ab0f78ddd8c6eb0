// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apply writes synthesized file contents to the work tree as
// a single all-or-nothing unit.
//
// The applier takes the per-file new content produced by synthesis,
// so the already-validated change set is written without a second
// diff parse. Before the first write, a Snapshot captures the prior
// state of every touched file; if any write fails, the touched files
// are restored from the snapshot and the whole set is reported as
// failed. The snapshot is retained in the result so a change set
// that later fails verification can be reverted the same way.
package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/patchsmith/services/patch_engine/synth"
)

// ErrApplyFailed indicates the change set could not be written as a
// unit. The work tree has been rolled back unless the result reports
// files left modified. A failed apply is an environment problem, not
// a generation problem; callers must not retry it.
var ErrApplyFailed = errors.New("apply failed")

type writeFunc func(path string, data []byte, mode os.FileMode) error

// ApplyResult reports the outcome of writing one change set.
type ApplyResult struct {
	// FilesWritten lists the repository-relative paths written during
	// the attempt, in apply order.
	FilesWritten []string

	// Snapshot holds the pre-apply state of every touched file.
	Snapshot *Snapshot

	// RolledBack is true if a failed apply was fully reverted.
	RolledBack bool

	// FilesLeftModified lists paths whose rollback failed. Expected
	// empty; non-empty means the work tree needs manual attention.
	FilesLeftModified []string
}

// Applier writes synthesized edits into a work tree.
//
// # Thread Safety
//
// Applier is safe for concurrent use, but concurrent Apply calls
// that touch the same files race on content. The workflow controller
// runs attempts sequentially.
type Applier struct {
	tree   *WorkTree
	logger *slog.Logger

	// write is swapped in tests to simulate write failures.
	write writeFunc
}

// NewApplier creates an applier for the given work tree.
func NewApplier(tree *WorkTree, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		tree:   tree,
		logger: logger.With("component", "apply"),
		write:  os.WriteFile,
	}
}

// Apply writes every edit in the set, or none of them.
//
// # Description
//
// Takes a snapshot of all touched files, then writes each edit in
// order. Paths are re-checked against the work tree root before
// writing. On the first failure, every file written so far plus the
// failing file is restored from the snapshot before the error is
// returned.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - edits: Synthesized edits, one per file.
//
// # Outputs
//
//   - *ApplyResult: Audit of what was written and rolled back.
//   - error: Wraps ErrApplyFailed if the set could not be written.
func (a *Applier) Apply(ctx context.Context, edits []synth.FileEdit) (*ApplyResult, error) {
	if len(edits) == 0 {
		return nil, errors.New("no edits to apply")
	}

	paths := make([]string, len(edits))
	for i, e := range edits {
		paths[i] = e.Path
	}

	snap, err := Take(ctx, a.tree, paths)
	if err != nil {
		return nil, fmt.Errorf("taking snapshot: %w", err)
	}

	result := &ApplyResult{Snapshot: snap}

	for _, edit := range edits {
		select {
		case <-ctx.Done():
			a.rollback(result, "")
			return result, fmt.Errorf("%w: %v", ErrApplyFailed, ctx.Err())
		default:
		}

		full, err := a.tree.Resolve(edit.Path)
		if err != nil {
			a.rollback(result, "")
			return result, fmt.Errorf("%w: %v", ErrApplyFailed, err)
		}

		if err := a.write(full, []byte(edit.New), snap.modeFor(edit.Path)); err != nil {
			a.logger.Error("write failed, rolling back",
				"path", edit.Path,
				"error", err.Error())
			a.rollback(result, edit.Path)
			return result, fmt.Errorf("%w: writing %s: %v", ErrApplyFailed, edit.Path, err)
		}

		result.FilesWritten = append(result.FilesWritten, edit.Path)
	}

	a.logger.Info("change set applied", "files", len(result.FilesWritten))
	return result, nil
}

// rollback restores the files touched by a failed attempt. The
// failing path is included because a failed write can leave partial
// content behind.
func (a *Applier) rollback(result *ApplyResult, failedPath string) {
	touched := make(map[string]bool, len(result.FilesWritten)+1)
	for _, p := range result.FilesWritten {
		touched[p] = true
	}
	if failedPath != "" {
		touched[failedPath] = true
	}

	failed := result.Snapshot.restore(a.write, touched)
	result.FilesLeftModified = failed
	result.RolledBack = len(failed) == 0

	if len(failed) > 0 {
		a.logger.Error("rollback incomplete", "files", failed)
	}
}

// Restore reverts an applied change set from its snapshot. Used after
// verification fails so the tree is left as it was found.
func (a *Applier) Restore(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if failed := snap.restore(a.write, nil); len(failed) > 0 {
		return fmt.Errorf("restoring %d of %d files failed: %v",
			len(failed), len(snap.states), failed)
	}

	a.logger.Info("change set reverted", "files", len(snap.states))
	return nil
}
