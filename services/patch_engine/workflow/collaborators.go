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
	"log/slog"

	"github.com/AleutianAI/patchsmith/services/patch_engine/apply"
	"github.com/AleutianAI/patchsmith/services/patch_engine/recovery"
	"github.com/AleutianAI/patchsmith/services/patch_engine/synth"
	"github.com/AleutianAI/patchsmith/services/patch_engine/verify"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// GenerateRequest is what the generator sees for one attempt.
type GenerateRequest struct {
	// Task describes the failing behavior to fix.
	Task string

	// Files maps repository-relative paths to their current content.
	Files map[string]string

	// Feedback carries the accumulated failure detail from prior
	// attempts. Empty on the first attempt.
	Feedback string

	// Attempt counts from 1.
	Attempt int
}

// Generator produces raw text expected to contain an operation list.
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (string, error)
}

// Verifier runs the project's check command in the run's work tree.
type Verifier interface {
	Run(ctx context.Context) (*verify.Result, error)
}

// FileStore is the working-tree surface the controller needs: read
// current content, apply synthesized edits, restore snapshots. It must
// operate on the same directory the request's WorkDir names.
type FileStore interface {
	ReadFiles(relPaths []string) (map[string]string, error)
	Apply(ctx context.Context, edits []synth.FileEdit) (*apply.ApplyResult, error)
	Restore(ctx context.Context, snap *apply.Snapshot) error
}

// Sink receives every attempt and error record as structured data, in
// the order the controller produces them. Implementations must not
// block; the controller calls them inline.
type Sink interface {
	RecordAttempt(ctx context.Context, runID string, rec AttemptRecord)
	RecordError(ctx context.Context, runID string, rec recovery.ErrorRecord)
	RecordRun(ctx context.Context, run *WorkflowRun)
}

// nopSink drops all records.
type nopSink struct{}

func (nopSink) RecordAttempt(context.Context, string, AttemptRecord)      {}
func (nopSink) RecordError(context.Context, string, recovery.ErrorRecord) {}
func (nopSink) RecordRun(context.Context, *WorkflowRun)                   {}

// =============================================================================
// TREE STORE
// =============================================================================

// treeStore backs FileStore with a real work tree and applier.
type treeStore struct {
	tree    *apply.WorkTree
	applier *apply.Applier
}

// NewTreeStore opens the working tree at workDir and returns the file
// store a controller needs for it.
func NewTreeStore(workDir string, logger *slog.Logger) (FileStore, error) {
	tree, err := apply.NewWorkTree(workDir)
	if err != nil {
		return nil, err
	}
	return &treeStore{tree: tree, applier: apply.NewApplier(tree, logger)}, nil
}

func (s *treeStore) ReadFiles(relPaths []string) (map[string]string, error) {
	return s.tree.ReadFiles(relPaths)
}

func (s *treeStore) Apply(ctx context.Context, edits []synth.FileEdit) (*apply.ApplyResult, error) {
	return s.applier.Apply(ctx, edits)
}

func (s *treeStore) Restore(ctx context.Context, snap *apply.Snapshot) error {
	return s.applier.Restore(ctx, snap)
}
