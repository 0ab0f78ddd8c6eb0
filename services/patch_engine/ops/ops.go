// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ops defines the edit-proposal model: position-independent
// find/replace operations extracted from raw generator output.
//
// An operation names a file, the exact text to locate, and its
// replacement. It carries no line numbers. Coordinates are resolved
// against the current file content downstream, so stale or invented
// positions in generator output can never corrupt an edit.
package ops

import "fmt"

// Operation is one proposed edit to one file.
type Operation struct {
	// Path is the repository-relative file the edit targets.
	Path string `json:"path"`

	// Find is the exact text to locate. Matching is line-granular:
	// Find must cover whole lines of the target file, and may span
	// several consecutive lines.
	Find string `json:"find"`

	// Replace is the text substituted for the matched lines. Empty
	// deletes them.
	Replace string `json:"replace"`

	// Occurrence selects which match to edit (0-based) when Find
	// appears more than once. Nil requires the match to be unique.
	Occurrence *int `json:"occurrence,omitempty"`
}

// FileOps groups the operations that target a single file.
type FileOps struct {
	Path string
	Ops  []Operation
}

// PatchSet is one atomic change: all operations of one attempt,
// grouped per file in the order files first appear. Per-file
// operations are applied highest line first during synthesis so
// earlier edits never shift the coordinates of later ones.
type PatchSet struct {
	Files []FileOps
}

// NewPatchSet groups operations by target file. It rejects empty
// input and operations missing a path or find text; everything else
// is policy and belongs to the validator.
func NewPatchSet(operations []Operation) (*PatchSet, error) {
	if len(operations) == 0 {
		return nil, fmt.Errorf("patch set requires at least one operation")
	}

	ps := &PatchSet{}
	index := make(map[string]int)
	for i, op := range operations {
		if op.Path == "" {
			return nil, fmt.Errorf("operation %d: path is empty", i)
		}
		if op.Find == "" {
			return nil, fmt.Errorf("operation %d (%s): find text is empty", i, op.Path)
		}

		pos, ok := index[op.Path]
		if !ok {
			pos = len(ps.Files)
			index[op.Path] = pos
			ps.Files = append(ps.Files, FileOps{Path: op.Path})
		}
		ps.Files[pos].Ops = append(ps.Files[pos].Ops, op)
	}
	return ps, nil
}

// Paths returns the touched file paths in first-seen order.
func (ps *PatchSet) Paths() []string {
	paths := make([]string, 0, len(ps.Files))
	for _, f := range ps.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// TotalOps returns the operation count across all files.
func (ps *PatchSet) TotalOps() int {
	n := 0
	for _, f := range ps.Files {
		n += len(f.Ops)
	}
	return n
}
