// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synth computes before/after file content from resolved
// operations and derives unified diffs by re-diffing the pair.
//
// The diff is never taken from generator output. Positions come from
// anchor resolution against actual current content, and the diff text
// is recomputed with an LCS line diff, so line-number drift and
// invented context cannot reach the applier. Every synthesized diff
// is applied back to the original in-memory before it leaves this
// package; a mismatch fails the synthesis rather than producing an
// untrustworthy diff.
package synth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/patchsmith/services/patch_engine/anchor"
	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
)

var (
	// ErrNoEffectiveChange reports that every operation left its file
	// byte-identical.
	ErrNoEffectiveChange = errors.New("operations produce no effective change")

	// ErrOverlappingOps reports two operations that resolved to
	// overlapping line ranges in the same file.
	ErrOverlappingOps = errors.New("operations overlap")
)

// FileEdit is the computed outcome for one touched file.
type FileEdit struct {
	Path     string
	Original string
	New      string
	Diff     string
}

// Result is the synthesized output for a whole patch set.
type Result struct {
	// Edits holds one entry per file with an effective change, in
	// patch-set order.
	Edits []FileEdit

	// Diff is the concatenated unified diff across all edits.
	Diff string

	// Skipped lists files whose operations resolved but produced
	// byte-identical content.
	Skipped []string
}

// Synthesize resolves every operation of ps against the provided
// original file contents, applies replacements per file highest line
// first, and derives a unified diff with three lines of context per
// file.
//
// Files whose operations produce identical content are recorded in
// Skipped; if no file changes at all the error is
// ErrNoEffectiveChange. Resolution failures and overlapping ranges
// abort the whole synthesis.
func Synthesize(files map[string]string, ps *ops.PatchSet) (*Result, error) {
	if ps == nil || len(ps.Files) == 0 {
		return nil, fmt.Errorf("empty patch set")
	}

	res := &Result{}
	var parts []string
	for _, f := range ps.Files {
		original, ok := files[f.Path]
		if !ok {
			return nil, fmt.Errorf("no content provided for %s", f.Path)
		}

		newContent, err := applyFileOps(original, f)
		if err != nil {
			return nil, err
		}
		if newContent == original {
			res.Skipped = append(res.Skipped, f.Path)
			continue
		}

		diff := Unified(f.Path, original, newContent)
		applied, err := ApplyUnified(original, diff)
		if err != nil {
			return nil, fmt.Errorf("synthesized diff for %s does not apply: %w", f.Path, err)
		}
		if applied != newContent {
			return nil, fmt.Errorf("synthesized diff for %s does not round-trip", f.Path)
		}

		res.Edits = append(res.Edits, FileEdit{
			Path:     f.Path,
			Original: original,
			New:      newContent,
			Diff:     diff,
		})
		parts = append(parts, diff)
	}

	if len(res.Edits) == 0 {
		return nil, ErrNoEffectiveChange
	}
	res.Diff = strings.Join(parts, "")
	return res, nil
}

// applyFileOps resolves all of one file's operations against its
// original content, then splices replacements highest line first so
// no edit shifts the coordinates of another.
func applyFileOps(original string, f ops.FileOps) (string, error) {
	type resolvedOp struct {
		rng  anchor.Range
		repl []string
	}

	rs := make([]resolvedOp, 0, len(f.Ops))
	for _, op := range f.Ops {
		rng, err := anchor.Resolve(original, op)
		if err != nil {
			return "", err
		}
		rs = append(rs, resolvedOp{rng: rng, repl: splitLines(op.Replace)})
	}

	sort.Slice(rs, func(i, j int) bool { return rs[i].rng.Start > rs[j].rng.Start })
	for i := 1; i < len(rs); i++ {
		lo, hi := rs[i].rng, rs[i-1].rng
		if lo.End > hi.Start {
			return "", fmt.Errorf("%w in %s: lines %d-%d and %d-%d",
				ErrOverlappingOps, f.Path, lo.Start+1, lo.End, hi.Start+1, hi.End)
		}
	}

	lines := splitLines(original)
	for _, r := range rs {
		lines = splice(lines, r.rng, r.repl)
	}
	return joinLines(lines, strings.HasSuffix(original, "\n")), nil
}

func splice(lines []string, rng anchor.Range, repl []string) []string {
	out := make([]string, 0, len(lines)-rng.Lines()+len(repl))
	out = append(out, lines[:rng.Start]...)
	out = append(out, repl...)
	out = append(out, lines[rng.End:]...)
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func joinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if trailingNewline {
		s += "\n"
	}
	return s
}
