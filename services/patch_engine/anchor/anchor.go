// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package anchor locates the lines an operation targets inside
// current file content.
//
// Matching is line-granular: an operation's find text must cover
// whole lines exactly. Unified diffs are line-oriented, and line
// granularity keeps synthesis and validation unambiguous. The policy
// on repeated matches is strict: more than one match without an
// occurrence index is an error, never a replace-all.
package anchor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
)

// Resolution failure modes. Each is wrapped in a *ResolveError
// carrying the path and match detail for attempt feedback.
var (
	ErrAnchorNotFound  = errors.New("anchor not found")
	ErrAnchorAmbiguous = errors.New("anchor is ambiguous")
	ErrIndexOutOfRange = errors.New("occurrence index out of range")
)

// Range is a half-open line interval [Start, End) in a file's
// current content, 0-based.
type Range struct {
	Start int
	End   int
}

// Lines returns the number of lines the range covers.
func (r Range) Lines() int { return r.End - r.Start }

// ResolveError describes a failed resolution with enough detail for
// the next generation attempt to correct itself.
type ResolveError struct {
	Path    string
	Anchor  string
	Matches int
	Index   int // requested occurrence, -1 when none was given
	Err     error
}

func (e *ResolveError) Error() string {
	switch {
	case errors.Is(e.Err, ErrAnchorAmbiguous):
		return fmt.Sprintf("anchor ambiguous in %s: %d matches for %q, occurrence index required",
			e.Path, e.Matches, e.Anchor)
	case errors.Is(e.Err, ErrIndexOutOfRange):
		return fmt.Sprintf("occurrence %d out of range in %s: %d matches for %q",
			e.Index, e.Path, e.Matches, e.Anchor)
	default:
		return fmt.Sprintf("anchor not found in %s: %q (find text must cover whole lines exactly)",
			e.Path, e.Anchor)
	}
}

func (e *ResolveError) Unwrap() error { return e.Err }

// Resolve locates the whole-line match of op.Find inside content and
// returns its line range.
//
// Zero matches fail with ErrAnchorNotFound. More than one match
// without an occurrence index fails with ErrAnchorAmbiguous. An index
// outside the match count fails with ErrIndexOutOfRange.
func Resolve(content string, op ops.Operation) (Range, error) {
	target := splitLines(op.Find)
	if len(target) == 0 {
		return Range{}, fmt.Errorf("operation for %s has empty find text", op.Path)
	}

	matches := findMatches(splitLines(content), target)

	index := -1
	if op.Occurrence != nil {
		index = *op.Occurrence
	}

	switch {
	case len(matches) == 0:
		return Range{}, &ResolveError{
			Path:   op.Path,
			Anchor: preview(op.Find),
			Index:  index,
			Err:    ErrAnchorNotFound,
		}
	case index < 0 && len(matches) > 1:
		return Range{}, &ResolveError{
			Path:    op.Path,
			Anchor:  preview(op.Find),
			Matches: len(matches),
			Index:   index,
			Err:     ErrAnchorAmbiguous,
		}
	case index >= len(matches):
		return Range{}, &ResolveError{
			Path:    op.Path,
			Anchor:  preview(op.Find),
			Matches: len(matches),
			Index:   index,
			Err:     ErrIndexOutOfRange,
		}
	}

	start := matches[0]
	if index >= 0 {
		start = matches[index]
	}
	return Range{Start: start, End: start + len(target)}, nil
}

// findMatches returns the start line of every position where target
// appears as consecutive whole lines. Overlapping matches count.
func findMatches(lines, target []string) []int {
	var starts []int
	for i := 0; i+len(target) <= len(lines); i++ {
		if matchAt(lines, target, i) {
			starts = append(starts, i)
		}
	}
	return starts
}

func matchAt(lines, target []string, at int) bool {
	for j, want := range target {
		if lines[at+j] != want {
			return false
		}
	}
	return true
}

// splitLines splits on newline without producing a phantom empty
// line for trailing-newline text. "a\nb\n" and "a\nb" both yield
// ["a", "b"], so a find text is matched the same way whether or not
// the generator included the final newline.
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

const previewLen = 80

// preview returns the first line of find text, truncated for error
// messages.
func preview(find string) string {
	line, _, _ := strings.Cut(find, "\n")
	if len(line) > previewLen {
		return line[:previewLen] + "..."
	}
	return line
}
