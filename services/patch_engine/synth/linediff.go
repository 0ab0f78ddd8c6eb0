// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type deltaKind int

const (
	deltaEqual deltaKind = iota
	deltaDelete
	deltaInsert
)

// lineDelta is one line of the diff stream. Text keeps its trailing
// newline; a missing one marks the final line of a file that does not
// end in a newline.
type lineDelta struct {
	kind deltaKind
	text string
}

// lineDiff computes the LCS line diff between two contents. Lines are
// mapped to runes first so the diff runs line-granular, then mapped
// back.
func lineDiff(original, modified string) []lineDelta {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(original, modified)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var out []lineDelta
	for _, d := range diffs {
		kind := deltaEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = deltaDelete
		case diffmatchpatch.DiffInsert:
			kind = deltaInsert
		}
		for _, line := range splitAfterLines(d.Text) {
			out = append(out, lineDelta{kind: kind, text: line})
		}
	}
	return out
}

// splitAfterLines splits text into lines that keep their newline.
// The final element has none when the text does not end in a newline.
func splitAfterLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// hunk is one @@ region: a run of deltas plus the recomputed 0-based
// start positions and line counts on each side.
type hunk struct {
	aStart, aCount int
	bStart, bCount int
	deltas         []lineDelta
}

// buildHunks groups the change regions of a delta stream into hunks
// with up to context equal lines on each side. Change regions whose
// equal gap is at most 2*context merge into one hunk.
func buildHunks(deltas []lineDelta, context int) []hunk {
	aPos := make([]int, len(deltas)+1)
	bPos := make([]int, len(deltas)+1)
	a, b := 0, 0
	for i, d := range deltas {
		aPos[i], bPos[i] = a, b
		switch d.kind {
		case deltaEqual:
			a++
			b++
		case deltaDelete:
			a++
		case deltaInsert:
			b++
		}
	}
	aPos[len(deltas)], bPos[len(deltas)] = a, b

	var changes []int
	for i, d := range deltas {
		if d.kind != deltaEqual {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var groups [][2]int
	gs, ge := changes[0], changes[0]
	for _, c := range changes[1:] {
		if c-ge-1 > 2*context {
			groups = append(groups, [2]int{gs, ge})
			gs = c
		}
		ge = c
	}
	groups = append(groups, [2]int{gs, ge})

	hunks := make([]hunk, 0, len(groups))
	for _, g := range groups {
		start := g[0] - context
		if start < 0 {
			start = 0
		}
		end := g[1] + context
		if end > len(deltas)-1 {
			end = len(deltas) - 1
		}
		hunks = append(hunks, hunk{
			aStart: aPos[start],
			aCount: aPos[end+1] - aPos[start],
			bStart: bPos[start],
			bCount: bPos[end+1] - bPos[start],
			deltas: deltas[start : end+1],
		})
	}
	return hunks
}
