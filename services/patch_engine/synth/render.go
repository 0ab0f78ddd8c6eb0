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
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ContextLines is the number of unchanged lines kept on each side of
// a change in synthesized diffs.
const ContextLines = 3

const noNewlineMarker = `\ No newline at end of file`

// Unified renders the unified diff between original and modified
// content of path. Headers use a/ and b/ prefixes; hunk line numbers
// are computed from the actual content. Returns "" when the contents
// are identical.
func Unified(path, original, modified string) string {
	hunks := buildHunks(lineDiff(original, modified), ContextLines)
	if len(hunks) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n", path)
	fmt.Fprintf(&sb, "+++ b/%s\n", path)
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%s +%s @@\n", formatRange(h.aStart, h.aCount), formatRange(h.bStart, h.bCount))
		for _, d := range h.deltas {
			switch d.kind {
			case deltaEqual:
				sb.WriteByte(' ')
			case deltaDelete:
				sb.WriteByte('-')
			case deltaInsert:
				sb.WriteByte('+')
			}
			sb.WriteString(d.text)
			if !strings.HasSuffix(d.text, "\n") {
				sb.WriteByte('\n')
				sb.WriteString(noNewlineMarker)
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

// formatRange renders one side of a hunk header from a 0-based start
// and a count. The count is omitted when it is exactly one; a zero
// count reports the line before the change.
func formatRange(start, count int) string {
	beginning := start + 1
	if count == 1 {
		return strconv.Itoa(beginning)
	}
	if count == 0 {
		beginning--
	}
	return fmt.Sprintf("%d,%d", beginning, count)
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ApplyUnified applies a single-file diff produced by Unified back to
// the original content it was computed from. Context and deleted
// lines are checked against the original; any mismatch is an error.
//
// The applier never uses this at apply time (computed new content is
// written directly). It exists so every synthesized diff is proven to
// reproduce that content before leaving the synthesizer.
func ApplyUnified(original, diffText string) (string, error) {
	origLines := splitAfterLines(original)
	lines := strings.Split(diffText, "\n")

	var out strings.Builder
	pos := 0
	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case line == "":
			i++
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
			i++
		case strings.HasPrefix(line, "@@"):
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return "", fmt.Errorf("malformed hunk header: %q", line)
			}
			aStart, _ := strconv.Atoi(m[1])
			aCount := 1
			if m[2] != "" {
				aCount, _ = strconv.Atoi(m[2])
			}
			hunkStart := aStart - 1
			if aCount == 0 {
				hunkStart = aStart
			}
			if hunkStart < pos || hunkStart > len(origLines) {
				return "", fmt.Errorf("hunk start %d out of order", aStart)
			}
			for pos < hunkStart {
				out.WriteString(origLines[pos])
				pos++
			}
			i++
			var err error
			i, pos, err = applyHunkBody(lines, i, origLines, pos, &out)
			if err != nil {
				return "", err
			}
		default:
			return "", fmt.Errorf("unexpected line in diff: %q", line)
		}
	}

	for pos < len(origLines) {
		out.WriteString(origLines[pos])
		pos++
	}
	return out.String(), nil
}

func applyHunkBody(lines []string, i int, origLines []string, pos int, out *strings.Builder) (int, int, error) {
	for i < len(lines) {
		b := lines[i]
		if len(b) == 0 || (b[0] != ' ' && b[0] != '-' && b[0] != '+') {
			return i, pos, nil
		}
		content := b[1:]
		hasNewline := true
		if i+1 < len(lines) && strings.HasPrefix(lines[i+1], `\`) {
			hasNewline = false
		}

		switch b[0] {
		case ' ', '-':
			if pos >= len(origLines) {
				return i, pos, fmt.Errorf("diff references line %d beyond original", pos+1)
			}
			if strings.TrimSuffix(origLines[pos], "\n") != content {
				return i, pos, fmt.Errorf("diff does not match original at line %d: %q", pos+1, content)
			}
			if b[0] == ' ' {
				out.WriteString(content)
				if hasNewline {
					out.WriteByte('\n')
				}
			}
			pos++
		case '+':
			out.WriteString(content)
			if hasNewline {
				out.WriteByte('\n')
			}
		}

		i++
		if !hasNewline {
			i++
		}
	}
	return i, pos, nil
}
