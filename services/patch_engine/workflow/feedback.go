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
	"fmt"
	"strings"

	"github.com/AleutianAI/patchsmith/services/patch_engine/validate"
	"github.com/AleutianAI/patchsmith/services/patch_engine/verify"
)

const feedbackHeader = "PREVIOUS VALIDATION FEEDBACK"

const feedbackClosing = "Correct every problem above in your next operation set. " +
	"Match find text exactly against the current file content shown."

// Builder accumulates cross-attempt feedback. Each failed attempt
// appends a section, and the next generation prompt carries the whole
// block, so the generator can correct every known problem at once
// instead of rediscovering them one attempt at a time.
//
// Thread Safety: NOT safe for concurrent use. One builder belongs to
// one run.
type Builder struct {
	maxOutputBytes int
	sections       []string
}

// NewBuilder creates a feedback builder. maxOutputBytes caps embedded
// verification output; <= 0 embeds it whole.
func NewBuilder(maxOutputBytes int) *Builder {
	return &Builder{maxOutputBytes: maxOutputBytes}
}

// Empty reports whether any feedback has accumulated.
func (b *Builder) Empty() bool {
	return len(b.sections) == 0
}

// AddFailure records a free-form attempt failure. The kind continues
// the sentence "Attempt N ...".
func (b *Builder) AddFailure(attempt int, kind, detail string) {
	b.sections = append(b.sections, fmt.Sprintf("Attempt %d %s:\n%s", attempt, kind, detail))
}

// AddViolations records a failed validation with every violation, so
// one retry can address all of them.
func (b *Builder) AddViolations(attempt int, violations []validate.Violation) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Attempt %d failed validation:", attempt)
	for _, v := range violations {
		fmt.Fprintf(&sb, "\n- [%s] %s", v.Rule, v.Message)
	}
	b.sections = append(b.sections, sb.String())
}

// AddVerification records a change set that applied cleanly but did
// not make the check command pass. Output is tail-truncated to the
// configured budget; the tail is where test runners print failures.
func (b *Builder) AddVerification(attempt int, output string) {
	bounded, truncated := verify.BoundOutput(output, b.maxOutputBytes)
	section := fmt.Sprintf("Attempt %d applied cleanly, but verification still fails. Output:\n%s",
		attempt, bounded)
	if truncated {
		section += "\n[output truncated]"
	}
	b.sections = append(b.sections, section)
}

// String renders the feedback block for the next prompt, or "" when
// nothing has accumulated.
func (b *Builder) String() string {
	if b.Empty() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(feedbackHeader)
	sb.WriteString("\n\n")
	sb.WriteString(strings.Join(b.sections, "\n\n"))
	sb.WriteString("\n\n")
	sb.WriteString(feedbackClosing)
	return sb.String()
}
