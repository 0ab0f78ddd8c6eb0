// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate checks synthesized change sets against policy
// before anything touches disk.
//
// Validation is pure: no side effects, and the same input always
// yields the same result. Every failing check is recorded, not just
// the first, so a rejected attempt hands the generator the complete
// list of problems to correct.
package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/patchsmith/pkg/validation"
	"github.com/AleutianAI/patchsmith/services/patch_engine/synth"
)

// Default policy caps.
const (
	DefaultMaxFilesChanged      = 5
	DefaultMaxTotalChangedLines = 200
)

// Rule names attached to violations.
const (
	RuleDiffFormat    = "diff_format"
	RuleAllowlist     = "allowlist"
	RuleMaxFiles      = "max_files"
	RuleMaxLines      = "max_lines"
	RulePathTraversal = "path_traversal"
	RuleSyntax        = "syntax"
	RuleNoChange      = "no_change"
)

// PolicyConfig bounds what one change set may touch. It is supplied
// per invocation by the caller, never global.
type PolicyConfig struct {
	// AllowedPathPrefixes lists the path prefixes a change may
	// touch. Empty permits nothing.
	AllowedPathPrefixes []string `json:"allowed_path_prefixes"`

	MaxFilesChanged      int `json:"max_files_changed"`
	MaxTotalChangedLines int `json:"max_total_changed_lines"`

	// DisableSyntaxCheck turns off the post-edit parse gate.
	DisableSyntaxCheck bool `json:"disable_syntax_check,omitempty"`
}

// Normalize fills unset caps with the defaults.
func (p PolicyConfig) Normalize() PolicyConfig {
	if p.MaxFilesChanged <= 0 {
		p.MaxFilesChanged = DefaultMaxFilesChanged
	}
	if p.MaxTotalChangedLines <= 0 {
		p.MaxTotalChangedLines = DefaultMaxTotalChangedLines
	}
	return p
}

// Violation is one failed check, naming the rule and the offending
// path or metric.
type Violation struct {
	Rule    string `json:"rule"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Limit   int    `json:"limit,omitempty"`
	Actual  int    `json:"actual,omitempty"`
}

// Result carries every violation found in one validation pass.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// Messages flattens the violations for feedback assembly.
func (r *Result) Messages() []string {
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, fmt.Sprintf("[%s] %s", v.Rule, v.Message))
	}
	return msgs
}

// Validator runs the policy pipeline. Individual Validate calls are
// safe for concurrent use; the validator keeps no state between
// calls.
type Validator struct {
	policy PolicyConfig
}

// New creates a validator for one policy. Caps left at zero take the
// defaults.
func New(policy PolicyConfig) *Validator {
	return &Validator{policy: policy.Normalize()}
}

// Validate checks a synthesized change set:
//
//  1. Well-formedness: the diff text parses as a unified diff
//  2. Allowlist: every touched path matches an allowed prefix
//  3. Traversal: no path can resolve outside the working tree
//  4. Size: touched files and total changed lines within caps
//  5. Syntax: post-edit content parses for supported languages
//
// Violations land in the result. The error return is reserved for
// pipeline failures such as context cancellation.
func (v *Validator) Validate(ctx context.Context, res *synth.Result) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out := &Result{}
	if res == nil || strings.TrimSpace(res.Diff) == "" {
		out.Violations = append(out.Violations, Violation{
			Rule:    RuleNoChange,
			Message: "change set is empty",
		})
		return out, nil
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(res.Diff)).ReadAllFiles()
	if err != nil {
		out.Violations = append(out.Violations, Violation{
			Rule:    RuleDiffFormat,
			Message: fmt.Sprintf("invalid unified diff: %v", err),
		})
		return out, nil
	}
	if len(fileDiffs) == 0 {
		out.Violations = append(out.Violations, Violation{
			Rule:    RuleDiffFormat,
			Message: "diff contains no file changes",
		})
		return out, nil
	}

	for _, fd := range fileDiffs {
		p := diffPath(fd)
		if !pathAllowed(p, v.policy.AllowedPathPrefixes) {
			out.Violations = append(out.Violations, Violation{
				Rule:    RuleAllowlist,
				Path:    p,
				Message: fmt.Sprintf("path not in allowlist: %s", p),
			})
		}
		if err := validation.ValidateRelativePath(p); err != nil {
			out.Violations = append(out.Violations, Violation{
				Rule:    RulePathTraversal,
				Path:    p,
				Message: err.Error(),
			})
		}
	}

	if len(fileDiffs) > v.policy.MaxFilesChanged {
		out.Violations = append(out.Violations, Violation{
			Rule:    RuleMaxFiles,
			Message: fmt.Sprintf("too many files changed: %d (max %d)", len(fileDiffs), v.policy.MaxFilesChanged),
			Limit:   v.policy.MaxFilesChanged,
			Actual:  len(fileDiffs),
		})
	}

	added, removed := countChangedLines(fileDiffs)
	if total := added + removed; total > v.policy.MaxTotalChangedLines {
		out.Violations = append(out.Violations, Violation{
			Rule:    RuleMaxLines,
			Message: fmt.Sprintf("too many lines changed: %d (max %d)", total, v.policy.MaxTotalChangedLines),
			Limit:   v.policy.MaxTotalChangedLines,
			Actual:  total,
		})
	}

	if !v.policy.DisableSyntaxCheck {
		violations, err := checkSyntax(ctx, res.Edits)
		if err != nil {
			return nil, err
		}
		out.Violations = append(out.Violations, violations...)
	}

	out.Valid = len(out.Violations) == 0
	return out, nil
}

// diffPath extracts the repository-relative path a file diff touches.
func diffPath(fd *diff.FileDiff) string {
	p := fd.NewName
	if p == "" || p == "/dev/null" {
		p = fd.OrigName
	}
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	return p
}

func pathAllowed(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// countChangedLines tallies additions and deletions across all hunk
// bodies.
func countChangedLines(fileDiffs []*diff.FileDiff) (added, removed int) {
	for _, fd := range fileDiffs {
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
					added++
				case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
					removed++
				}
			}
		}
	}
	return added, removed
}
