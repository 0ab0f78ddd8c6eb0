// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
	"github.com/AleutianAI/patchsmith/services/patch_engine/synth"
)

func testPolicy() PolicyConfig {
	return PolicyConfig{
		AllowedPathPrefixes: []string{"tests/"},
	}
}

// synthResult builds a real synthesized change set for a single file.
func synthResult(t *testing.T, path, original, find, replace string) *synth.Result {
	t.Helper()
	ps, err := ops.NewPatchSet([]ops.Operation{{Path: path, Find: find, Replace: replace}})
	if err != nil {
		t.Fatalf("NewPatchSet() error = %v", err)
	}
	res, err := synth.Synthesize(map[string]string{path: original}, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	return res
}

func hasRule(result *Result, rule string) bool {
	for _, v := range result.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func TestValidate_Pass(t *testing.T) {
	res := synthResult(t, "tests/test_calc.py",
		"def test_add():\n    assert add(1, 1) == 3\n",
		"    assert add(1, 1) == 3",
		"    assert add(1, 1) == 2")

	result, err := New(testPolicy()).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("Valid = false, violations: %v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Violations = %v, want none", result.Violations)
	}
}

func TestValidate_AllowlistViolation(t *testing.T) {
	res := synthResult(t, "src/main.py", "x = 1\n", "x = 1", "x = 2")

	result, err := New(testPolicy()).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true, want false")
	}

	found := false
	for _, v := range result.Violations {
		if v.Rule == RuleAllowlist && v.Path == "src/main.py" {
			found = true
		}
	}
	if !found {
		t.Errorf("no allowlist violation naming src/main.py: %v", result.Violations)
	}
}

func TestValidate_EmptyAllowlistDeniesAll(t *testing.T) {
	res := synthResult(t, "tests/test_a.py", "a = 1\n", "a = 1", "a = 2")

	result, err := New(PolicyConfig{}).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Valid || !hasRule(result, RuleAllowlist) {
		t.Errorf("empty allowlist permitted a change: %+v", result)
	}
}

func TestValidate_MaxFiles(t *testing.T) {
	var diffText strings.Builder
	var edits []synth.FileEdit
	for i := 0; i < 6; i++ {
		path := fmt.Sprintf("tests/f%d.txt", i)
		fmt.Fprintf(&diffText, "--- a/%s\n+++ b/%s\n@@ -1 +1 @@\n-a\n+b\n", path, path)
		edits = append(edits, synth.FileEdit{Path: path, Original: "a\n", New: "b\n"})
	}
	res := &synth.Result{Edits: edits, Diff: diffText.String()}

	result, err := New(testPolicy()).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true, want false")
	}

	for _, v := range result.Violations {
		if v.Rule == RuleMaxFiles {
			if v.Limit != DefaultMaxFilesChanged || v.Actual != 6 {
				t.Errorf("limit/actual = %d/%d, want %d/6", v.Limit, v.Actual, DefaultMaxFilesChanged)
			}
			return
		}
	}
	t.Errorf("no max_files violation: %v", result.Violations)
}

func TestValidate_MaxLines(t *testing.T) {
	res := synthResult(t, "tests/f.txt", "a\nb\nc\n", "a\nb", "x\ny\nz")

	policy := testPolicy()
	policy.MaxTotalChangedLines = 3
	result, err := New(policy).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true, want false")
	}

	for _, v := range result.Violations {
		if v.Rule == RuleMaxLines {
			// 2 removed + 3 added.
			if v.Limit != 3 || v.Actual != 5 {
				t.Errorf("limit/actual = %d/%d, want 3/5", v.Limit, v.Actual)
			}
			return
		}
	}
	t.Errorf("no max_lines violation: %v", result.Violations)
}

func TestValidate_PathTraversal(t *testing.T) {
	diffText := "--- a/../evil.txt\n+++ b/../evil.txt\n@@ -1 +1 @@\n-a\n+b\n"
	res := &synth.Result{
		Edits: []synth.FileEdit{{Path: "../evil.txt", Original: "a\n", New: "b\n"}},
		Diff:  diffText,
	}

	policy := PolicyConfig{AllowedPathPrefixes: []string{"../"}}
	result, err := New(policy).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Valid || !hasRule(result, RulePathTraversal) {
		t.Errorf("traversal path accepted: %+v", result)
	}
}

func TestValidate_MalformedDiff(t *testing.T) {
	res := &synth.Result{Diff: "this is not a diff\nat all\n"}

	result, err := New(testPolicy()).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Valid || !hasRule(result, RuleDiffFormat) {
		t.Errorf("malformed diff accepted: %+v", result)
	}
}

func TestValidate_EmptyChangeSet(t *testing.T) {
	result, err := New(testPolicy()).Validate(context.Background(), &synth.Result{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Valid || !hasRule(result, RuleNoChange) {
		t.Errorf("empty change set accepted: %+v", result)
	}
}

func TestValidate_SyntaxGate(t *testing.T) {
	res := synthResult(t, "tests/test_broken.py",
		"def test_ok():\n    pass\n",
		"def test_ok():",
		"def test_ok(:")

	result, err := New(testPolicy()).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.Valid {
		t.Fatal("Valid = true for broken python, want false")
	}
	if !hasRule(result, RuleSyntax) {
		t.Errorf("no syntax violation: %v", result.Violations)
	}
}

func TestValidate_SyntaxGateDisabled(t *testing.T) {
	res := synthResult(t, "tests/test_broken.py",
		"def test_ok():\n    pass\n",
		"def test_ok():",
		"def test_ok(:")

	policy := testPolicy()
	policy.DisableSyntaxCheck = true
	result, err := New(policy).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("Valid = false with gate disabled: %v", result.Violations)
	}
}

func TestValidate_UnknownLanguageSkipsGate(t *testing.T) {
	res := synthResult(t, "tests/notes.txt", "old note\n", "old note", "new note ((((")

	result, err := New(testPolicy()).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.Valid {
		t.Errorf("Valid = false for plain text: %v", result.Violations)
	}
}

func TestValidate_AllViolationsReported(t *testing.T) {
	res := synthResult(t, "src/app.txt", "a\nb\nc\n", "a\nb", "x\ny\nz")

	policy := PolicyConfig{
		AllowedPathPrefixes:  []string{"tests/"},
		MaxTotalChangedLines: 3,
	}
	result, err := New(policy).Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !hasRule(result, RuleAllowlist) || !hasRule(result, RuleMaxLines) {
		t.Errorf("expected allowlist and max_lines violations, got %v", result.Violations)
	}
}

func TestValidate_Idempotent(t *testing.T) {
	res := synthResult(t, "src/main.py", "x = 1\n", "x = 1", "x = 2")
	v := New(testPolicy())

	first, err := v.Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	second, err := v.Validate(context.Background(), res)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("results differ:\n%+v\n%+v", first, second)
	}
}

func TestValidate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testPolicy()).Validate(ctx, &synth.Result{Diff: "x"})
	if err == nil {
		t.Error("expected context error, got nil")
	}
}

func TestPolicyConfig_Normalize(t *testing.T) {
	p := PolicyConfig{}.Normalize()
	if p.MaxFilesChanged != DefaultMaxFilesChanged {
		t.Errorf("MaxFilesChanged = %d, want %d", p.MaxFilesChanged, DefaultMaxFilesChanged)
	}
	if p.MaxTotalChangedLines != DefaultMaxTotalChangedLines {
		t.Errorf("MaxTotalChangedLines = %d, want %d", p.MaxTotalChangedLines, DefaultMaxTotalChangedLines)
	}

	p = PolicyConfig{MaxFilesChanged: 2, MaxTotalChangedLines: 50}.Normalize()
	if p.MaxFilesChanged != 2 || p.MaxTotalChangedLines != 50 {
		t.Errorf("explicit caps overridden: %+v", p)
	}
}
