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
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/AleutianAI/patchsmith/services/patch_engine/anchor"
	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
)

func intPtr(i int) *int { return &i }

func mustPatchSet(t *testing.T, operations ...ops.Operation) *ops.PatchSet {
	t.Helper()
	ps, err := ops.NewPatchSet(operations)
	if err != nil {
		t.Fatalf("NewPatchSet() error = %v", err)
	}
	return ps
}

func TestSynthesize_SingleReplace(t *testing.T) {
	original := "def test_add():\n    assert add(1, 1) == 3\n"
	files := map[string]string{"tests/test_calc.py": original}
	ps := mustPatchSet(t, ops.Operation{
		Path:    "tests/test_calc.py",
		Find:    "    assert add(1, 1) == 3",
		Replace: "    assert add(1, 1) == 2",
	})

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	want := "--- a/tests/test_calc.py\n" +
		"+++ b/tests/test_calc.py\n" +
		"@@ -1,2 +1,2 @@\n" +
		" def test_add():\n" +
		"-    assert add(1, 1) == 3\n" +
		"+    assert add(1, 1) == 2\n"
	if diff := cmp.Diff(want, res.Diff); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}

	if len(res.Edits) != 1 {
		t.Fatalf("got %d edits, want 1", len(res.Edits))
	}
	wantNew := "def test_add():\n    assert add(1, 1) == 2\n"
	if res.Edits[0].New != wantNew {
		t.Errorf("New = %q, want %q", res.Edits[0].New, wantNew)
	}
}

func TestSynthesize_ContextWindow(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "l%d\n", i)
	}
	files := map[string]string{"f.txt": sb.String()}
	ps := mustPatchSet(t, ops.Operation{Path: "f.txt", Find: "l5", Replace: "x5"})

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	want := "--- a/f.txt\n" +
		"+++ b/f.txt\n" +
		"@@ -2,7 +2,7 @@\n" +
		" l2\n l3\n l4\n" +
		"-l5\n" +
		"+x5\n" +
		" l6\n l7\n l8\n"
	if diff := cmp.Diff(want, res.Diff); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesize_DistantChangesSplitIntoHunks(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 20; i++ {
		fmt.Fprintf(&sb, "l%d\n", i)
	}
	files := map[string]string{"f.txt": sb.String()}
	ps := mustPatchSet(t,
		ops.Operation{Path: "f.txt", Find: "l2", Replace: "x2"},
		ops.Operation{Path: "f.txt", Find: "l18", Replace: "x18"},
	)

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	want := "--- a/f.txt\n" +
		"+++ b/f.txt\n" +
		"@@ -1,5 +1,5 @@\n" +
		" l1\n" +
		"-l2\n" +
		"+x2\n" +
		" l3\n l4\n l5\n" +
		"@@ -15,6 +15,6 @@\n" +
		" l15\n l16\n l17\n" +
		"-l18\n" +
		"+x18\n" +
		" l19\n l20\n"
	if diff := cmp.Diff(want, res.Diff); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesize_HighestLineFirst(t *testing.T) {
	original := "l1\nl2\nl3\nl4\nl5\nl6\nl7\nl8\n"
	files := map[string]string{"f.txt": original}
	// Listed lowest first; application order must not matter.
	ps := mustPatchSet(t,
		ops.Operation{Path: "f.txt", Find: "l2", Replace: "l2a\nl2b"},
		ops.Operation{Path: "f.txt", Find: "l7", Replace: ""},
	)

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	wantNew := "l1\nl2a\nl2b\nl3\nl4\nl5\nl6\nl8\n"
	if res.Edits[0].New != wantNew {
		t.Errorf("New = %q, want %q", res.Edits[0].New, wantNew)
	}
}

func TestSynthesize_OccurrenceSelects(t *testing.T) {
	files := map[string]string{"f.txt": "a\nb\na\n"}
	ps := mustPatchSet(t, ops.Operation{Path: "f.txt", Find: "a", Replace: "c", Occurrence: intPtr(1)})

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	want := "--- a/f.txt\n" +
		"+++ b/f.txt\n" +
		"@@ -1,3 +1,3 @@\n" +
		" a\n b\n" +
		"-a\n" +
		"+c\n"
	if diff := cmp.Diff(want, res.Diff); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}
}

func TestSynthesize_NoNewlineAtEOF(t *testing.T) {
	files := map[string]string{"f.txt": "a\nb"}
	ps := mustPatchSet(t, ops.Operation{Path: "f.txt", Find: "b", Replace: "c"})

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	want := "--- a/f.txt\n" +
		"+++ b/f.txt\n" +
		"@@ -1,2 +1,2 @@\n" +
		" a\n" +
		"-b\n" +
		"\\ No newline at end of file\n" +
		"+c\n" +
		"\\ No newline at end of file\n"
	if diff := cmp.Diff(want, res.Diff); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}
	if res.Edits[0].New != "a\nc" {
		t.Errorf("New = %q, want %q", res.Edits[0].New, "a\nc")
	}
}

func TestSynthesize_DeleteAllContent(t *testing.T) {
	files := map[string]string{"f.txt": "a\n"}
	ps := mustPatchSet(t, ops.Operation{Path: "f.txt", Find: "a", Replace: ""})

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	want := "--- a/f.txt\n" +
		"+++ b/f.txt\n" +
		"@@ -1 +0,0 @@\n" +
		"-a\n"
	if diff := cmp.Diff(want, res.Diff); diff != "" {
		t.Errorf("Diff mismatch (-want +got):\n%s", diff)
	}
	if res.Edits[0].New != "" {
		t.Errorf("New = %q, want empty", res.Edits[0].New)
	}
}

func TestSynthesize_MultiFile(t *testing.T) {
	files := map[string]string{
		"b.txt": "one\n",
		"a.txt": "two\n",
	}
	ps := mustPatchSet(t,
		ops.Operation{Path: "b.txt", Find: "one", Replace: "1"},
		ops.Operation{Path: "a.txt", Find: "two", Replace: "2"},
	)

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(res.Edits) != 2 {
		t.Fatalf("got %d edits, want 2", len(res.Edits))
	}

	// Patch-set order, not map order.
	if res.Edits[0].Path != "b.txt" || res.Edits[1].Path != "a.txt" {
		t.Errorf("edit order = %s, %s", res.Edits[0].Path, res.Edits[1].Path)
	}
	bIdx := strings.Index(res.Diff, "--- a/b.txt")
	aIdx := strings.Index(res.Diff, "--- a/a.txt")
	if bIdx < 0 || aIdx < 0 || bIdx > aIdx {
		t.Errorf("concatenated diff order wrong:\n%s", res.Diff)
	}
}

func TestSynthesize_SkippedFile(t *testing.T) {
	files := map[string]string{
		"same.txt":    "keep\n",
		"changed.txt": "old\n",
	}
	ps := mustPatchSet(t,
		ops.Operation{Path: "same.txt", Find: "keep", Replace: "keep"},
		ops.Operation{Path: "changed.txt", Find: "old", Replace: "new"},
	)

	res, err := Synthesize(files, ps)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(res.Edits) != 1 || res.Edits[0].Path != "changed.txt" {
		t.Fatalf("Edits = %+v, want only changed.txt", res.Edits)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "same.txt" {
		t.Errorf("Skipped = %v, want [same.txt]", res.Skipped)
	}
}

func TestSynthesize_NoEffectiveChange(t *testing.T) {
	files := map[string]string{"f.txt": "a\n"}
	ps := mustPatchSet(t, ops.Operation{Path: "f.txt", Find: "a", Replace: "a"})

	_, err := Synthesize(files, ps)
	if !errors.Is(err, ErrNoEffectiveChange) {
		t.Errorf("error = %v, want ErrNoEffectiveChange", err)
	}
}

func TestSynthesize_Overlap(t *testing.T) {
	files := map[string]string{"f.txt": "a\nb\nc\n"}
	ps := mustPatchSet(t,
		ops.Operation{Path: "f.txt", Find: "a\nb", Replace: "x"},
		ops.Operation{Path: "f.txt", Find: "b\nc", Replace: "y"},
	)

	_, err := Synthesize(files, ps)
	if !errors.Is(err, ErrOverlappingOps) {
		t.Errorf("error = %v, want ErrOverlappingOps", err)
	}
}

func TestSynthesize_ResolutionErrorPropagates(t *testing.T) {
	files := map[string]string{"f.txt": "a\n"}
	ps := mustPatchSet(t, ops.Operation{Path: "f.txt", Find: "zz", Replace: "x"})

	_, err := Synthesize(files, ps)
	if !errors.Is(err, anchor.ErrAnchorNotFound) {
		t.Errorf("error = %v, want ErrAnchorNotFound", err)
	}
}

func TestSynthesize_MissingContent(t *testing.T) {
	ps := mustPatchSet(t, ops.Operation{Path: "f.txt", Find: "a", Replace: "b"})

	_, err := Synthesize(map[string]string{}, ps)
	if err == nil || !strings.Contains(err.Error(), "no content provided") {
		t.Errorf("error = %v, want missing content error", err)
	}
}

func TestApplyUnified_ContextMismatch(t *testing.T) {
	diffText := "--- a/f.txt\n" +
		"+++ b/f.txt\n" +
		"@@ -1 +1 @@\n" +
		"-y\n" +
		"+z\n"

	_, err := ApplyUnified("x\n", diffText)
	if err == nil || !strings.Contains(err.Error(), "does not match original") {
		t.Errorf("error = %v, want context mismatch", err)
	}
}

func TestApplyUnified_EmptyDiffIsIdentity(t *testing.T) {
	got, err := ApplyUnified("a\nb\n", "")
	if err != nil {
		t.Fatalf("ApplyUnified() error = %v", err)
	}
	if got != "a\nb\n" {
		t.Errorf("got %q, want original", got)
	}
}

func TestUnified_IdenticalContent(t *testing.T) {
	if got := Unified("f.txt", "a\n", "a\n"); got != "" {
		t.Errorf("Unified() = %q, want empty", got)
	}
}
