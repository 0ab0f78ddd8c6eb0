// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/patchsmith/services/patch_engine/workflow"
)

// systemPrompt is the fixed instruction block for the patcher model.
// The scope rule, size caps, and abort protocol here mirror what the
// validation pipeline enforces, so a compliant model never burns an
// attempt on a rejectable operation set.
const systemPrompt = `You are Patchsmith's patcher.
Your job is to produce minimal, safe edits as JSON find/replace operations.

SCOPE (hard rule)
- You may ONLY modify files shown in the FILE sections of the request.
- If a correct fix requires changing any other file, you MUST abort.

OUTPUT (strict JSON, no prose/markdown)
{
  "ops": [
    {
      "path": "relative path exactly as a FILE section names it",
      "find": "EXACT substring from the file content shown",
      "replace": "replacement text"
    }
  ]
}

FORMAT RULES
- JSON object only; double quotes; no trailing commas; no extra keys.
- Max 5 ops total; at most 200 total changed lines across all ops.
- Each "find" and "replace" at most 2000 characters.
- Each "find" MUST be copied character-for-character from the file content,
  preserving ALL whitespace (spaces, tabs, newlines).
- If the "find" text appears more than once in its file, add "occurrence": N
  to name which match to edit, counting from 0: the first match is
  "occurrence": 0, the second is 1. Never guess.

WHITESPACE EXAMPLE:
File content: ` + "`" + `assert False, "message"` + "`" + `  (single space after comma)
Correct: "find": "assert False, \"message\""
Wrong:   "find": "assert False,  \"message\""  (double space)

FALLBACKS
- If the fix needs a file not shown in the request → {"abort":"out_of_scope"}
- If no "find" can be matched EXACTLY → {"abort":"exact_match_not_found"}
- If you cannot comply with these constraints → {"abort":"cannot_comply"}

PROHIBITIONS
- No prose, markdown, diffs, or line numbers in output.
- Do not relax security-relevant checks just to make verification green.`

const truncationMarker = "... [file truncated]"

// buildUserPrompt assembles the per-attempt request: the task, any
// feedback from prior attempts, and the current content of every
// context file. Files are emitted in path order so identical inputs
// produce identical prompts.
func buildUserPrompt(req *workflow.GenerateRequest, maxFileBytes int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n\n", req.Task)
	b.WriteString("CRITICAL INSTRUCTION: Copy find text ONLY from the FILE sections below.\n")
	b.WriteString("DO NOT copy from the feedback or from test output.\n")
	b.WriteString("Pay extreme attention to whitespace - spaces, tabs, and newlines must match exactly.\n")

	if req.Feedback != "" {
		b.WriteString("\n")
		b.WriteString(req.Feedback)
		b.WriteString("\n")
	}

	paths := make([]string, 0, len(req.Files))
	for path := range req.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		fmt.Fprintf(&b, "\n=== FILE: %s ===\n", path)
		b.WriteString(headBound(req.Files[path], maxFileBytes))
		b.WriteString("\n")
	}

	b.WriteString("\nProduce the JSON operations for the task now.\n")
	b.WriteString("COPY EXACT TEXT (including all whitespace) from the FILE sections above.")
	return b.String()
}

// headBound truncates content to the byte budget, cutting back to a
// line boundary so the model never sees a half line it might copy.
func headBound(content string, maxBytes int) string {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return strings.TrimRight(content, "\n")
	}

	cut := content[:maxBytes]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "\n" + truncationMarker
}
