// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ops

import (
	"encoding/json"
	"regexp"
	"strings"
)

// snippetLen bounds the fragment of raw output quoted in parse errors.
const snippetLen = 200

// envelope is the documented response shape: {"ops": [...]} to
// propose edits, {"abort": "<reason>"} to decline.
type envelope struct {
	Ops   json.RawMessage `json:"ops"`
	Abort string          `json:"abort"`
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// ParseOperations extracts an operation list from raw generator
// output.
//
// The output is expected to be a single JSON document, but generators
// wrap it in prose or markdown fences often enough that extraction is
// tolerant: the whole trimmed text is tried first, then the first
// fenced code block, then the first balanced object or array found by
// scanning. The extracted document must satisfy the operation schema
// before any Operation is constructed.
//
// Returns *AbortError when the generator invoked the abort protocol,
// *ParseError when no usable document could be extracted. Never
// panics on malformed input.
func ParseOperations(raw string) ([]Operation, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Msg: "generator returned empty output"}
	}

	doc, ok := extractDocument(trimmed)
	if !ok {
		return nil, &ParseError{Msg: "no JSON document in generator output", Snippet: snippet(trimmed)}
	}
	return decodeDocument(doc)
}

// extractDocument returns the best JSON candidate in text: the whole
// text when it already parses, else the first fenced block, else the
// first balanced object or array.
func extractDocument(text string) (string, bool) {
	if json.Valid([]byte(text)) {
		return text, true
	}
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		body := strings.TrimSpace(m[1])
		if json.Valid([]byte(body)) {
			return body, true
		}
	}
	return scanBalanced(text)
}

// decodeDocument interprets an extracted document as the envelope,
// the abort form, or a bare operation array.
func decodeDocument(doc string) ([]Operation, error) {
	opsDoc := doc
	if !strings.HasPrefix(doc, "[") {
		var env envelope
		if err := json.Unmarshal([]byte(doc), &env); err != nil {
			return nil, &ParseError{Msg: "generator output is not an operations object", Snippet: snippet(doc)}
		}
		if env.Abort != "" {
			return nil, &AbortError{Reason: env.Abort}
		}
		if len(env.Ops) == 0 {
			return nil, &ParseError{Msg: `generator output has no "ops" key`, Snippet: snippet(doc)}
		}
		opsDoc = string(env.Ops)
	}

	if err := validateSchema(opsDoc); err != nil {
		return nil, err
	}

	var operations []Operation
	if err := json.Unmarshal([]byte(opsDoc), &operations); err != nil {
		return nil, &ParseError{Msg: "operations decode failed: " + err.Error()}
	}
	return operations, nil
}

// scanBalanced finds the first balanced {...} or [...] region that
// parses as JSON, skipping brackets inside string literals.
func scanBalanced(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	for start >= 0 {
		if doc, ok := balancedFrom(text, start); ok {
			return doc, true
		}
		next := strings.IndexAny(text[start+1:], "{[")
		if next < 0 {
			break
		}
		start += 1 + next
	}
	return "", false
}

func balancedFrom(text string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				doc := text[start : i+1]
				if json.Valid([]byte(doc)) {
					return doc, true
				}
				return "", false
			}
		}
	}
	return "", false
}

func snippet(text string) string {
	if len(text) <= snippetLen {
		return text
	}
	return text[:snippetLen] + "..."
}
