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
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/AleutianAI/patchsmith/services/patch_engine/synth"
)

// Collection bounds on heavily malformed input.
const (
	maxSyntaxErrors = 10
	maxParseDepth   = 1000
)

// checkSyntax parses each post-edit file with tree-sitter and turns
// parse errors into violations. Files in unsupported languages are
// skipped. Parsers are created per call; nothing is shared.
func checkSyntax(ctx context.Context, edits []synth.FileEdit) ([]Violation, error) {
	var out []Violation
	for _, edit := range edits {
		lang := languageFor(edit.Path)
		if lang == nil {
			continue
		}
		violations, err := syntaxViolations(ctx, edit.Path, edit.New, lang)
		if err != nil {
			return nil, err
		}
		out = append(out, violations...)
	}
	return out, nil
}

func syntaxViolations(ctx context.Context, path, content string, lang *sitter.Language) ([]Violation, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	var out []Violation
	collectErrors(tree.RootNode(), []byte(content), path, &out, 0)
	return out, nil
}

// collectErrors walks the tree appending a violation per ERROR or
// MISSING node, bounded by maxSyntaxErrors and maxParseDepth.
func collectErrors(node *sitter.Node, content []byte, path string, out *[]Violation, depth int) {
	if node == nil || depth > maxParseDepth || len(*out) >= maxSyntaxErrors {
		return
	}

	if node.IsError() || node.IsMissing() {
		point := node.StartPoint()
		msg := "syntax error"
		if node.IsMissing() {
			msg = fmt.Sprintf("missing %q", node.Type())
		} else if start, end := node.StartByte(), node.EndByte(); end > start && end <= uint32(len(content)) && end-start < 100 {
			msg = fmt.Sprintf("unexpected %q", truncate(string(content[start:end]), 50))
		}
		*out = append(*out, Violation{
			Rule:    RuleSyntax,
			Path:    path,
			Message: fmt.Sprintf("%s at line %d, column %d", msg, point.Row+1, point.Column),
		})
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		collectErrors(node.Child(i), content, path, out, depth+1)
	}
}

func languageFor(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return golang.GetLanguage()
	case ".py", ".pyi":
		return python.GetLanguage()
	case ".js", ".jsx", ".mjs", ".cjs":
		return javascript.GetLanguage()
	case ".ts", ".tsx":
		return typescript.GetLanguage()
	case ".rs":
		return rust.GetLanguage()
	case ".sh", ".bash":
		return bash.GetLanguage()
	default:
		return nil
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
