// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/patchsmith/pkg/validation"
)

// WorkTree is a rooted view of the repository being patched. All file
// access goes through repository-relative paths resolved against the
// root; paths that escape the root are rejected.
type WorkTree struct {
	root string
}

// NewWorkTree creates a work tree rooted at the given directory.
//
// # Inputs
//
//   - root: Base directory for relative paths. Must be absolute.
//
// # Outputs
//
//   - *WorkTree: Ready-to-use work tree.
//   - error: Non-nil if root is not an absolute path to a directory.
func NewWorkTree(root string) (*WorkTree, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("root must be absolute: %s", root)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", root)
	}

	return &WorkTree{root: filepath.Clean(root)}, nil
}

// Root returns the absolute root directory.
func (w *WorkTree) Root() string {
	return w.root
}

// Resolve maps a repository-relative path to an absolute path under
// the root. The path is validated first, and the joined result is
// checked to still be inside the root.
func (w *WorkTree) Resolve(relPath string) (string, error) {
	clean, err := validation.SanitizeRelativePath(relPath)
	if err != nil {
		return "", err
	}

	full := filepath.Join(w.root, filepath.FromSlash(clean))

	rel, err := filepath.Rel(w.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("security: path escapes work tree: %s", relPath)
	}

	return full, nil
}

// ReadFile returns the content of a repository-relative file.
func (w *WorkTree) ReadFile(relPath string) (string, error) {
	full, err := w.Resolve(relPath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", relPath, err)
	}
	return string(data), nil
}

// ReadFiles returns the contents of multiple repository-relative
// files, keyed by path as given. The first unreadable file aborts
// the read.
func (w *WorkTree) ReadFiles(relPaths []string) (map[string]string, error) {
	files := make(map[string]string, len(relPaths))
	for _, p := range relPaths {
		content, err := w.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files[p] = content
	}
	return files, nil
}
