// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// database keys, file paths, or subprocess calls. Using these validators
// prevents injection attacks (key injection, command injection, path traversal).
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// runIDPattern matches canonical UUID run identifiers.
// Format: 8-4-4-4-12 lowercase hex groups (RFC 4122 text form).
var runIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ValidateRunID validates a run identifier before it is used as a
// storage key or URL path segment.
//
// Valid run IDs are canonical lowercase UUID strings. Rejecting
// anything else keeps key prefixes unambiguous and prevents key
// injection through crafted identifiers.
//
// Example:
//
//	if err := validation.ValidateRunID(id); err != nil {
//	    return nil, fmt.Errorf("invalid run id: %w", err)
//	}
//	// Safe to use as a store key
func ValidateRunID(id string) error {
	if id == "" {
		return fmt.Errorf("run id cannot be empty")
	}

	if !runIDPattern.MatchString(id) {
		return fmt.Errorf("invalid run id format: %q (must be a lowercase UUID)", id)
	}

	return nil
}

// SanitizeRunID normalizes and validates a run identifier.
// Returns the lowercase ID if valid, or an error if invalid.
func SanitizeRunID(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if err := ValidateRunID(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateRelativePath validates a repository-relative file path
// before it is joined to a working tree root.
//
// Valid paths:
//   - Non-empty, at most 1024 bytes
//   - Forward slashes only (no backslash separators)
//   - Not absolute, no drive letters
//   - No "." or ".." segments
//   - No NUL or other control characters
//
// Returns an error describing the first rule violated.
func ValidateRelativePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if len(path) > 1024 {
		return fmt.Errorf("path too long: %d bytes (max 1024)", len(path))
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("path contains control character: %q", path)
		}
	}
	if strings.ContainsRune(path, '\\') {
		return fmt.Errorf("path must use forward slashes: %q", path)
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must be relative: %q", path)
	}
	if len(path) >= 2 && path[1] == ':' {
		return fmt.Errorf("path must not contain a drive letter: %q", path)
	}
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "":
			return fmt.Errorf("path contains empty segment: %q", path)
		case ".", "..":
			return fmt.Errorf("path contains %q segment: %q", seg, path)
		}
	}
	return nil
}

// ValidateRelativePaths validates multiple repository-relative paths.
// Returns an error listing all invalid paths if any fail validation.
func ValidateRelativePaths(paths []string) error {
	var invalid []string
	for _, p := range paths {
		if err := ValidateRelativePath(p); err != nil {
			invalid = append(invalid, p)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid paths: %v", invalid)
	}
	return nil
}

// SanitizeRelativePath normalizes and validates a repository-relative
// path. Returns the slash-normalized, cleaned path if valid.
//
// Use this when you need both validation and normalization:
//
//	safePath, err := validation.SanitizeRelativePath(userInput)
//	if err != nil {
//	    return err
//	}
//	// safePath is clean and validated
func SanitizeRelativePath(path string) (string, error) {
	normalized := filepath.ToSlash(strings.TrimSpace(path))
	normalized = strings.TrimPrefix(normalized, "./")
	if err := ValidateRelativePath(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
