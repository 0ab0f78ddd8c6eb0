// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// DetectCommand picks a check command from the project layout.
//
// Description:
//
//	Looks for well-known project markers in order: a go.mod makes it a
//	Go project, pytest configuration makes it a Python project, and a
//	package.json makes it a Node project. The first match wins.
//
// Inputs:
//
//	workDir - Directory to inspect
//
// Outputs:
//
//	[]string - Check command as argv
//	error - ErrNoProjectDetected if no marker matched, or a parse
//	        error for a present-but-broken go.mod
func DetectCommand(workDir string) ([]string, error) {
	goModPath := filepath.Join(workDir, "go.mod")
	if content, err := os.ReadFile(goModPath); err == nil {
		if _, parseErr := modfile.Parse("go.mod", content, nil); parseErr != nil {
			return nil, fmt.Errorf("parse go.mod: %w", parseErr)
		}
		return []string{"go", "test", "./..."}, nil
	}

	if hasPytestMarkers(workDir) {
		return []string{"python", "-m", "pytest"}, nil
	}

	if _, err := os.Stat(filepath.Join(workDir, "package.json")); err == nil {
		return []string{"npm", "test"}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNoProjectDetected, workDir)
}

// hasPytestMarkers reports whether the directory looks like a pytest
// project.
func hasPytestMarkers(workDir string) bool {
	for _, name := range []string{"pytest.ini", "conftest.py"} {
		if _, err := os.Stat(filepath.Join(workDir, name)); err == nil {
			return true
		}
	}

	if fileContains(filepath.Join(workDir, "pyproject.toml"), "[tool.pytest") {
		return true
	}
	if fileContains(filepath.Join(workDir, "setup.cfg"), "[tool:pytest]") {
		return true
	}
	if fileContains(filepath.Join(workDir, "tox.ini"), "[pytest]") {
		return true
	}

	return false
}

func fileContains(path, marker string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), marker)
}
