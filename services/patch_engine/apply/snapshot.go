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
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
)

const defaultFileMode os.FileMode = 0644

// FileState records one file's state at snapshot time.
type FileState struct {
	// Path is the repository-relative path.
	Path string

	// AbsPath is the resolved absolute path.
	AbsPath string

	// Existed is false if the file was absent when the snapshot was
	// taken. Restoring a non-existent file removes it.
	Existed bool

	// Content is the file content at snapshot time.
	Content []byte

	// Mode is the file mode at snapshot time.
	Mode os.FileMode
}

// Snapshot captures the pre-apply state of every file a change set
// touches, so the set can be reverted as a unit.
type Snapshot struct {
	states []FileState
}

// Take captures the current state of the given repository-relative
// paths. Reads run in parallel; the first failure aborts the snapshot.
func Take(ctx context.Context, tree *WorkTree, relPaths []string) (*Snapshot, error) {
	states := make([]FileState, len(relPaths))

	g, gCtx := errgroup.WithContext(ctx)
	for i, relPath := range relPaths {
		i, relPath := i, relPath // Capture loop variables

		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			full, err := tree.Resolve(relPath)
			if err != nil {
				return err
			}

			state := FileState{Path: relPath, AbsPath: full, Mode: defaultFileMode}

			info, err := os.Stat(full)
			switch {
			case os.IsNotExist(err):
				// Leave Existed false.
			case err != nil:
				return fmt.Errorf("stat %s: %w", relPath, err)
			case info.IsDir():
				return fmt.Errorf("%s is a directory", relPath)
			default:
				data, readErr := os.ReadFile(full)
				if readErr != nil {
					return fmt.Errorf("reading %s: %w", relPath, readErr)
				}
				state.Existed = true
				state.Content = data
				state.Mode = info.Mode()
			}

			states[i] = state
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Snapshot{states: states}, nil
}

// Paths returns the repository-relative paths covered by the snapshot.
func (s *Snapshot) Paths() []string {
	paths := make([]string, len(s.states))
	for i, st := range s.states {
		paths[i] = st.Path
	}
	return paths
}

// restore writes recorded states back to disk. If only is non-nil,
// paths outside it are skipped. Returns the paths that could not be
// restored.
func (s *Snapshot) restore(write writeFunc, only map[string]bool) []string {
	var failed []string
	for _, st := range s.states {
		if only != nil && !only[st.Path] {
			continue
		}
		if err := st.restore(write); err != nil {
			failed = append(failed, st.Path)
		}
	}
	return failed
}

func (st *FileState) restore(write writeFunc) error {
	if !st.Existed {
		if err := os.Remove(st.AbsPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return write(st.AbsPath, st.Content, st.Mode)
}

// modeFor returns the snapshotted mode for a path, or the default
// mode for files that did not exist.
func (s *Snapshot) modeFor(relPath string) os.FileMode {
	for _, st := range s.states {
		if st.Path == relPath {
			return st.Mode
		}
	}
	return defaultFileMode
}
