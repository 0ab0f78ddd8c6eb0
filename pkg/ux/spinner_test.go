// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"testing"
)

func TestSpinner_StartStop_Plain(t *testing.T) {
	SetPlain(true)

	s := NewSpinner("working")
	s.Start()
	s.Stop()

	// Stop on a stopped spinner must be a no-op
	s.Stop()
}

func TestSpinner_DoubleStart(t *testing.T) {
	SetPlain(true)

	s := NewSpinner("working")
	s.Start()
	s.Start() // second start must not panic or double-run
	s.Stop()
}

func TestSpinner_UpdateMessage(t *testing.T) {
	SetPlain(true)

	s := NewSpinner("before")
	s.Start()
	s.UpdateMessage("after")
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.message != "after" {
		t.Errorf("message = %q, want %q", s.message, "after")
	}
}

func TestWithSpinner_Success(t *testing.T) {
	SetPlain(true)

	called := false
	err := WithSpinner("task", func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Errorf("WithSpinner() error = %v", err)
	}
	if !called {
		t.Error("WithSpinner() did not invoke fn")
	}
}

func TestWithSpinner_Error(t *testing.T) {
	SetPlain(true)

	wantErr := errors.New("task failed")
	err := WithSpinner("task", func() error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("WithSpinner() error = %v, want %v", err, wantErr)
	}
}
