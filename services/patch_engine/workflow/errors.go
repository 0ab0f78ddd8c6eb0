// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workflow

import "errors"

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidTransition indicates a state change the transition
	// table does not allow.
	ErrInvalidTransition = errors.New("invalid workflow state transition")

	// ErrNilContext indicates a nil context.Context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrEmptyRequest indicates a request missing required fields.
	ErrEmptyRequest = errors.New("request must not be empty")

	// ErrAlreadyRunning indicates the controller is mid-run.
	ErrAlreadyRunning = errors.New("workflow controller already running")

	// ErrAttemptsExhausted indicates every refinement attempt failed.
	ErrAttemptsExhausted = errors.New("attempt budget exhausted")

	// ErrRunTimeout indicates the run's deadline elapsed before a
	// terminal state was reached.
	ErrRunTimeout = errors.New("workflow run timeout")

	// ErrTestsStillFailing indicates an applied change set did not make
	// the check command pass. The change set has been reverted.
	ErrTestsStillFailing = errors.New("verification still failing after applied change")
)
