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

import "fmt"

// Abort reasons the generator may answer with instead of operations.
const (
	AbortOutOfScope         = "out_of_scope"
	AbortCannotComply       = "cannot_comply"
	AbortExactMatchNotFound = "exact_match_not_found"
)

// AbortError reports that the generator declined to produce
// operations. A recognized reason ends the run cleanly; an
// unrecognized one still aborts but is flagged in the message.
type AbortError struct {
	Reason string
}

func (e *AbortError) Error() string {
	if e.Recognized() {
		return fmt.Sprintf("generator aborted: %s", e.Reason)
	}
	return fmt.Sprintf("generator aborted with invalid reason: %q", e.Reason)
}

// Recognized reports whether Reason is one of the documented abort
// values.
func (e *AbortError) Recognized() bool {
	switch e.Reason {
	case AbortOutOfScope, AbortCannotComply, AbortExactMatchNotFound:
		return true
	}
	return false
}

// ParseError reports that no usable operation list could be extracted
// from generator output. It is always returned, never panicked, so
// the refinement loop can feed the problem back to the next attempt.
type ParseError struct {
	Msg     string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %q", e.Msg, e.Snippet)
}
