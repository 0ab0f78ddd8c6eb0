// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import "time"

// ErrorRecord is one classified failure, kept as structured run data.
type ErrorRecord struct {
	// Category is the failure category.
	Category Category `json:"category"`

	// Severity is the severity after any escalation.
	Severity Severity `json:"severity"`

	// Message is the error text.
	Message string `json:"message"`

	// Stage names the pipeline stage that failed.
	Stage string `json:"stage,omitempty"`

	// RetryCount is how many recovery retries had already happened
	// within the stage when this error occurred.
	RetryCount int `json:"retry_count"`

	// Recovered is true when a later retry of the same call
	// succeeded.
	Recovered bool `json:"recovered"`

	// Timestamp is when the error was classified.
	Timestamp time.Time `json:"timestamp"`
}

// Summary aggregates the error records of one run.
type Summary struct {
	// Total is the number of records.
	Total int `json:"total"`

	// Recovered is how many records were later recovered.
	Recovered int `json:"recovered"`

	// ByCategory counts records per category.
	ByCategory map[Category]int `json:"by_category"`

	// BySeverity counts records per severity.
	BySeverity map[Severity]int `json:"by_severity"`
}

// Summarize aggregates records into per-category and per-severity
// counts plus a recovery tally.
func Summarize(records []ErrorRecord) Summary {
	s := Summary{
		ByCategory: make(map[Category]int),
		BySeverity: make(map[Severity]int),
	}
	for _, r := range records {
		s.Total++
		if r.Recovered {
			s.Recovered++
		}
		s.ByCategory[r.Category]++
		s.BySeverity[r.Severity]++
	}
	return s
}

// RecoveryRate returns the fraction of recorded errors that were
// recovered, zero when there are none.
func (s Summary) RecoveryRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Recovered) / float64(s.Total)
}
