// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery classifies pipeline errors and decides how to
// recover from them.
//
// Classification checks typed errors first, then falls back to
// keyword matching on the lowercased message. Each category carries a
// base severity; a category that keeps recurring within one run gets
// escalated. Recovery waits go through an injectable Clock so tests
// run without real delays.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/patchsmith/services/patch_engine/anchor"
	"github.com/AleutianAI/patchsmith/services/patch_engine/apply"
	"github.com/AleutianAI/patchsmith/services/patch_engine/ops"
	"github.com/AleutianAI/patchsmith/services/patch_engine/synth"
	"github.com/AleutianAI/patchsmith/services/patch_engine/verify"
)

// Category identifies the kind of failure, which decides the
// recovery strategy.
type Category string

const (
	// CategoryNetwork covers connectivity failures to external
	// services: refused connections, DNS, timeouts.
	CategoryNetwork Category = "network"

	// CategoryRateLimit covers external service rate limiting.
	CategoryRateLimit Category = "rate_limit"

	// CategoryValidationPolicy covers rejected change sets: anchor
	// resolution failures, policy violations, empty change sets. The
	// refinement loop owns these; recovery never retries them.
	CategoryValidationPolicy Category = "validation_policy"

	// CategoryParsing covers malformed generator output.
	CategoryParsing Category = "parsing_malformed"

	// CategoryConfiguration covers missing or broken configuration.
	// Always fail fast.
	CategoryConfiguration Category = "configuration"

	// CategoryResource covers exhausted local resources: memory,
	// disk, file handles.
	CategoryResource Category = "resource_exhaustion"

	// CategoryWorkflow covers unexpected pipeline state.
	CategoryWorkflow Category = "workflow_logic"

	// CategoryUnknown is the fallback when nothing matched.
	CategoryUnknown Category = "unknown"
)

// Severity ranks how bad a failure is for the run.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RateLimitError reports an upstream rate limit. Hint carries the
// server's Retry-After value when one was given.
type RateLimitError struct {
	Hint time.Duration
	Err  error
}

func (e *RateLimitError) Error() string {
	if e.Hint > 0 {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.Hint, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// Keyword tables for message-based classification. Checked in order;
// rate limit wording is checked before network so throttling messages
// that mention connections still land in the right category.
var (
	rateLimitKeywords = []string{
		"rate limit", "rate-limit", "ratelimit", "429",
		"too many requests", "quota", "overloaded",
	}
	networkKeywords = []string{
		"connection", "timeout", "timed out", "dial", "dns",
		"refused", "reset by peer", "unreachable", "broken pipe",
		"eof", "502", "503", "504",
	}
	configKeywords = []string{
		"config", "configuration", "environment variable", "env var",
		"api key", "credential", "unauthorized", "401", "403",
		"missing required",
	}
	resourceKeywords = []string{
		"out of memory", "oom", "no space left", "disk full",
		"exhausted", "resource limit", "too many open files",
	}
	parsingKeywords = []string{
		"json", "parse", "decode", "unmarshal", "malformed",
		"unexpected token",
	}
	validationKeywords = []string{
		"validation", "violat", "allowlist", "policy",
	}
	workflowKeywords = []string{
		"invalid transition", "workflow",
	}
)

// Categorize maps an error to its failure category.
//
// Typed errors from the pipeline are matched first with errors.As and
// errors.Is; anything else falls back to keyword matching on the
// lowercased message.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return CategoryRateLimit
	}

	var parseErr *ops.ParseError
	if errors.As(err, &parseErr) {
		return CategoryParsing
	}

	var abortErr *ops.AbortError
	if errors.As(err, &abortErr) {
		return CategoryWorkflow
	}

	if errors.Is(err, anchor.ErrAnchorNotFound) ||
		errors.Is(err, anchor.ErrAnchorAmbiguous) ||
		errors.Is(err, anchor.ErrIndexOutOfRange) ||
		errors.Is(err, synth.ErrNoEffectiveChange) ||
		errors.Is(err, synth.ErrOverlappingOps) {
		return CategoryValidationPolicy
	}

	if errors.Is(err, apply.ErrApplyFailed) {
		return CategoryResource
	}
	if errors.Is(err, verify.ErrNoProjectDetected) {
		return CategoryConfiguration
	}
	if errors.Is(err, verify.ErrVerificationTimeout) {
		return CategoryWorkflow
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}
	if errors.Is(err, context.Canceled) {
		return CategoryWorkflow
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case matchesAny(msg, rateLimitKeywords):
		return CategoryRateLimit
	case matchesAny(msg, networkKeywords):
		return CategoryNetwork
	case matchesAny(msg, configKeywords):
		return CategoryConfiguration
	case matchesAny(msg, resourceKeywords):
		return CategoryResource
	case matchesAny(msg, parsingKeywords):
		return CategoryParsing
	case matchesAny(msg, validationKeywords):
		return CategoryValidationPolicy
	case matchesAny(msg, workflowKeywords):
		return CategoryWorkflow
	default:
		return CategoryUnknown
	}
}

func matchesAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// baseSeverity is the severity of a category's first occurrence.
var baseSeverity = map[Category]Severity{
	CategoryNetwork:          SeverityMedium,
	CategoryRateLimit:        SeverityMedium,
	CategoryValidationPolicy: SeverityLow,
	CategoryParsing:          SeverityMedium,
	CategoryConfiguration:    SeverityCritical,
	CategoryResource:         SeverityHigh,
	CategoryWorkflow:         SeverityMedium,
	CategoryUnknown:          SeverityMedium,
}

// escalateAfter is the occurrence count at which a category's
// severity is bumped one level.
const escalateAfter = 3

// Classifier categorizes errors and escalates severity when the same
// category keeps recurring within one run.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Classifier struct {
	clock Clock

	mu     sync.Mutex
	counts map[Category]int
}

// NewClassifier creates a classifier with fresh per-run counts. A nil
// clock means the system clock.
func NewClassifier(clock Clock) *Classifier {
	if clock == nil {
		clock = SystemClock()
	}
	return &Classifier{clock: clock, counts: make(map[Category]int)}
}

// Classify builds an ErrorRecord for the error, counting the
// occurrence toward escalation.
func (c *Classifier) Classify(err error) ErrorRecord {
	category := Categorize(err)

	c.mu.Lock()
	c.counts[category]++
	count := c.counts[category]
	c.mu.Unlock()

	severity := baseSeverity[category]
	if severity == "" {
		severity = SeverityMedium
	}
	if count >= escalateAfter {
		severity = escalate(severity)
	}

	return ErrorRecord{
		Category:  category,
		Severity:  severity,
		Message:   err.Error(),
		Timestamp: c.clock.Now().UTC(),
	}
}

// Occurrences returns how many times a category has been seen.
func (c *Classifier) Occurrences(category Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[category]
}

func escalate(s Severity) Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
