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

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy configures recovery waits and budgets.
type RetryPolicy struct {
	// BackoffBase is the first network retry delay. Doubles per
	// retry.
	BackoffBase time.Duration

	// BackoffMax caps any single delay.
	BackoffMax time.Duration

	// MaxNetworkRetries bounds network retries within one stage call.
	MaxNetworkRetries int

	// RateLimitWait caps the rate limit cooldown. A Retry-After hint
	// above the cap fails instead of waiting.
	RateLimitWait time.Duration

	// ResourceWait is the fixed, longer wait before the single
	// resource exhaustion retry.
	ResourceWait time.Duration

	// Jitter randomizes network delays by up to the given fraction.
	// Zero disables jitter, which keeps delays exact for tests.
	Jitter float64
}

// DefaultRetryPolicy returns the production policy: network retries
// at 1s, 2s, 4s with jitter, rate limit cooldown capped at 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BackoffBase:       1 * time.Second,
		BackoffMax:        30 * time.Second,
		MaxNetworkRetries: 3,
		RateLimitWait:     30 * time.Second,
		ResourceWait:      5 * time.Second,
		Jitter:            0.25,
	}
}

// Backoff returns the exponential delay before the given retry,
// 1-based: base, 2*base, 4*base, capped at BackoffMax. Pure.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	d := p.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		d = p.BackoffMax
	}
	return d
}

// Delay returns the wait before the given retry of a category,
// 1-based. Pure; jitter is applied separately by the executor.
func (p RetryPolicy) Delay(category Category, retry int) time.Duration {
	switch category {
	case CategoryNetwork:
		return p.Backoff(retry)
	case CategoryRateLimit:
		d := p.Backoff(retry + 1)
		if d > p.RateLimitWait {
			d = p.RateLimitWait
		}
		return d
	case CategoryResource:
		return p.ResourceWait
	default:
		// Parsing and workflow retry immediately; everything else
		// never retries.
		return 0
	}
}

// maxRetries is the per-category retry budget within one stage call.
func (p RetryPolicy) maxRetries(category Category) int {
	switch category {
	case CategoryNetwork:
		return p.MaxNetworkRetries
	case CategoryRateLimit, CategoryResource, CategoryParsing, CategoryWorkflow:
		return 1
	default:
		return 0
	}
}

// Executor wraps stage calls with classification and per-category
// recovery. Failed calls are retried within the category's budget;
// every failure is kept as an ErrorRecord.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Executor struct {
	policy     RetryPolicy
	classifier *Classifier
	clock      Clock
	logger     *slog.Logger

	mu      sync.Mutex
	records []ErrorRecord
}

// NewExecutor creates an executor. Nil clock means the system clock;
// nil logger means the default logger.
func NewExecutor(policy RetryPolicy, clock Clock, logger *slog.Logger) *Executor {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		policy:     policy,
		classifier: NewClassifier(clock),
		clock:      clock,
		logger:     logger.With("component", "recovery"),
	}
}

// Execute runs fn, classifying failures and retrying within the
// category's budget. The last error is returned unwrapped so typed
// errors keep flowing to the caller.
func (e *Executor) Execute(ctx context.Context, stage string, fn func(ctx context.Context) error) error {
	firstRecord := e.recordCount()

	var lastErr error
	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if retry > 0 {
				e.markRecovered(firstRecord)
			}
			return nil
		}

		record := e.classifier.Classify(lastErr)
		record.Stage = stage
		record.RetryCount = retry
		e.append(record)

		if retry >= e.policy.maxRetries(record.Category) {
			return lastErr
		}

		delay := e.policy.Delay(record.Category, retry+1)
		if record.Category == CategoryRateLimit {
			if hint, ok := retryAfterHint(lastErr); ok {
				if hint > e.policy.RateLimitWait {
					e.logger.Warn("rate limit hint exceeds cap, giving up",
						slog.Duration("hint", hint),
						slog.Duration("cap", e.policy.RateLimitWait))
					return lastErr
				}
				delay = hint
			}
		}
		if record.Category == CategoryNetwork {
			delay = jittered(delay, e.policy.Jitter)
		}

		e.logger.Warn("recovering from error",
			slog.String("stage", stage),
			slog.String("category", string(record.Category)),
			slog.String("severity", string(record.Severity)),
			slog.Int("retry", retry+1),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()))

		if delay > 0 {
			if err := e.clock.Sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
}

// Records returns a copy of every error record collected so far.
func (e *Executor) Records() []ErrorRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ErrorRecord, len(e.records))
	copy(out, e.records)
	return out
}

// Summary aggregates the collected records.
func (e *Executor) Summary() Summary {
	return Summarize(e.Records())
}

func (e *Executor) append(record ErrorRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, record)
}

func (e *Executor) recordCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

// markRecovered flags the records of the current Execute call once a
// retry has succeeded.
func (e *Executor) markRecovered(from int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := from; i < len(e.records); i++ {
		e.records[i].Recovered = true
	}
}

// retryAfterHint extracts a Retry-After hint if the error carries
// one.
func retryAfterHint(err error) (time.Duration, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) && rlErr.Hint > 0 {
		return rlErr.Hint, true
	}
	return 0, false
}

// jittered randomizes a delay by up to the given fraction in either
// direction.
func jittered(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || d <= 0 {
		return d
	}

	jitterRange := float64(d) * jitter
	offset := (rand.Float64()*2 - 1) * jitterRange // Random -jitter to +jitter
	out := time.Duration(float64(d) + offset)
	if out < 0 {
		out = d
	}
	return out
}
