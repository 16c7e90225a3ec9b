// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resilience provides the retry-with-backoff primitive shared by
// every upstream-calling component (the GA4 client, the vector index
// client, the embedding model client). Adapted from weaviate.ResilientClient.Execute, trimmed to a
// plain retry/backoff loop — full circuit-breaker/health-check state is
// left to the caller if it needs one.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Classifier decides whether a failed attempt should be retried.
type Classifier func(err error) bool

// Policy configures Execute's retry loop.
type Policy struct {
	MaxAttempts int           // total attempts including the first; <= 0 means a single attempt
	BaseDelay   time.Duration // upper bound of the jittered delay before the first retry; default 500ms
	MaxDelay    time.Duration // backoff cap
	Retryable   Classifier
}

// DefaultGA4Policy is exponential backoff starting at 500ms, capped at 5
// attempts.
func DefaultGA4Policy(retryable Classifier) Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Retryable:   retryable,
	}
}

// Execute runs fn, retrying per policy on retryable failures with
// exponential backoff and jitter. It returns the last error if every
// attempt fails, or immediately on a non-retryable error.
func Execute(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts(policy); attempt++ {
		if attempt > 0 {
			delay := backoff(policy, attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if policy.Retryable != nil && !policy.Retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func maxAttempts(p Policy) int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func backoff(p Policy, attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}
