// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// UluleRateLimitStore delegates fixed-window counting to github.com/ulule/limiter
type UluleRateLimitStore struct {
	limiter *limiter.Limiter
}

// NewUluleRateLimitStore creates a store backed by ulule's in-memory driver
func NewUluleRateLimitStore(window time.Duration, maxRequests int) *UluleRateLimitStore {
	rate := limiter.Rate{
		Period: window,
		Limit:  int64(maxRequests),
	}
	return &UluleRateLimitStore{
		limiter: limiter.New(memory.NewStore(), rate),
	}
}

// Check counts the request and maps ulule's context to a decision
func (s *UluleRateLimitStore) Check(ctx context.Context, identity string) (RateLimitDecision, error) {
	lc, err := s.limiter.Get(ctx, identity)
	if err != nil {
		return RateLimitDecision{}, fmt.Errorf("ulule limiter: %w", err)
	}
	remaining := int(lc.Remaining)
	if lc.Reached {
		remaining = 0
	}
	return RateLimitDecision{
		Allowed:   !lc.Reached,
		Limit:     int(lc.Limit),
		Remaining: remaining,
		// ulule truncates the window end to whole seconds
		ResetAt:   time.Unix(lc.Reset, 0).Add(time.Second),
	}, nil
}

// Sweep is a no-op: the ulule memory store expires its own counters
func (s *UluleRateLimitStore) Sweep(time.Time) {}

// Limit returns the maximum number of requests per window
func (s *UluleRateLimitStore) Limit() int {
	return int(s.limiter.Rate.Limit)
}
