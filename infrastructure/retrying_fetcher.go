// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const defaultMaxRetries = 2
const defaultRetryBaseDelay = 2 * time.Second

// ErrUpstreamUnavailable is returned once all attempts to reach the upstream API failed
var ErrUpstreamUnavailable = errors.New("upstream analysis API unavailable")

// RetryPolicy configures the RetryingFetcher
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int
	// BaseDelay is doubled after every failed attempt
	BaseDelay time.Duration
	// PerAttemptTimeout bounds a single attempt. Zero means no timeout
	PerAttemptTimeout time.Duration
}

// DefaultRetryPolicy retries twice, after 2s and 4s, without timeouts
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: defaultMaxRetries,
		BaseDelay:  defaultRetryBaseDelay,
	}
}

// DelayAfter returns the backoff delay following the failed attempt (0-based)
func (p RetryPolicy) DelayAfter(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

func fetchRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	if viper.IsSet("maxRetries") {
		if r := viper.GetInt("maxRetries"); r >= 0 {
			p.MaxRetries = r
		}
	}
	p.BaseDelay = durationSetting("retryBaseDelay", defaultRetryBaseDelay)
	p.PerAttemptTimeout = durationSetting("perAttemptTimeout", 0)
	log.Info().Msgf("Upstream retry policy: %v retries, base delay %v, per-attempt timeout %v", p.MaxRetries, p.BaseDelay, p.PerAttemptTimeout)
	return p
}

// Sleeper suspends the retry loop between attempts
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

// Sleep waits for d or until ctx is done
func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetcher performs a GET on the fully-formed upstream URL
type Fetcher interface {
	Fetch(ctx context.Context, upstreamURL string) (*UpstreamResponse, error)
}

// RetryingFetcher retries server errors and transport failures with exponential backoff.
// Successful and client error responses are returned immediately.
type RetryingFetcher struct {
	fetcher Fetcher
	policy  RetryPolicy
	sleeper Sleeper
}

// NewRetryingFetcher wraps a single-attempt fetcher. A nil sleeper uses real timers
func NewRetryingFetcher(fetcher Fetcher, policy RetryPolicy, sleeper Sleeper) *RetryingFetcher {
	if sleeper == nil {
		sleeper = timerSleeper{}
	}
	return &RetryingFetcher{
		fetcher: fetcher,
		policy:  policy,
		sleeper: sleeper,
	}
}

// Fetch runs up to MaxRetries+1 attempts
func (r *RetryingFetcher) Fetch(ctx context.Context, upstreamURL string) (*UpstreamResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		res, err := r.attempt(ctx, upstreamURL)
		if err == nil && (res.OK() || res.isClientError()) {
			return res, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server error: %v", res.StatusCode)
		}

		if attempt == r.policy.MaxRetries {
			break
		}

		delay := r.policy.DelayAfter(attempt)
		log.Warn().Msgf("PageSpeed API attempt %v failed (%v), retrying in %v", attempt+1, lastErr, delay)
		GlobalStats().OnUpstreamRetry()
		if err := r.sleeper.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: retry aborted: %v", ErrUpstreamUnavailable, err)
		}
	}

	GlobalStats().OnUpstreamFailure()
	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

func (r *RetryingFetcher) attempt(ctx context.Context, upstreamURL string) (*UpstreamResponse, error) {
	if r.policy.PerAttemptTimeout <= 0 {
		return r.fetcher.Fetch(ctx, upstreamURL)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.policy.PerAttemptTimeout)
	defer cancel()
	return r.fetcher.Fetch(attemptCtx, upstreamURL)
}
