// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/platinummonkey/go-concurrency-limits/core"
	"github.com/platinummonkey/go-concurrency-limits/limiter"
	"github.com/platinummonkey/go-concurrency-limits/strategy"
)

const defaultMaxConcurrentUpstreamRequests = 64

// ErrShortCircuited is returned when the concurrency guard refuses a request
var ErrShortCircuited = errors.New("short circuited upstream request")

// CCLimitedAnalyzer is a concurrency-limited wrapper around an Analyzer
type CCLimitedAnalyzer struct {
	guard core.Limiter
	next  Analyzer
}

// NewCCLimitedAnalyzer allows at most maxConcurrency analyses at a time, blocking the rest
func NewCCLimitedAnalyzer(maxConcurrency int, next Analyzer) *CCLimitedAnalyzer {
	limitStrategy := strategy.NewSimpleStrategy(maxConcurrency)

	defaultLimiter, err := limiter.NewDefaultLimiterWithDefaults(
		"upstream_analysis_limit",
		limitStrategy,
		nil, // limit.BuiltinLimitLogger{}
		core.EmptyMetricRegistryInstance,
	)
	if err != nil {
		log.Fatal().Msgf("Error creating limiter err=%v", err)
	}
	return &CCLimitedAnalyzer{
		guard: limiter.NewBlockingLimiter(defaultLimiter, 0, nil /*logger*/),
		next:  next,
	}
}

func getMaxConcurrentUpstreamRequests() int {
	maxConcurrency := viper.GetInt("maxConcurrentUpstreamRequests")
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrentUpstreamRequests
	}
	log.Info().Msgf("CCLimitedAnalyzer is using max upstream concurrency of %v", maxConcurrency)
	return maxConcurrency
}

// Analyze acquires a concurrency token and analyzes
func (a *CCLimitedAnalyzer) Analyze(ctx context.Context, request AnalysisRequest) (*UpstreamResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	token, ok := a.guard.Acquire(ctx)
	if !ok {
		log.Warn().Msgf("guarded request short circuited for url '%v'", sanitizeUserLogInput(request.TargetURL))
		if token != nil {
			token.OnDropped()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrShortCircuited
	}

	res, err := a.next.Analyze(ctx, request)
	if err != nil && ctx.Err() != nil {
		// client probably disconnected
		token.OnDropped()
		return nil, err
	}
	token.OnSuccess()
	return res, err
}
