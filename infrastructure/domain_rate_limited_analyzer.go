// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

// DomainRateLimitedAnalyzer bounds how often a single target domain gets analyzed,
// as every upstream analysis loads the target site
type DomainRateLimitedAnalyzer struct {
	domains       sync.Map // domain -> *rate.Limiter
	ratePerSecond rate.Limit
	next          Analyzer
}

// NewDomainRateLimitedAnalyzer wraps next. A zero rate disables limiting
func NewDomainRateLimitedAnalyzer(ratePerSecond rate.Limit, next Analyzer) *DomainRateLimitedAnalyzer {
	if ratePerSecond > 0 {
		log.Info().Msgf("Limiting upstream analyses per target domain to %v/s", ratePerSecond)
	}
	return &DomainRateLimitedAnalyzer{
		ratePerSecond: ratePerSecond,
		next:          next,
	}
}

func getDomainRatePerSecond() rate.Limit {
	var ratePerSecond rate.Limit = 0
	if r := viper.GetFloat64("upstreamRequestsPerSecondPerDomain"); r > 0 {
		ratePerSecond = rate.Limit(r)
	}
	return ratePerSecond
}

// Analyze waits for the target domain's limiter, then analyzes
func (a *DomainRateLimitedAnalyzer) Analyze(ctx context.Context, request AnalysisRequest) (*UpstreamResponse, error) {
	if a.ratePerSecond == 0 {
		return a.next.Analyze(ctx, request)
	}

	key := DomainOf(request.TargetURL)
	limiter, _ := a.domains.LoadOrStore(key, rate.NewLimiter(a.ratePerSecond, 1 /*burst*/))
	if err := limiter.(*rate.Limiter).Wait(ctx); err != nil {
		return nil, fmt.Errorf("domain rate limiter aborted: %w", err)
	}
	return a.next.Analyze(ctx, request)
}
