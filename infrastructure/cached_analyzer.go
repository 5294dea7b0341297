// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/singleflight"
)

// matches the public s-maxage of successful responses
const defaultCacheExpirationInterval = 5 * time.Minute
const defaultCacheCleanupInterval = 10 * time.Minute
const defaultCacheMaxSize int64 = 100_000_000
const defaultCacheNumCounters int64 = 1_000_000

// CachedAnalyzer serves repeated analyses from memory and coalesces concurrent identical ones
type CachedAnalyzer struct {
	cache    reportCache
	inFlight singleflight.Group
	next     Analyzer
}

type cacheSettings struct {
	cacheUseRistretto       bool
	cacheExpirationInterval time.Duration
	cacheCleanupInterval    time.Duration
	cacheMaxSize            int64
	cacheNumCounters        int64
}

// NewCachedAnalyzer creates the full analyzer chain from the configuration:
// cache -> concurrency guard -> per-domain rate limit -> upstream with retries
func NewCachedAnalyzer() (*CachedAnalyzer, error) {
	upstream, err := NewPageSpeedAnalyzer()
	if err != nil {
		return nil, err
	}
	domainLimited := NewDomainRateLimitedAnalyzer(getDomainRatePerSecond(), upstream)
	ccLimited := NewCCLimitedAnalyzer(getMaxConcurrentUpstreamRequests(), domainLimited)
	return newCachedAnalyzer(fetchCacheSettings(), ccLimited), nil
}

func newCachedAnalyzer(settings cacheSettings, next Analyzer) *CachedAnalyzer {
	return &CachedAnalyzer{
		cache: newCache(settings),
		next:  next,
	}
}

func fetchCacheSettings() cacheSettings {
	s := cacheSettings{
		cacheExpirationInterval: durationSetting("cacheExpirationInterval", defaultCacheExpirationInterval),
		cacheCleanupInterval:    durationSetting("cacheCleanupInterval", defaultCacheCleanupInterval),
		cacheUseRistretto:       viper.GetBool("cacheUseRistretto"),
		cacheMaxSize:            defaultCacheMaxSize,
		cacheNumCounters:        defaultCacheNumCounters,
	}
	if cms := viper.GetInt64("cacheMaxSize"); cms > 0 {
		s.cacheMaxSize = cms
	}
	if cnc := viper.GetInt64("cacheNumCounters"); cnc > 0 {
		s.cacheNumCounters = cnc
	}

	log.Info().Msgf("cacheExpirationInterval: %v", s.cacheExpirationInterval)
	log.Info().Msgf("cacheCleanupInterval: %v", s.cacheCleanupInterval)
	log.Info().Msgf("cacheUseRistretto: %v", s.cacheUseRistretto)
	if s.cacheUseRistretto {
		log.Info().Msgf("cacheMaxSize: %v", s.cacheMaxSize)
		log.Info().Msgf("cacheNumCounters: %v", s.cacheNumCounters)
	}
	return s
}

func cacheKey(request AnalysisRequest) string {
	return string(request.Strategy) + "|" + request.TargetURL
}

// Analyze returns a cached report unless a refresh is forced. Only 2xx reports are cached
func (c *CachedAnalyzer) Analyze(ctx context.Context, request AnalysisRequest) (*UpstreamResponse, error) {
	key := cacheKey(request)

	if !request.ForceRefresh {
		if res, found := c.cache.Get(key); found {
			GlobalStats().OnCacheHit()
			hit := *res
			hit.FromCache = true
			return &hit, nil
		}
	}
	GlobalStats().OnCacheMiss()

	// refreshes are not shared with concurrent non-refresh requests
	flightKey := key
	if request.ForceRefresh {
		flightKey = "refresh|" + key
	}
	flight := c.inFlight.DoChan(flightKey, func() (interface{}, error) {
		// shared by all waiters: a disconnecting caller must not cancel it
		res, err := c.next.Analyze(context.WithoutCancel(ctx), request)
		if err != nil {
			return nil, err
		}
		if res.OK() {
			c.cache.Set(key, res)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-flight:
		if result.Err != nil {
			return nil, result.Err
		}
		res := *result.Val.(*UpstreamResponse)
		return &res, nil
	}
}
