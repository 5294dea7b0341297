// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import "sync"

// Stats of the gatekeeper service
type Stats struct {
	IncomingRequests    int64 `json:"incoming_requests"`
	RateLimitedRequests int64 `json:"rate_limited_requests"`
	ValidationFailures  int64 `json:"validation_failures"`
	BlockedRequests     int64 `json:"blocked_requests"`
	UpstreamRequests    int64 `json:"upstream_requests"`
	UpstreamRetries     int64 `json:"upstream_retries"`
	UpstreamFailures    int64 `json:"upstream_failures"`
	AnalysesOk          int64 `json:"analyses_ok"`
	AnalysesFailed      int64 `json:"analyses_failed"`
	CacheHits           int64 `json:"cache_hits"`
	CacheMisses         int64 `json:"cache_misses"`
	// AnalysesPerDomain counts successful analyses by target domain
	AnalysesPerDomain map[string]int64 `json:"analyses_per_domain"`
}

type statsState struct {
	sync.RWMutex
	s Stats
}

var globalStatsState = newStatsState()
var globalStatsMutex sync.RWMutex

// GlobalStats returns the global handler to the stats collector
func GlobalStats() *statsState {
	globalStatsMutex.RLock()
	defer globalStatsMutex.RUnlock()
	return globalStatsState
}

// ResetGlobalStats the global stats
func ResetGlobalStats() {
	globalStatsMutex.Lock()
	globalStatsState = newStatsState()
	globalStatsMutex.Unlock()
}

func (stats *statsState) inc(counter *int64) {
	stats.Lock()
	*counter++
	stats.Unlock()
}

// OnIncomingRequest called on an incoming analysis request
func (stats *statsState) OnIncomingRequest() { stats.inc(&stats.s.IncomingRequests) }

// OnRateLimited called when a client exceeded its quota
func (stats *statsState) OnRateLimited() { stats.inc(&stats.s.RateLimitedRequests) }

// OnValidationFailure called on rejected request parameters
func (stats *statsState) OnValidationFailure() { stats.inc(&stats.s.ValidationFailures) }

// OnBlocked called when the target domain is blocked
func (stats *statsState) OnBlocked() { stats.inc(&stats.s.BlockedRequests) }

// OnUpstreamRequest called on every upstream attempt
func (stats *statsState) OnUpstreamRequest() { stats.inc(&stats.s.UpstreamRequests) }

// OnUpstreamRetry called when an upstream attempt is retried
func (stats *statsState) OnUpstreamRetry() { stats.inc(&stats.s.UpstreamRetries) }

// OnUpstreamFailure called when all upstream attempts failed
func (stats *statsState) OnUpstreamFailure() { stats.inc(&stats.s.UpstreamFailures) }

// OnAnalysisFailed called when a request ends without a report
func (stats *statsState) OnAnalysisFailed() { stats.inc(&stats.s.AnalysesFailed) }

// OnCacheHit called when a report was served from the cache
func (stats *statsState) OnCacheHit() { stats.inc(&stats.s.CacheHits) }

// OnCacheMiss called when a report had to be fetched
func (stats *statsState) OnCacheMiss() { stats.inc(&stats.s.CacheMisses) }

// OnAnalysisOk called when a report was delivered for the domain
func (stats *statsState) OnAnalysisOk(domain string) {
	stats.Lock()
	stats.s.AnalysesOk++
	stats.s.AnalysesPerDomain[domain]++
	stats.Unlock()
}

// GetStats returns a copy of the stats
func (stats *statsState) GetStats() Stats {
	stats.RLock()
	defer stats.RUnlock()
	res := stats.s
	res.AnalysesPerDomain = make(map[string]int64, len(stats.s.AnalysesPerDomain))
	for domain, count := range stats.s.AnalysesPerDomain {
		res.AnalysesPerDomain[domain] = count
	}
	return res
}

func newStatsState() *statsState {
	return &statsState{
		s: Stats{AnalysesPerDomain: map[string]int64{}},
	}
}
