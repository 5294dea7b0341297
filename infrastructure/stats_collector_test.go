// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectingFromSeveralGoroutines(t *testing.T) {
	ResetGlobalStats()
	const goroutines = 32
	const requests = 10000
	addStats(goroutines, requests)
	expectedCount := int64(goroutines * requests)
	s := GlobalStats().GetStats()
	assert.Equal(t, Stats{
		IncomingRequests:    expectedCount,
		RateLimitedRequests: expectedCount,
		ValidationFailures:  expectedCount,
		BlockedRequests:     expectedCount,
		UpstreamRequests:    expectedCount,
		UpstreamRetries:     expectedCount,
		UpstreamFailures:    expectedCount,
		AnalysesOk:          expectedCount,
		AnalysesFailed:      expectedCount,
		CacheHits:           expectedCount,
		CacheMisses:         expectedCount,
		AnalysesPerDomain: map[string]int64{
			"example.com": expectedCount,
		},
	}, s)
}

func TestStatsCopiesAreIndependent(t *testing.T) {
	ResetGlobalStats()
	GlobalStats().OnAnalysisOk("example.com")
	s := GlobalStats().GetStats()
	s.AnalysesPerDomain["example.com"] = 42
	assert.Equal(t, int64(1), GlobalStats().GetStats().AnalysesPerDomain["example.com"])
}

func TestStatsSerialization(t *testing.T) {
	ResetGlobalStats()
	GlobalStats().OnIncomingRequest()
	GlobalStats().OnAnalysisOk("example.com")

	bytes, err := json.Marshal(GlobalStats().GetStats())
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes, &raw))
	assert.Equal(t, float64(1), raw["incoming_requests"])
	assert.Equal(t, map[string]interface{}{"example.com": float64(1)}, raw["analyses_per_domain"])
}

func TestStatsCollectorExposesCounters(t *testing.T) {
	ResetGlobalStats()
	GlobalStats().OnIncomingRequest()
	GlobalStats().OnIncomingRequest()
	GlobalStats().OnAnalysisOk("example.com")

	registry := prometheus.NewRegistry()
	require.NoError(t, registry.Register(NewStatsCollector()))

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			values[family.GetName()] += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), values["pagespeed_gatekeeper_incoming_requests_total"])
	assert.Equal(t, float64(1), values["pagespeed_gatekeeper_domain_analyses_ok_total"])
	assert.Equal(t, float64(0), values["pagespeed_gatekeeper_upstream_retries_total"])
}

func addStats(numGoroutines int, count int) {
	var wg sync.WaitGroup

	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < count; n++ {
				s := GlobalStats()
				s.OnIncomingRequest()
				s.OnRateLimited()
				s.OnValidationFailure()
				s.OnBlocked()
				s.OnUpstreamRequest()
				s.OnUpstreamRetry()
				s.OnUpstreamFailure()
				s.OnAnalysisOk("example.com")
				s.OnAnalysisFailed()
				s.OnCacheHit()
				s.OnCacheMiss()
			}
		}()
	}
	wg.Wait()
}
