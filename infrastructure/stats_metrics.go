// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "pagespeed_gatekeeper"

type statsCounter struct {
	desc  *prometheus.Desc
	value func(Stats) int64
}

// StatsCollector exposes the global Stats as Prometheus counters
type StatsCollector struct {
	counters  []statsCounter
	perDomain *prometheus.Desc
}

func newCounterDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, nil)
}

// NewStatsCollector creates a collector to register with a prometheus.Registry
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		counters: []statsCounter{
			{newCounterDesc("incoming_requests_total", "Analysis requests received"), func(s Stats) int64 { return s.IncomingRequests }},
			{newCounterDesc("rate_limited_requests_total", "Requests rejected by the client rate limiter"), func(s Stats) int64 { return s.RateLimitedRequests }},
			{newCounterDesc("validation_failures_total", "Requests with invalid parameters"), func(s Stats) int64 { return s.ValidationFailures }},
			{newCounterDesc("blocked_requests_total", "Requests for blocked target domains"), func(s Stats) int64 { return s.BlockedRequests }},
			{newCounterDesc("upstream_requests_total", "Attempts sent to the upstream API"), func(s Stats) int64 { return s.UpstreamRequests }},
			{newCounterDesc("upstream_retries_total", "Upstream attempts that were retried"), func(s Stats) int64 { return s.UpstreamRetries }},
			{newCounterDesc("upstream_failures_total", "Analyses failing after all retries"), func(s Stats) int64 { return s.UpstreamFailures }},
			{newCounterDesc("analyses_ok_total", "Reports delivered"), func(s Stats) int64 { return s.AnalysesOk }},
			{newCounterDesc("analyses_failed_total", "Analyses that ended without a report"), func(s Stats) int64 { return s.AnalysesFailed }},
			{newCounterDesc("cache_hits_total", "Reports served from the cache"), func(s Stats) int64 { return s.CacheHits }},
			{newCounterDesc("cache_misses_total", "Reports fetched upstream"), func(s Stats) int64 { return s.CacheMisses }},
		},
		perDomain: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "domain_analyses_ok_total"),
			"Reports delivered per target domain",
			[]string{"domain"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, counter := range c.counters {
		ch <- counter.desc
	}
	ch <- c.perDomain
}

// Collect implements prometheus.Collector
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := GlobalStats().GetStats()
	for _, counter := range c.counters {
		ch <- prometheus.MustNewConstMetric(counter.desc, prometheus.CounterValue, float64(counter.value(stats)))
	}
	for domain, count := range stats.AnalysesPerDomain {
		ch <- prometheus.MustNewConstMetric(c.perDomain, prometheus.CounterValue, float64(count), domain)
	}
}
