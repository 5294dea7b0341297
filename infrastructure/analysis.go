// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"net/http"
	"time"
)

// Strategy is the device profile the upstream analysis runs under
type Strategy string

const (
	// Mobile emulates a mobile device (the default)
	Mobile Strategy = "mobile"
	// Desktop emulates a desktop browser
	Desktop Strategy = "desktop"
)

// Strategies lists all supported strategies in their canonical order
var Strategies = []Strategy{Mobile, Desktop}

// ParseStrategy maps a query value to a Strategy. An empty value defaults to Mobile
func ParseStrategy(value string) (Strategy, bool) {
	switch Strategy(value) {
	case "":
		return Mobile, true
	case Mobile, Desktop:
		return Strategy(value), true
	}
	return "", false
}

// AnalysisRequest is the per-request bundle threaded through the analyzer chain
type AnalysisRequest struct {
	// TargetURL is the validated, canonical URL to analyze
	TargetURL      string
	Strategy       Strategy
	ForceRefresh   bool
	ClientIdentity string
}

// UpstreamResponse holds one response of the upstream analysis API
type UpstreamResponse struct {
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
	// FromCache is set when the response was served by the CachedAnalyzer
	FromCache bool
}

// OK reports a 2xx status
func (r *UpstreamResponse) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

func (r *UpstreamResponse) isClientError() bool {
	return r.StatusCode >= http.StatusBadRequest && r.StatusCode < http.StatusInternalServerError
}

// Analyzer interface that all layers of the analysis chain conform to
type Analyzer interface {
	Analyze(ctx context.Context, request AnalysisRequest) (*UpstreamResponse, error)
}

// Clock abstracts the wall clock for time-dependent state
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// SystemClock is the real wall clock
var SystemClock Clock = systemClock{}
