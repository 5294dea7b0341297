// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siemens/pagespeed-gatekeeper/infrastructure"
)

const testReport = `{"lighthouseResult":{"categories":{"performance":{"score":0.93}}},"loadingExperience":{}}`

var testEpoch = time.Unix(1_700_000_000, 0)

func init() {
	gin.SetMode(gin.TestMode)
}

type testClock struct {
	sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.now = c.now.Add(d)
}

type fakeAnalyzer struct {
	sync.Mutex
	response *infrastructure.UpstreamResponse
	err      error
	panics   bool
	requests []infrastructure.AnalysisRequest
}

func (a *fakeAnalyzer) Analyze(_ context.Context, request infrastructure.AnalysisRequest) (*infrastructure.UpstreamResponse, error) {
	a.Lock()
	a.requests = append(a.requests, request)
	a.Unlock()
	if a.panics {
		panic("analyzer exploded")
	}
	if a.err != nil {
		return nil, a.err
	}
	res := *a.response
	return &res, nil
}

func (a *fakeAnalyzer) calls() []infrastructure.AnalysisRequest {
	a.Lock()
	defer a.Unlock()
	return append([]infrastructure.AnalysisRequest(nil), a.requests...)
}

func okAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{response: &infrastructure.UpstreamResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(testReport),
		FetchedAt:  testEpoch,
	}}
}

type failingStore struct{}

func (failingStore) Check(context.Context, string) (infrastructure.RateLimitDecision, error) {
	return infrastructure.RateLimitDecision{}, errors.New("store unreachable")
}
func (failingStore) Sweep(time.Time) {}
func (failingStore) Limit() int      { return 10 }

func newTestServer(t *testing.T, analyzer infrastructure.Analyzer, configure ...func(*Options)) (*gin.Engine, *testClock) {
	clock := &testClock{now: testEpoch}
	options := &Options{
		Analyzer:              analyzer,
		RateLimitStore:        infrastructure.NewMemoryRateLimitStore(time.Minute, 10, clock),
		DisableRequestLogging: true,
		Clock:                 clock,
	}
	for _, c := range configure {
		c(options)
	}
	s, err := NewServerWithOptions(options)
	require.NoError(t, err)
	return s.Detail(), clock
}

func get(router *gin.Engine, target string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func analysisPath(path string, target string, params ...string) string {
	q := url.Values{}
	q.Set("url", target)
	for i := 0; i+1 < len(params); i += 2 {
		q.Set(params[i], params[i+1])
	}
	return path + "?" + q.Encode()
}

func TestSuccessfulAnalysisPassesTheReportThrough(t *testing.T) {
	analyzer := okAnalyzer()
	router, _ := newTestServer(t, analyzer)

	w := get(router, "/gatekeeper?url=example.com&strategy=mobile")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testReport, w.Body.String(), "the body is passed through byte for byte")
	assert.Contains(t, w.Body.String(), "lighthouseResult")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, fmt.Sprint(testEpoch.Add(time.Minute).Unix()), w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, publicCacheControl, w.Header().Get("Cache-Control"))
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
	assert.Equal(t, DefaultCORSOrigin, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	calls := analyzer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://example.com/", calls[0].TargetURL)
	assert.Equal(t, infrastructure.Mobile, calls[0].Strategy)
	assert.False(t, calls[0].ForceRefresh)
}

func TestBothAnalysisPathsAreServed(t *testing.T) {
	for _, path := range AnalysisPaths {
		router, _ := newTestServer(t, okAnalyzer())
		w := get(router, analysisPath(path, "https://example.com", "strategy", "desktop"))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestStrategyDefaultsToMobile(t *testing.T) {
	analyzer := okAnalyzer()
	router, _ := newTestServer(t, analyzer)

	w := get(router, analysisPath("/api/pagespeed", "example.com"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, infrastructure.Mobile, analyzer.calls()[0].Strategy)
}

func TestInvalidStrategyIsRejected(t *testing.T) {
	analyzer := okAnalyzer()
	router, _ := newTestServer(t, analyzer)

	w := get(router, "/gatekeeper?url=example.com&strategy=tablet")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Strategy must be 'mobile' or 'desktop'"}`, w.Body.String())
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, analyzer.calls())
}

func TestMissingURLIsRejected(t *testing.T) {
	router, _ := newTestServer(t, okAnalyzer())

	for _, target := range []string{"/gatekeeper", "/gatekeeper?url=", "/gatekeeper?strategy=mobile"} {
		w := get(router, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.JSONEq(t, `{"error":"URL parameter is required"}`, w.Body.String(), target)
	}
}

func TestInvalidURLsAreRejectedWithTheValidatorMessage(t *testing.T) {
	tests := []struct {
		input   string
		message string
	}{
		{"ftp://example.com", "Only HTTP and HTTPS protocols are allowed"},
		{"localhost", "Please enter a public domain name"},
		{"127.0.0.1", "Please enter a public domain name"},
		{"not a url", "URL cannot contain spaces"},
		{"https://" + strings.Repeat("a", 2048) + ".com", "URL too long. Maximum length is 2048 characters"},
		{"intranet", invalidHostnameMessage},
	}
	for _, tt := range tests {
		analyzer := okAnalyzer()
		router, _ := newTestServer(t, analyzer)

		w := get(router, analysisPath("/gatekeeper", tt.input))

		assert.Equal(t, http.StatusBadRequest, w.Code, tt.input)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tt.message, body.Error, tt.input)
		assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
		assert.Empty(t, analyzer.calls())
	}
}

func TestRateLimitRejectsTheEleventhRequest(t *testing.T) {
	analyzer := okAnalyzer()
	router, clock := newTestServer(t, analyzer)
	target := analysisPath("/gatekeeper", "example.com")

	for i := 1; i <= 10; i++ {
		w := get(router, target, "X-Real-IP", "203.0.113.7")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, fmt.Sprint(10-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	clock.Advance(15 * time.Second)
	w := get(router, target, "X-Real-IP", "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"Rate limit exceeded","message":"Too many requests. Please try again later.","resetIn":45}`, w.Body.String())
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Len(t, analyzer.calls(), 10)

	// other clients are unaffected
	w = get(router, target, "X-Real-IP", "203.0.113.8")
	assert.Equal(t, http.StatusOK, w.Code)

	clock.Advance(46 * time.Second)
	w = get(router, target, "X-Real-IP", "203.0.113.7")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitStoreFailuresAdmitRequests(t *testing.T) {
	router, _ := newTestServer(t, okAnalyzer(), func(o *Options) {
		o.RateLimitStore = failingStore{}
	})

	w := get(router, analysisPath("/gatekeeper", "example.com"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Remaining"))
	assert.Empty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRefreshDisablesCaching(t *testing.T) {
	analyzer := okAnalyzer()
	router, _ := newTestServer(t, analyzer)

	w := get(router, analysisPath("/gatekeeper", "example.com", "refresh", "true"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, noStoreCacheControl, w.Header().Get("Cache-Control"))
	assert.True(t, analyzer.calls()[0].ForceRefresh)
}

func TestCachedReportsAreMarked(t *testing.T) {
	analyzer := okAnalyzer()
	analyzer.response.FromCache = true
	router, _ := newTestServer(t, analyzer)

	w := get(router, analysisPath("/gatekeeper", "example.com"))
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
}

func TestUpstreamErrorStatusesAreMapped(t *testing.T) {
	tests := []struct {
		upstreamStatus int
		expectedStatus int
		message        string
	}{
		{http.StatusTooManyRequests, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."},
		{http.StatusBadRequest, http.StatusBadRequest, "Invalid URL or PageSpeed API error"},
		{http.StatusForbidden, http.StatusForbidden, "Failed to fetch PageSpeed data"},
		{http.StatusNotFound, http.StatusNotFound, "Failed to fetch PageSpeed data"},
	}
	for _, tt := range tests {
		analyzer := &fakeAnalyzer{response: &infrastructure.UpstreamResponse{
			StatusCode: tt.upstreamStatus,
			Body:       []byte(`{"error":{"message":"upstream says no"}}`),
		}}
		router, _ := newTestServer(t, analyzer)

		w := get(router, analysisPath("/gatekeeper", "example.com"))

		assert.Equal(t, tt.expectedStatus, w.Code)
		assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tt.message), w.Body.String())
		assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestExhaustedUpstreamYieldsBadGateway(t *testing.T) {
	analyzer := &fakeAnalyzer{err: fmt.Errorf("%w: server error: 503", infrastructure.ErrUpstreamUnavailable)}
	router, _ := newTestServer(t, analyzer)

	w := get(router, analysisPath("/gatekeeper", "example.com"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{
		"error": "Unable to analyze the website right now. This might be temporary.",
		"suggestion": "Please check that the website is accessible and try again. If the problem persists, the website might be blocking automated requests."
	}`, w.Body.String())
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotContains(t, w.Body.String(), "503")
}

func TestPanicsYieldTheInternalErrorEnvelope(t *testing.T) {
	router, _ := newTestServer(t, &fakeAnalyzer{panics: true}, func(o *Options) {
		o.CORSOrigins = []string{"https://site.example"}
	})

	w := get(router, analysisPath("/gatekeeper", "example.com"), "Origin", "https://site.example")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "exploded")
	assert.Equal(t, "https://site.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBlockedDomainsAreNotAnalyzed(t *testing.T) {
	analyzer := okAnalyzer()
	router, _ := newTestServer(t, analyzer, func(o *Options) {
		o.BlockedDomainGlobs = []string{"blocked.example", "*.blocked.example"}
	})

	for _, target := range []string{"blocked.example", "https://www.blocked.example/page", "HTTP://Sub.Blocked.Example"} {
		w := get(router, analysisPath("/gatekeeper", target))
		assert.Equal(t, http.StatusForbidden, w.Code, target)
		assert.JSONEq(t, `{"error":"Analysis of this domain is not allowed"}`, w.Body.String())
	}
	assert.Empty(t, analyzer.calls())

	w := get(router, analysisPath("/gatekeeper", "notblocked.example"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInvalidBlockedDomainGlob(t *testing.T) {
	_, err := NewServerWithOptions(&Options{
		Analyzer:           okAnalyzer(),
		RateLimitStore:     failingStore{},
		BlockedDomainGlobs: []string{"[unterminated"},
	})
	assert.Error(t, err)
}

func TestPreflight(t *testing.T) {
	for _, path := range AnalysisPaths {
		router, _ := newTestServer(t, okAnalyzer(), func(o *Options) {
			o.CORSOrigins = []string{"https://a.example", "https://b.example"}
		})
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://b.example")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, "https://b.example", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
	}
}

func TestVersionEndpoint(t *testing.T) {
	router, _ := newTestServer(t, okAnalyzer())
	w := get(router, "/version")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, infrastructure.BinaryVersion(), w.Body.String())
}

func TestStatsEndpoint(t *testing.T) {
	infrastructure.ResetGlobalStats()
	router, _ := newTestServer(t, okAnalyzer())
	get(router, analysisPath("/gatekeeper", "example.com"))
	get(router, analysisPath("/gatekeeper", "localhost"))

	w := get(router, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var res StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, infrastructure.CurrentInstance().InstanceID, res.InstanceID)
	assert.Equal(t, int64(2), res.Stats.IncomingRequests)
	assert.Equal(t, int64(1), res.Stats.ValidationFailures)
	assert.Equal(t, int64(1), res.Stats.AnalysesOk)
	assert.Equal(t, int64(1), res.Stats.AnalysesPerDomain["example.com"])
}

func TestMetricsEndpoint(t *testing.T) {
	infrastructure.ResetGlobalStats()
	router, _ := newTestServer(t, okAnalyzer())
	get(router, analysisPath("/gatekeeper", "example.com"))

	w := get(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pagespeed_gatekeeper_incoming_requests_total 1")
	assert.Contains(t, w.Body.String(), `pagespeed_gatekeeper_domain_analyses_ok_total{domain="example.com"} 1`)
}

func TestRequestIDsAreUnique(t *testing.T) {
	router, _ := newTestServer(t, okAnalyzer())
	first := get(router, "/version").Header().Get(requestIDHeader)
	second := get(router, "/version").Header().Get(requestIDHeader)
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
