// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpstreamRequestURL(t *testing.T) {
	a, err := newPageSpeedAnalyzer(pageSpeedClientSettings{
		UpstreamURL: DefaultUpstreamURL,
		APIKey:      "secret",
	}, nil)
	require.NoError(t, err)

	raw := a.UpstreamRequestURL(AnalysisRequest{TargetURL: "https://example.com/a?b=c", Strategy: Desktop})
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "www.googleapis.com", u.Host)
	assert.Equal(t, "/pagespeedonline/v5/runPagespeed", u.Path)
	q := u.Query()
	assert.Equal(t, "https://example.com/a?b=c", q.Get("url"))
	assert.Equal(t, "desktop", q.Get("strategy"))
	assert.Equal(t, "secret", q.Get("key"))
	assert.Equal(t, "PERFORMANCE", q.Get("category"))
}

func TestUpstreamRequestURLWithoutKey(t *testing.T) {
	a, err := newPageSpeedAnalyzer(pageSpeedClientSettings{UpstreamURL: DefaultUpstreamURL}, nil)
	require.NoError(t, err)

	u, err := url.Parse(a.UpstreamRequestURL(AnalysisRequest{TargetURL: "https://example.com/", Strategy: Mobile}))
	require.NoError(t, err)
	_, hasKey := u.Query()["key"]
	assert.False(t, hasKey)
	assert.Equal(t, "mobile", u.Query().Get("strategy"))
}

func TestPlaceholderAPIKeyIsIgnored(t *testing.T) {
	defer viper.Reset()
	viper.Set("apiKey", placeholderAPIKey)
	assert.Empty(t, getPageSpeedClientSettings().APIKey)

	viper.Set("apiKey", "real-key")
	assert.Equal(t, "real-key", getPageSpeedClientSettings().APIKey)
}

func TestInvalidUpstreamURL(t *testing.T) {
	_, err := newPageSpeedAnalyzer(pageSpeedClientSettings{UpstreamURL: "http://[::1"}, nil)
	assert.Error(t, err)
}

func TestPageSpeedClientPassesStatusAndBodyThrough(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400}}`))
	}))
	defer ts.Close()

	c := newPageSpeedClient(pageSpeedClientSettings{UserAgent: "test-agent"})
	res, err := c.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.JSONEq(t, `{"error":{"code":400}}`, string(res.Body))
	assert.False(t, res.FetchedAt.IsZero())
}

func TestPageSpeedAnalyzerRetriesAgainstUpstream(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://example.com/", r.URL.Query().Get("url"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"lighthouseResult":{}}`))
	}))
	defer ts.Close()

	settings := pageSpeedClientSettings{UpstreamURL: ts.URL, UserAgent: defaultUserAgent}
	sleeper := &recordingSleeper{}
	fetcher := NewRetryingFetcher(newPageSpeedClient(settings), DefaultRetryPolicy(), sleeper)
	a, err := newPageSpeedAnalyzer(settings, fetcher)
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), AnalysisRequest{TargetURL: "https://example.com/", Strategy: Mobile})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.delays)
}

func TestPageSpeedClientTransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable := ts.URL
	ts.Close()

	c := newPageSpeedClient(pageSpeedClientSettings{})
	_, err := c.Fetch(context.Background(), unreachable)
	assert.Error(t, err)
}
