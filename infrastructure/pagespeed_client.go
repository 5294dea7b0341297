// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DefaultUpstreamURL is the PageSpeed Insights API v5 endpoint
const DefaultUpstreamURL = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

const placeholderAPIKey = "your_api_key_here"
const defaultUserAgent = "pagespeed-gatekeeper/1.0"
const defaultMaxRedirectsCount = 10

type pageSpeedClientSettings struct {
	UpstreamURL          string
	APIKey               string
	ProxyURL             string
	UserAgent            string
	SkipCertificateCheck bool
	RetryPolicy          RetryPolicy
}

// PageSpeedClient performs single attempts against the upstream API
type PageSpeedClient struct {
	client   *resty.Client
	settings pageSpeedClientSettings
}

// PageSpeedAnalyzer builds upstream requests and runs them with retries
type PageSpeedAnalyzer struct {
	upstreamURL *url.URL
	apiKey      string
	fetcher     Fetcher
}

func getPageSpeedClientSettings() pageSpeedClientSettings {
	s := pageSpeedClientSettings{
		UpstreamURL: DefaultUpstreamURL,
		UserAgent:   defaultUserAgent,
		RetryPolicy: fetchRetryPolicy(),
	}

	if v := viper.GetString("upstreamURL"); v != "" {
		s.UpstreamURL = v
	}
	if key := viper.GetString("apiKey"); key != "" && key != placeholderAPIKey {
		s.APIKey = key
	}
	if proxyURL := viper.GetString("proxy"); proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			log.Warn().Msgf("Rejected proxyURL: %v", proxyURL)
		} else {
			log.Info().Msgf("PageSpeedClient is using a proxy: %v", proxyURL)
			s.ProxyURL = proxyURL
		}
	}
	if v := viper.GetString("HTTPClient.userAgent"); v != "" {
		s.UserAgent = v
	}
	s.SkipCertificateCheck = viper.GetBool("HTTPClient.skipCertificateCheck")

	log.Info().Msgf("Upstream URL: %v", s.UpstreamURL)
	log.Info().Msgf("Upstream API key configured: %v", s.APIKey != "")
	log.Info().Msgf("HTTP client UserAgent: %v", s.UserAgent)
	log.Info().Msgf("HTTP client SkipCertificateCheck: %v", s.SkipCertificateCheck)
	return s
}

// NewPageSpeedAnalyzer instantiates the upstream analyzer from the configuration
func NewPageSpeedAnalyzer() (*PageSpeedAnalyzer, error) {
	settings := getPageSpeedClientSettings()
	client := newPageSpeedClient(settings)
	return newPageSpeedAnalyzer(settings, NewRetryingFetcher(client, settings.RetryPolicy, nil))
}

func newPageSpeedAnalyzer(settings pageSpeedClientSettings, fetcher Fetcher) (*PageSpeedAnalyzer, error) {
	u, err := url.Parse(settings.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL '%v': %w", settings.UpstreamURL, err)
	}
	return &PageSpeedAnalyzer{
		upstreamURL: u,
		apiKey:      settings.APIKey,
		fetcher:     fetcher,
	}, nil
}

// UpstreamRequestURL returns the upstream URL for the analysis of request
func (a *PageSpeedAnalyzer) UpstreamRequestURL(request AnalysisRequest) string {
	u := *a.upstreamURL
	q := u.Query()
	q.Set("url", request.TargetURL)
	q.Set("strategy", string(request.Strategy))
	if a.apiKey != "" {
		q.Set("key", a.apiKey)
	}
	q.Set("category", "PERFORMANCE")
	u.RawQuery = q.Encode()
	return u.String()
}

// Analyze calls the upstream API for the request
func (a *PageSpeedAnalyzer) Analyze(ctx context.Context, request AnalysisRequest) (*UpstreamResponse, error) {
	return a.fetcher.Fetch(ctx, a.UpstreamRequestURL(request))
}

func newPageSpeedClient(settings pageSpeedClientSettings) *PageSpeedClient {
	return &PageSpeedClient{
		client:   buildClient(settings),
		settings: settings,
	}
}

// Fetch performs one GET request. Non-2xx statuses are not errors
func (c *PageSpeedClient) Fetch(ctx context.Context, upstreamURL string) (*UpstreamResponse, error) {
	GlobalStats().OnUpstreamRequest()

	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.settings.UserAgent).
		Get(upstreamURL)
	if err != nil {
		return nil, err
	}

	return &UpstreamResponse{
		StatusCode: response.StatusCode(),
		Body:       response.Body(),
		FetchedAt:  time.Now(),
	}, nil
}

// analyses can take tens of seconds: no client timeout, see RetryPolicy.PerAttemptTimeout
func buildClient(settings pageSpeedClientSettings) *resty.Client {
	client := resty.New()
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(defaultMaxRedirectsCount))
	if settings.ProxyURL != "" {
		client.SetProxy(settings.ProxyURL)
	}
	if settings.SkipCertificateCheck {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return client
}
