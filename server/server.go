// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0
package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/glob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/siemens/pagespeed-gatekeeper/infrastructure"
)

const requestIDHeader = "X-Request-Id"
const requestLoggerKey = "requestLogger"

// AnalysisPaths are the routes serving analyses
var AnalysisPaths = []string{"/api/pagespeed", "/gatekeeper"}

// Options configures the web service instance
type Options struct {
	// CORSOrigins is the allow-list of origins. Defaults to DefaultCORSOrigin
	CORSOrigins []string
	// RateLimitStore defaults to the configured store, see infrastructure.NewRateLimitStore
	RateLimitStore infrastructure.RateLimitStore
	// Analyzer defaults to the configured chain, see infrastructure.NewCachedAnalyzer
	Analyzer              infrastructure.Analyzer
	DisableRequestLogging bool
	BlockedDomainGlobs    []string
	BindAddress           string
	// Clock defaults to the system clock
	Clock infrastructure.Clock
}

// Server starts an instance of the gatekeeper service
type Server struct {
	server             *gin.Engine
	options            *Options
	limiter            infrastructure.RateLimitStore
	analyzer           infrastructure.Analyzer
	cors               corsPolicy
	clock              infrastructure.Clock
	blockedDomainGlobs []glob.Glob
	metrics            *prometheus.Registry
}

// NewServerWithOptions creates a new server instance with custom options
func NewServerWithOptions(options *Options) (*Server, error) {
	globs, err := precompileGlobs(options.BlockedDomainGlobs)
	if err != nil {
		return nil, err
	}

	limiter := options.RateLimitStore
	if limiter == nil {
		if limiter, err = infrastructure.NewRateLimitStore(); err != nil {
			return nil, err
		}
	}

	analyzer := options.Analyzer
	if analyzer == nil {
		if analyzer, err = infrastructure.NewCachedAnalyzer(); err != nil {
			return nil, err
		}
	}

	clock := options.Clock
	if clock == nil {
		clock = infrastructure.SystemClock
	}

	server := &Server{
		options:            options,
		limiter:            limiter,
		analyzer:           analyzer,
		cors:               newCORSPolicy(options.CORSOrigins),
		clock:              clock,
		blockedDomainGlobs: globs,
		metrics:            prometheus.NewRegistry(),
	}
	server.server = server.configureGin()
	if err := server.metrics.Register(infrastructure.NewStatsCollector()); err != nil {
		return nil, err
	}
	server.setupRoutes()
	return server, nil
}

// NewServer creates a new server instance from the configuration
func NewServer() (*Server, error) {
	return NewServerWithOptions(&Options{})
}

func precompileGlobs(globs []string) ([]glob.Glob, error) {
	var res []glob.Glob
	for _, pattern := range globs {
		if pattern == "" {
			continue
		}
		// '.' as a separator would stop '*' from matching subdomains
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked domain glob '%v': %w", pattern, err)
		}
		res = append(res, g)
	}
	return res, nil
}

func (s *Server) configureGin() *gin.Engine {
	e := gin.New()
	if s.options.DisableRequestLogging {
		log.Info().Msg("Disabling request logging")
	} else {
		e.Use(gin.Logger())
	}
	e.Use(requestID(), gin.CustomRecovery(s.recoverWithEnvelope), s.cors.middleware())
	return e
}

// Detail exposes a *gin.Engine router for testing purposes
func (s *Server) Detail() *gin.Engine {
	return s.server
}

// Run starts the service instance (binds a port)
// set the PORT environment variable for a different port to bind at
func (s *Server) Run() {
	var err error
	if s.options.BindAddress != "" {
		// custom bind address, e.g. 0.0.0.0:4444
		err = s.server.Run(s.options.BindAddress)
	} else {
		// default behavior: listen and serve on 0.0.0.0:${PORT:-8080}
		err = s.server.Run()
	}
	if err != nil {
		log.Fatal().Msgf("Could not start the server: %v", err)
	}
}

func (s *Server) setupRoutes() {
	log.Info().Msgf("Using CORS origins: %v", s.cors.allowedOrigins)
	if len(s.blockedDomainGlobs) > 0 {
		log.Info().Msgf("Blocked domain globs: %v", len(s.blockedDomainGlobs))
	}

	for _, path := range AnalysisPaths {
		s.server.GET(path, s.analyze)
		s.server.OPTIONS(path, preflight)
	}

	s.server.GET("/version", s.getVersion)
	s.server.GET("/stats", s.getStats)
	s.server.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))
}

func (s *Server) analyze(c *gin.Context) {
	stats := infrastructure.GlobalStats()
	stats.OnIncomingRequest()
	logger := requestLogger(c)

	identity := clientIdentity(c)
	if !s.admit(c, identity) {
		return
	}

	rawURL := c.Query("url")
	if rawURL == "" {
		stats.OnValidationFailure()
		writeError(c, invalidInput(missingURLMessage))
		return
	}

	validation := infrastructure.ValidateURL(rawURL)
	if !validation.Valid {
		stats.OnValidationFailure()
		logger.Debug().Msgf("Rejected url '%v': %v", infrastructure.SanitizeUserLogInput(rawURL), validation.Kind)
		writeError(c, validationFailure(validation))
		return
	}

	strategy, ok := infrastructure.ParseStrategy(c.Query("strategy"))
	if !ok {
		stats.OnValidationFailure()
		writeError(c, invalidInput(invalidStrategyMessage))
		return
	}

	if s.isBlocked(validation.Sanitized) {
		stats.OnBlocked()
		logger.Info().Msgf("Blocked analysis of '%v'", infrastructure.SanitizeUserLogInput(validation.Sanitized))
		writeError(c, blocked())
		return
	}

	request := infrastructure.AnalysisRequest{
		TargetURL:      validation.Sanitized,
		Strategy:       strategy,
		ForceRefresh:   c.Query("refresh") == "true",
		ClientIdentity: identity,
	}

	res, err := s.analyzer.Analyze(c.Request.Context(), request)
	if err != nil {
		stats.OnAnalysisFailed()
		logger.Error().Err(err).Msgf("Analysis of '%v' (%v) failed", infrastructure.SanitizeUserLogInput(request.TargetURL), request.Strategy)
		writeError(c, upstreamUnavailable())
		return
	}

	if !res.OK() {
		stats.OnAnalysisFailed()
		logger.Error().Msgf("PageSpeed API error %v: %v", res.StatusCode, infrastructure.SanitizeUserLogInput(string(res.Body)))
		writeError(c, upstreamRejected(res.StatusCode))
		return
	}

	stats.OnAnalysisOk(infrastructure.DomainOf(request.TargetURL))
	writeReport(c, res, request.ForceRefresh)
}

// admit consults the rate limiter, writing the rejection if the identity is over its limit.
// A failing store admits the request, reporting the full limit as remaining.
func (s *Server) admit(c *gin.Context, identity string) bool {
	decision, err := s.limiter.Check(c.Request.Context(), identity)
	if err != nil {
		requestLogger(c).Error().Err(err).Msg("Rate limit check failed, admitting the request")
		setRateLimitHeaders(c, &infrastructure.RateLimitDecision{
			Allowed:   true,
			Limit:     s.limiter.Limit(),
			Remaining: s.limiter.Limit(),
		})
		return true
	}

	setRateLimitHeaders(c, &decision)
	if !decision.Allowed {
		infrastructure.GlobalStats().OnRateLimited()
		writeError(c, rateLimited(decision.ResetIn(s.clock.Now())))
		return false
	}
	return true
}

func (s *Server) isBlocked(targetURL string) bool {
	if len(s.blockedDomainGlobs) == 0 {
		return false
	}
	host := infrastructure.DomainOf(targetURL)
	for _, g := range s.blockedDomainGlobs {
		if g.Match(host) {
			return true
		}
	}
	return false
}

func (s *Server) recoverWithEnvelope(c *gin.Context, recovered any) {
	requestLogger(c).Error().Msgf("Recovered from a panic: %v", recovered)
	s.cors.apply(c)
	writeError(c, internalError())
}

func (s *Server) getVersion(c *gin.Context) {
	c.String(http.StatusOK, infrastructure.BinaryVersion())
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		InstanceInfo: infrastructure.CurrentInstance(),
		Stats:        infrastructure.GlobalStats().GetStats(),
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := infrastructure.NewRequestID()
		c.Writer.Header().Set(requestIDHeader, id)
		logger := log.With().Str("request_id", id).Logger()
		c.Set(requestLoggerKey, &logger)
		c.Next()
	}
}

func requestLogger(c *gin.Context) *zerolog.Logger {
	if l, ok := c.Get(requestLoggerKey); ok {
		return l.(*zerolog.Logger)
	}
	return &log.Logger
}
