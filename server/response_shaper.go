// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/siemens/pagespeed-gatekeeper/infrastructure"
)

const (
	noStoreCacheControl = "no-cache, no-store, must-revalidate"
	publicCacheControl  = "public, s-maxage=300, stale-while-revalidate=600"
)

const (
	missingURLMessage          = "URL parameter is required"
	invalidHostnameMessage     = "Invalid hostname"
	invalidStrategyMessage     = "Strategy must be 'mobile' or 'desktop'"
	blockedDomainMessage       = "Analysis of this domain is not allowed"
	rateLimitExceededMessage   = "Rate limit exceeded"
	rateLimitExceededDetail    = "Too many requests. Please try again later."
	upstreamRateLimitedMessage = "Rate limit exceeded. Please try again later."
	upstreamBadRequestMessage  = "Invalid URL or PageSpeed API error"
	upstreamFailedMessage      = "Failed to fetch PageSpeed data"
	upstreamUnavailableMessage = "Unable to analyze the website right now. This might be temporary."
	upstreamUnavailableHint    = "Please check that the website is accessible and try again. If the problem persists, the website might be blocking automated requests."
	internalServerErrorMessage = "Internal server error"
)

// ErrorKind classifies every failure the gatekeeper reports to its clients
type ErrorKind int

const (
	// InvalidInput covers missing or invalid query parameters
	InvalidInput ErrorKind = iota
	// RateLimited means the client identity exhausted its window
	RateLimited
	// Blocked means the target domain is on the blocklist
	Blocked
	// UpstreamRejected means the upstream API answered with a non-2xx status
	UpstreamRejected
	// UpstreamUnavailable means all attempts to reach the upstream API failed
	UpstreamUnavailable
	// Internal is anything unexpected
	Internal
)

var errorKindNames = map[ErrorKind]string{
	InvalidInput:        "invalid_input",
	RateLimited:         "rate_limited",
	Blocked:             "blocked",
	UpstreamRejected:    "upstream_rejected",
	UpstreamUnavailable: "upstream_unavailable",
	Internal:            "internal",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// StatusFor maps an error kind to the outward HTTP status.
// upstreamStatus is only consulted for UpstreamRejected.
func StatusFor(kind ErrorKind, upstreamStatus int) int {
	switch kind {
	case InvalidInput:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	case Blocked:
		return http.StatusForbidden
	case UpstreamRejected:
		if upstreamStatus >= http.StatusBadRequest && upstreamStatus <= 599 {
			return upstreamStatus
		}
		return http.StatusBadGateway
	case UpstreamUnavailable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// GatekeeperError is the single error type the handlers report
type GatekeeperError struct {
	Kind    ErrorKind
	Message string
	// Detail is an optional secondary message
	Detail     string
	Suggestion string
	// ResetIn is only set for RateLimited
	ResetIn        *int64
	UpstreamStatus int
}

func (e *GatekeeperError) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// Status returns the outward HTTP status of the error
func (e *GatekeeperError) Status() int {
	return StatusFor(e.Kind, e.UpstreamStatus)
}

// Response returns the JSON envelope of the error
func (e *GatekeeperError) Response() ErrorResponse {
	return ErrorResponse{
		Error:      e.Message,
		Message:    e.Detail,
		ResetIn:    e.ResetIn,
		Suggestion: e.Suggestion,
	}
}

func invalidInput(message string) *GatekeeperError {
	return &GatekeeperError{Kind: InvalidInput, Message: message}
}

func validationFailure(result infrastructure.ValidationResult) *GatekeeperError {
	message := result.Error
	if message == "" {
		message = invalidHostnameMessage
	}
	return invalidInput(message)
}

func rateLimited(resetIn int64) *GatekeeperError {
	return &GatekeeperError{
		Kind:    RateLimited,
		Message: rateLimitExceededMessage,
		Detail:  rateLimitExceededDetail,
		ResetIn: &resetIn,
	}
}

func blocked() *GatekeeperError {
	return &GatekeeperError{Kind: Blocked, Message: blockedDomainMessage}
}

func upstreamRejected(status int) *GatekeeperError {
	message := upstreamFailedMessage
	switch status {
	case http.StatusTooManyRequests:
		message = upstreamRateLimitedMessage
	case http.StatusBadRequest:
		message = upstreamBadRequestMessage
	}
	return &GatekeeperError{Kind: UpstreamRejected, Message: message, UpstreamStatus: status}
}

func upstreamUnavailable() *GatekeeperError {
	return &GatekeeperError{
		Kind:       UpstreamUnavailable,
		Message:    upstreamUnavailableMessage,
		Suggestion: upstreamUnavailableHint,
	}
}

func internalError() *GatekeeperError {
	return &GatekeeperError{Kind: Internal, Message: internalServerErrorMessage}
}

func cacheControlFor(forceRefresh bool) string {
	if forceRefresh {
		return noStoreCacheControl
	}
	return publicCacheControl
}

func cacheStatusOf(res *infrastructure.UpstreamResponse) string {
	if res.FromCache {
		return "HIT"
	}
	return "MISS"
}

func setRateLimitHeaders(c *gin.Context, decision *infrastructure.RateLimitDecision) {
	if decision == nil {
		return
	}
	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	// unknown when the store failed
	if !decision.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetUnixSeconds(), 10))
	}
}

func writeError(c *gin.Context, err *GatekeeperError) {
	c.AbortWithStatusJSON(err.Status(), err.Response())
}

func writeReport(c *gin.Context, res *infrastructure.UpstreamResponse, forceRefresh bool) {
	h := c.Writer.Header()
	h.Set("Cache-Control", cacheControlFor(forceRefresh))
	h.Set("X-Cache", cacheStatusOf(res))
	if !res.FetchedAt.IsZero() {
		h.Set("Last-Modified", res.FetchedAt.UTC().Format(http.TimeFormat))
	}
	c.Data(http.StatusOK, "application/json", res.Body)
}
