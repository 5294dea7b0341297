// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultCORSOrigin is used when no origins are configured
const DefaultCORSOrigin = "http://localhost:3000"

const wildcardOrigin = "*"

type corsPolicy struct {
	allowedOrigins []string
}

func newCORSPolicy(origins []string) corsPolicy {
	var cleaned []string
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			cleaned = append(cleaned, o)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{DefaultCORSOrigin}
	}
	return corsPolicy{allowedOrigins: cleaned}
}

func (p corsPolicy) allows(origin string) bool {
	for _, o := range p.allowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// headersFor computes the CORS headers for a request origin.
// An allow-listed origin is echoed with credentials, otherwise a configured
// wildcard is used, otherwise the first configured origin.
func (p corsPolicy) headersFor(origin string) map[string]string {
	headers := map[string]string{
		"Access-Control-Allow-Methods": "GET, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization",
		"Access-Control-Max-Age":       "86400",
	}
	switch {
	case origin != "" && p.allows(origin):
		headers["Access-Control-Allow-Origin"] = origin
		headers["Access-Control-Allow-Credentials"] = "true"
	case p.allows(wildcardOrigin):
		headers["Access-Control-Allow-Origin"] = wildcardOrigin
	default:
		headers["Access-Control-Allow-Origin"] = p.allowedOrigins[0]
	}
	return headers
}

func (p corsPolicy) apply(c *gin.Context) {
	h := c.Writer.Header()
	for k, v := range p.headersFor(c.GetHeader("Origin")) {
		h.Set(k, v)
	}
	h.Set("Vary", "Origin")
}

func (p corsPolicy) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p.apply(c)
		c.Next()
	}
}

// preflight answers OPTIONS requests with the CORS headers only
func preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}
