// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0
package server

import "github.com/siemens/pagespeed-gatekeeper/infrastructure"

// ErrorResponse is the JSON envelope of every error response
type ErrorResponse struct {
	Error string `json:"error"`
	// Message accompanies rate limit rejections
	Message string `json:"message,omitempty"`
	// ResetIn is the number of seconds until the rate limit window resets
	ResetIn    *int64 `json:"resetIn,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// StatsResponse is the JSON structure of the /stats endpoint
type StatsResponse struct {
	infrastructure.InstanceInfo
	Stats infrastructure.Stats `json:"stats"`
}
