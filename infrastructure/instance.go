// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// Version is a global variable written by the linker during CI builds
var Version string

var instanceID = uuid.New().String()
var runningSince = time.Now().Unix()

// InstanceInfo identifies this process, e.g. when comparing per-instance rate limits
type InstanceInfo struct {
	InstanceID   string `json:"instance_id"`
	RunningSince int64  `json:"running_since"`
	Version      string `json:"version"`
}

// CurrentInstance returns the identity of the running process
func CurrentInstance() InstanceInfo {
	return InstanceInfo{
		InstanceID:   instanceID,
		RunningSince: runningSince,
		Version:      BinaryVersion(),
	}
}

// BinaryVersion returns the best guess at the server's version
func BinaryVersion() string {
	if Version != "" {
		return Version
	}
	version := "unknown"
	info, ok := debug.ReadBuildInfo()
	if ok && info.Main.Version != "" {
		version = info.Main.Version
	}
	return version
}

// NewRequestID returns a random identifier for correlating log lines of one request
func NewRequestID() string {
	return uuid.NewString()
}
