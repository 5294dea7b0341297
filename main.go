// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/siemens/pagespeed-gatekeeper/cmd"
	"github.com/siemens/pagespeed-gatekeeper/infrastructure"
)

func main() {
	infrastructure.SetUpConsoleLogging()
	cmd.Execute()
}
