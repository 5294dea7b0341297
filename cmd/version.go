// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/siemens/pagespeed-gatekeeper/infrastructure"
	"github.com/spf13/cobra"
)

var versionAsJSON bool

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the executable version",
	Run: func(_ *cobra.Command, _ []string) {
		if versionAsJSON {
			printJSON(infrastructure.CurrentInstance())
			return
		}
		fmt.Println(infrastructure.BinaryVersion())
	},
}

func init() {
	versionCmd.Flags().BoolVarP(&versionAsJSON, "json", "j", false, "print the version and instance information as JSON")
	rootCmd.AddCommand(versionCmd)
}
