// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0
package cmd

import (
	"os"

	"github.com/siemens/pagespeed-gatekeeper/infrastructure"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [url]",
	Short: "Validates and canonicalizes a URL the way the server does. Exits with 1 if invalid",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		result := infrastructure.ValidateURL(args[0])
		printJSON(result)
		if !result.Valid {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
