// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0
package cmd

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	s "github.com/siemens/pagespeed-gatekeeper/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var corsOrigins []string
var disableRequestLogging = false
var blockedDomainGlobs []string

const bindAddressKey = "bindAddress"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the gatekeeper web server",
	Run: func(cmd *cobra.Command, args []string) {
		fetchConfig()
		echoConfig()
		server, err := s.NewServerWithOptions(serverOptions(disableRequestLogging))
		if err != nil {
			log.Fatal().Msgf("Could not set up the server: %v", err)
		}
		server.Run()
	},
}

func serverOptions(disableLogging bool) *s.Options {
	return &s.Options{
		CORSOrigins:           corsOrigins,
		DisableRequestLogging: disableLogging,
		BlockedDomainGlobs:    blockedDomainGlobs,
		BindAddress:           viper.GetString(bindAddressKey),
	}
}

func fetchConfig() {
	corsOrigins = parseOrigins(viper.Get(allowedOriginsKey))

	if viper.Get(blockedDomainGlobsKey) != nil {
		g := viper.GetStringSlice(blockedDomainGlobsKey)
		// empty string slice config creates a single slice with a "[]" -> fix
		if g != nil && !(len(g) == 1 && g[0] == "[]") {
			blockedDomainGlobs = g
		}
	}
}

// parseOrigins accepts a comma-separated string (environment) or a list (flags, config file)
func parseOrigins(value interface{}) []string {
	var raw []string
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []interface{}:
		for _, item := range v {
			raw = append(raw, fmt.Sprint(item))
		}
	default:
		raw = []string{fmt.Sprint(v)}
	}

	var res []string
	for _, entry := range raw {
		for _, origin := range strings.Split(entry, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				res = append(res, origin)
			}
		}
	}
	return res
}

func init() {
	flags := serveCmd.PersistentFlags()
	flags.StringSliceP(allowedOriginsKey, "o", nil,
		"provide a list of allowed CORS origins, e.g. '-o http://localhost:3000 -o https://example.com'. Defaults to "+s.DefaultCORSOrigin)
	_ = viper.BindPFlag(allowedOriginsKey, flags.Lookup(allowedOriginsKey))

	serveCmd.Flags().StringP(bindAddressKey, "a", "",
		"bind to a different address other than `:8080`, i.e. 0.0.0.0:4444 or 127.0.0.1:4444")
	_ = viper.BindPFlag(bindAddressKey, serveCmd.Flags().Lookup(bindAddressKey))

	flags.String(rateLimitStoreKey, "memory", "client rate limit store: memory, ulule or redis")
	_ = viper.BindPFlag(rateLimitStoreKey, flags.Lookup(rateLimitStoreKey))
	flags.String(rateLimitWindowKey, "1m", "client rate limit window (in ns/us/ms/s/m/h)")
	_ = viper.BindPFlag(rateLimitWindowKey, flags.Lookup(rateLimitWindowKey))
	flags.Int(rateLimitMaxRequestsKey, 10, "requests a client may issue per window")
	_ = viper.BindPFlag(rateLimitMaxRequestsKey, flags.Lookup(rateLimitMaxRequestsKey))
	flags.String(redisAddressKey, "localhost:6379", "Redis address when the redis rate limit store is used")
	_ = viper.BindPFlag(redisAddressKey, flags.Lookup(redisAddressKey))

	flags.StringSliceP(blockedDomainGlobsKey, "b", nil,
		"provide a list of domain wildcards to refuse analyzing, e.g. -b '*.internal.example' -b testdomain.com")
	_ = viper.BindPFlag(blockedDomainGlobsKey, flags.Lookup(blockedDomainGlobsKey))

	flags.BoolVarP(&disableRequestLogging, "disableRequestLogging", "s", false, "disable request logging")

	rootCmd.AddCommand(serveCmd)
}
