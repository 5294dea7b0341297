// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/siemens/pagespeed-gatekeeper/infrastructure"

	"github.com/spf13/cobra"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	// service
	apiKeyKey                             = "apiKey"
	allowedOriginsKey                     = "allowedOrigins"
	upstreamURLKey                        = "upstreamURL"
	rateLimitStoreKey                     = "rateLimitStore"
	rateLimitWindowKey                    = "rateLimitWindow"
	rateLimitMaxRequestsKey               = "rateLimitMaxRequests"
	redisAddressKey                       = "redisAddress"
	maxRetriesKey                         = "maxRetries"
	retryBaseDelayKey                     = "retryBaseDelay"
	perAttemptTimeoutKey                  = "perAttemptTimeout"
	cacheExpirationIntervalKey            = "cacheExpirationInterval"
	cacheCleanupIntervalKey               = "cacheCleanupInterval"
	cacheUseRistrettoKey                  = "cacheUseRistretto"
	cacheMaxSizeKey                       = "cacheMaxSize"
	cacheNumCountersKey                   = "cacheNumCounters"
	maxConcurrentUpstreamRequestsKey      = "maxConcurrentUpstreamRequests"
	upstreamRequestsPerSecondPerDomainKey = "upstreamRequestsPerSecondPerDomain"
	blockedDomainGlobsKey                 = "blockedDomainGlobs"
	logLevelKey                           = "logLevel"
	logFormatKey                          = "logFormat"

	// HTTP client
	httpClientMapKey        = "HTTPClient."
	proxyKey                = "proxy"
	userAgentKey            = "userAgent"
	skipCertificateCheckKey = "skipCertificateCheck"
)

// environment variable names used by existing deployments, not PSG_-prefixed
const (
	apiKeyEnv         = "GOOGLE_PAGESPEED_API_KEY"
	allowedOriginsEnv = "ALLOWED_ORIGINS"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pagespeed-gatekeeper",
	Short: "A rate-limited, retrying gateway in front of the PageSpeed Insights API",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	home := "$HOME"

	if homeString, err := homedir.Dir(); err == nil {
		if expandedHomeString, err := homedir.Expand(homeString); err == nil {
			home = expandedHomeString
		}
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is "+filepath.Join(home, ".pagespeed-gatekeeper.toml)"))

	flags.String(logLevelKey, "info", "log level: trace, debug, info, warn, error")
	_ = viper.BindPFlag(logLevelKey, flags.Lookup(logLevelKey))
	flags.String(logFormatKey, "console", "log format: console or json")
	_ = viper.BindPFlag(logFormatKey, flags.Lookup(logFormatKey))

	// upstream
	flags.String(upstreamURLKey, infrastructure.DefaultUpstreamURL, "PageSpeed Insights API endpoint")
	_ = viper.BindPFlag(upstreamURLKey, flags.Lookup(upstreamURLKey))
	flags.Int(maxRetriesKey, 2, "retries of failed upstream requests")
	_ = viper.BindPFlag(maxRetriesKey, flags.Lookup(maxRetriesKey))
	flags.String(retryBaseDelayKey, "2s", "delay before the first retry, doubled for each further one (in ns/us/ms/s/m/h)")
	_ = viper.BindPFlag(retryBaseDelayKey, flags.Lookup(retryBaseDelayKey))
	flags.String(perAttemptTimeoutKey, "0s", "timeout of a single upstream attempt, 0 for none (in ns/us/ms/s/m/h)")
	_ = viper.BindPFlag(perAttemptTimeoutKey, flags.Lookup(perAttemptTimeoutKey))
	flags.UintP(maxConcurrentUpstreamRequestsKey, "c", 64, "maximum number of concurrent upstream requests")
	_ = viper.BindPFlag(maxConcurrentUpstreamRequestsKey, flags.Lookup(maxConcurrentUpstreamRequestsKey))
	flags.Float64(upstreamRequestsPerSecondPerDomainKey, 0, "maximum upstream analyses per second per target domain, 0 for unlimited")
	_ = viper.BindPFlag(upstreamRequestsPerSecondPerDomainKey, flags.Lookup(upstreamRequestsPerSecondPerDomainKey))

	// HTTP client
	flags.StringP(proxyKey, "", "", "HTTP client: proxy server to use, e.g. http://myproxy:8080")
	_ = viper.BindPFlag(proxyKey, flags.Lookup(proxyKey))
	flags.String(userAgentKey, "pagespeed-gatekeeper/1.0", "HTTP client: user agent header")
	_ = viper.BindPFlag(httpClientMapKey+userAgentKey, flags.Lookup(userAgentKey))
	flags.Bool(skipCertificateCheckKey, false, "HTTP client: skip verifying server certificates")
	_ = viper.BindPFlag(httpClientMapKey+skipCertificateCheckKey, flags.Lookup(skipCertificateCheckKey))

	// cache
	flags.String(cacheExpirationIntervalKey, "5m", "Expire each report after <interval> (in ns/us/ms/s/m/h)")
	_ = viper.BindPFlag(cacheExpirationIntervalKey, flags.Lookup(cacheExpirationIntervalKey))
	flags.String(cacheCleanupIntervalKey, "10m", "Interval between cache cleanups (in ns/us/ms/s/m/h)")
	_ = viper.BindPFlag(cacheCleanupIntervalKey, flags.Lookup(cacheCleanupIntervalKey))
	flags.Bool(cacheUseRistrettoKey, false, "Use a memory-bound cache (see the cacheMaxSize option)")
	_ = viper.BindPFlag(cacheUseRistrettoKey, flags.Lookup(cacheUseRistrettoKey))
	flags.Int64(cacheMaxSizeKey, 100_000_000, "Approximate maximum cache size in bytes (when cacheUseRistretto enabled)")
	_ = viper.BindPFlag(cacheMaxSizeKey, flags.Lookup(cacheMaxSizeKey))
	flags.Int64(cacheNumCountersKey, 1_000_000, "Number of 4-bit access counters. Set at approx 10x max unique expected reports (when cacheUseRistretto enabled)")
	_ = viper.BindPFlag(cacheNumCountersKey, flags.Lookup(cacheNumCountersKey))

	SetUpViper()
}

// SetUpViper configures environment variable and global flag handling
func SetUpViper() {
	viper.SetEnvPrefix("PSG")
	_ = viper.BindEnv(apiKeyKey, apiKeyEnv)
	_ = viper.BindEnv(allowedOriginsKey, allowedOriginsEnv)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// a missing .env file is fine
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".pagespeed-gatekeeper" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".pagespeed-gatekeeper")
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	configErr := viper.ReadInConfig()

	infrastructure.SetUpGlobalLogger(viper.GetString(logLevelKey), viper.GetString(logFormatKey))
	if cfgFile != "" && configErr != nil {
		log.Warn().Msgf("Could not read the config file %v: %v", cfgFile, configErr)
	}
}

func echoConfig() {
	log.Info().Msgf("PageSpeed Gatekeeper. Version: %v", infrastructure.BinaryVersion())

	if viper.ConfigFileUsed() != "" {
		log.Info().Msgf("Using config file: %v", viper.ConfigFileUsed())
	}

	proxyURL := viper.GetString(proxyKey)
	if proxyURL != "" {
		log.Info().Msgf("Proxy: %v", proxyURL)
	}

	log.Info().Msgf("CORS origins: %v", corsOrigins)

	globCount := len(blockedDomainGlobs)
	if globCount > 0 {
		log.Info().Msgf("Blocked domain globs (%v): %v", globCount, blockedDomainGlobs)
	}
}
