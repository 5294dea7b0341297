// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const loggingUserDataMaxLength = 100

// SetUpGlobalLogger configures the zerolog global logger.
// format "json" writes structured lines, anything else the human-readable console format.
func SetUpGlobalLogger(level string, format string) {
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:         os.Stderr,
			FormatLevel: levelFormatter(),
			TimeFormat:  time.RFC3339,
		})
	}

	if level == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Msgf("Ignoring log level '%v': %v", level, err)
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// SetUpConsoleLogging disables gin's colors if requested by the environment
func SetUpConsoleLogging() {
	if os.Getenv("GIN_DISABLE_CONSOLE_COLOR") != "" {
		gin.DisableConsoleColor()
	}
}

func levelFormatter() func(i interface{}) string {
	return func(i interface{}) string {
		ll, ok := i.(string)
		if !ok {
			if i == nil {
				return "???  "
			}
			return strings.ToUpper(fmt.Sprintf("%s     ", i))[0:5]
		}
		switch ll {
		case zerolog.LevelTraceValue:
			return "TRACE"
		case zerolog.LevelDebugValue:
			return "DEBUG"
		case zerolog.LevelInfoValue:
			return "INFO "
		case zerolog.LevelWarnValue:
			return "WARN "
		case zerolog.LevelErrorValue:
			return "ERROR"
		case zerolog.LevelFatalValue:
			return "FATAL"
		case zerolog.LevelPanicValue:
			return "PANIC"
		}
		return "???  "
	}
}

// SanitizeUserLogInput strips line breaks and truncates user-provided values before logging
func SanitizeUserLogInput(input string) string {
	return sanitizeUserLogInput(input)
}

func sanitizeUserLogInput(input string) string {
	var res = input
	res = strings.ReplaceAll(res, "\n", " ")
	res = strings.ReplaceAll(res, "\r", " ")
	if len(res) > loggingUserDataMaxLength {
		res = res[:loggingUserDataMaxLength]
	}
	return res
}
