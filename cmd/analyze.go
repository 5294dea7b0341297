// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/siemens/pagespeed-gatekeeper/infrastructure"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// StrategyReport is the outcome of one strategy's analysis
type StrategyReport struct {
	Strategy   infrastructure.Strategy `json:"strategy"`
	StatusCode int                     `json:"status_code,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Report     json.RawMessage         `json:"report,omitempty"`
}

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze [url to analyze]",
	Short: "Analyzes a single URL with all strategies, bypassing the client rate limit. Prints the reports as JSON",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		validation := infrastructure.ValidateURL(args[0])
		if !validation.Valid {
			printJSON(validation)
			os.Exit(1)
		}

		analyzer, err := infrastructure.NewCachedAnalyzer()
		if err != nil {
			log.Fatal().Msgf("Could not set up the analyzer: %v", err)
		}

		reports := analyzeAllStrategies(cmd.Context(), analyzer, validation.Sanitized)
		printJSON(reports)
		if failedCount(reports) == len(reports) {
			os.Exit(1)
		}
	},
}

// analyzeAllStrategies runs one analysis per strategy concurrently.
// A failing strategy does not cancel the others.
func analyzeAllStrategies(ctx context.Context, analyzer infrastructure.Analyzer, targetURL string) []StrategyReport {
	if ctx == nil {
		ctx = context.Background()
	}
	reports := make([]StrategyReport, len(infrastructure.Strategies))

	var g errgroup.Group
	for i, strategy := range infrastructure.Strategies {
		i, strategy := i, strategy
		g.Go(func() error {
			reports[i] = analyzeStrategy(ctx, analyzer, targetURL, strategy)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func analyzeStrategy(ctx context.Context, analyzer infrastructure.Analyzer, targetURL string, strategy infrastructure.Strategy) StrategyReport {
	report := StrategyReport{Strategy: strategy}

	res, err := analyzer.Analyze(ctx, infrastructure.AnalysisRequest{
		TargetURL:      targetURL,
		Strategy:       strategy,
		ClientIdentity: "cli",
	})
	if err != nil {
		report.Error = err.Error()
		return report
	}

	report.StatusCode = res.StatusCode
	if !res.OK() {
		report.Error = fmt.Sprintf("upstream responded with status %v", res.StatusCode)
		return report
	}
	if !json.Valid(res.Body) {
		report.Error = "upstream responded with invalid JSON"
		return report
	}
	report.Report = res.Body
	return report
}

func failedCount(reports []StrategyReport) int {
	count := 0
	for _, r := range reports {
		if r.Error != "" {
			count++
		}
	}
	return count
}

func printJSON(value interface{}) {
	b, err := json.MarshalIndent(value, "", " ")
	if err != nil {
		log.Fatal().Msgf("ERROR: %v", err)
	}
	fmt.Println(string(b))
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
