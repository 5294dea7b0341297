// Copyright 2020-2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0
package cmd

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/rs/zerolog/log"
	s "github.com/siemens/pagespeed-gatekeeper/server"
	"github.com/spf13/cobra"
)

var ginLambda *ginadapter.GinLambda

// Handler proxies API Gateway events to the gin engine
func Handler(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return ginLambda.ProxyWithContext(ctx, req)
}

var awsLambdaCmd = &cobra.Command{
	Use:   "awslambda",
	Short: "start the service as an AWS Lambda",
	Run: func(cmd *cobra.Command, args []string) {
		fetchConfig()
		echoConfig()
		// the Lambda runtime logs invocations
		server, err := s.NewServerWithOptions(serverOptions(true))
		if err != nil {
			log.Fatal().Msgf("Could not set up the server: %v", err)
		}
		ginLambda = ginadapter.New(server.Detail())
		lambda.Start(Handler)
	},
}

func init() {
	serveCmd.AddCommand(awsLambdaCmd)
}
