// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gketune/pkg/cluster"
	"gketune/pkg/config"
	"gketune/pkg/logging"
	"gketune/pkg/serving"
)

var (
	testNamespace string
	testService   string
	testPrompt    string
	testModel     string
)

var testCmd = &cobra.Command{
	Use:   "test [endpoint]",
	Short: "Smoke-tests the deployed serving endpoint.",
	Long: `The 'test' command checks the deployed vLLM server end to end: it
verifies the /health endpoint, lists the served models, and requests one
sample completion. When no endpoint is given, the address is read back
from the serving Service's load balancer.

Examples:
  gketune test
  gketune test 34.9.12.7
  gketune test 34.9.12.7 --prompt "What are TPUs good for?"`,
	Args:         cobra.RangeArgs(0, 1),
	Run:          runTestCmd,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(testCmd)

	testCmd.Flags().StringVarP(&testNamespace, "namespace", "n", "", "Kubernetes namespace of the serving Service. Overrides GKETUNE_NAMESPACE.")
	testCmd.Flags().StringVar(&testService, "service", "vllm-service", "Name of the serving Service to resolve the endpoint from.")
	testCmd.Flags().StringVar(&testPrompt, "prompt", "Explain machine learning in one paragraph:", "Prompt for the sample completion.")
	testCmd.Flags().StringVar(&testModel, "model", "", "Model name for the completion request. Defaults to the first served model.")
}

func runTestCmd(cmd *cobra.Command, args []string) {
	endpoint := ""
	if len(args) > 0 {
		endpoint = args[0]
	}
	if endpoint == "" {
		endpoint = resolveServingEndpoint()
	}

	api := serving.NewClient(serving.EndpointURL(endpoint))
	ctx := context.Background()

	logging.Info("Checking %s/health...", api.BaseURL)
	if err := api.Health(ctx); err != nil {
		logging.Fatal("Serving endpoint is not healthy: %v", err)
	}
	successColor.Println("Health check passed.")

	models, err := api.Models(ctx)
	if err != nil {
		logging.Warn("Could not list served models: %v", err)
	} else {
		logging.Info("Served models: %s", strings.Join(models, ", "))
	}

	model := testModel
	if model == "" && len(models) > 0 {
		model = models[0]
	}
	if model == "" {
		logging.Fatal("No served models reported; pass --model explicitly.")
	}

	logging.Info("Requesting a completion from %q...", model)
	out, err := api.Complete(ctx, model, testPrompt, 200)
	if err != nil {
		logging.Fatal("Completion request failed: %v", err)
	}
	fmt.Println(out)
	successColor.Println("Smoke test passed.")
}

// resolveServingEndpoint reads the serving Service's load-balancer
// address from the cluster.
func resolveServingEndpoint() string {
	env, err := config.LoadEnv()
	if err != nil {
		logging.Fatal("Failed to load environment configuration: %v", err)
	}
	if testNamespace != "" {
		env.Namespace = testNamespace
	}

	client, err := cluster.NewClient(env.Namespace)
	if err != nil {
		logging.Fatal("Failed to create cluster client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	addr, err := client.ServiceEndpoint(ctx, testService)
	if err != nil {
		logging.Fatal("Failed to read endpoint for service %q: %v", testService, err)
	}
	if addr == "" {
		logging.Fatal("Service %q has no external address yet; retry once the load balancer is assigned.", testService)
	}
	return addr
}
