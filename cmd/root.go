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
	"os"

	"github.com/spf13/cobra"

	"gketune/pkg/logging"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "gketune",
	Short: "Orchestrates a model fine-tuning pipeline on a GKE cluster.",
	Long: `gketune drives a multi-stage fine-tuning pipeline (checkpoint
conversion, validation, training, inference test, export, vLLM serving)
as Kubernetes Jobs and Deployments, supervising each stage to completion
with per-stage timeouts and failure policies.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugLogging {
			logging.SetDebugLogging()
		}
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging.")
}
