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
	"time"

	"github.com/spf13/cobra"

	"gketune/pkg/cluster"
	"gketune/pkg/config"
	"gketune/pkg/logging"
)

var (
	logsNamespace string
	logsTailLines int64
)

var logsCmd = &cobra.Command{
	Use:   "logs <stageID> [container]",
	Short: "Prints recent output from a pipeline stage.",
	Long: `The 'logs' command fetches the most recent output lines from the
newest pod of the named stage.

Examples:
  gketune logs finetune
  gketune logs vllm-serving vllm`,
	Args:         cobra.RangeArgs(1, 2),
	Run:          runLogsCmd,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsNamespace, "namespace", "n", "", "Kubernetes namespace of the stage. Overrides GKETUNE_NAMESPACE.")
	logsCmd.Flags().Int64Var(&logsTailLines, "tail", 100, "Number of recent log lines to print.")
}

func runLogsCmd(cmd *cobra.Command, args []string) {
	stageID := args[0]
	container := ""
	if len(args) > 1 {
		container = args[1]
	}

	env, err := config.LoadEnv()
	if err != nil {
		logging.Fatal("Failed to load environment configuration: %v", err)
	}
	if logsNamespace != "" {
		env.Namespace = logsNamespace
	}

	client, err := cluster.NewClient(env.Namespace)
	if err != nil {
		logging.Fatal("Failed to create cluster client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := client.TailLogs(ctx, stageID, container, logsTailLines)
	if err != nil {
		logging.Fatal("Failed to fetch logs for stage %q: %v", stageID, err)
	}
	fmt.Print(out)
}
