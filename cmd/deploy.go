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
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gketune/pkg/cluster"
	"gketune/pkg/config"
	"gketune/pkg/imagebuilder"
	"gketune/pkg/logging"
	"gketune/pkg/manifest"
	"gketune/pkg/pipeline"
)

var (
	deployProject         string
	deployClusterName     string
	deployClusterLocation string
	deployNamespace       string
	deployPipelineFile    string
	deployImage           string
	deployBaseImage       string
	deployBuildContext    string
	deployPlatform        string
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	failColor    = color.New(color.FgRed, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Runs the full fine-tuning pipeline on the cluster.",
	Long: `The 'deploy' command submits the pipeline stages to the cluster in
order, waiting for each to reach a terminal state before starting the
next. The stage list comes from --pipeline, or the built-in default
pipeline when the flag is omitted.

The runner image for the Job stages is taken from --image (or
GKETUNE_RUNNER_IMAGE), or built on the fly with crane when --base-image
and --build-context are given.`,
	Run:          runDeployCmd,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringVarP(&deployProject, "project", "p", "", "Google Cloud project ID. Overrides GKETUNE_PROJECT_ID.")
	deployCmd.Flags().StringVar(&deployClusterName, "cluster-name", "", "Name of the GKE cluster the pipeline runs on. Recorded with the run; connectivity comes from the kubeconfig context.")
	deployCmd.Flags().StringVar(&deployClusterLocation, "cluster-location", "", "Location (zone or region) of the GKE cluster. Recorded with the run.")
	deployCmd.Flags().StringVarP(&deployNamespace, "namespace", "n", "", "Kubernetes namespace to run the pipeline in. Overrides GKETUNE_NAMESPACE.")
	deployCmd.Flags().StringVar(&deployPipelineFile, "pipeline", "", "Path to a pipeline YAML file overriding the built-in stage list.")
	deployCmd.Flags().StringVarP(&deployImage, "image", "i", "", "Pre-built runner image for the Job stages. Overrides GKETUNE_RUNNER_IMAGE.")
	deployCmd.Flags().StringVar(&deployBaseImage, "base-image", "", "Base image to build the runner image from with crane. Requires --build-context.")
	deployCmd.Flags().StringVarP(&deployBuildContext, "build-context", "c", "", "Path to the build context directory. Required with --base-image.")
	deployCmd.Flags().StringVarP(&deployPlatform, "platform", "f", "linux/amd64", "Target platform for the runner image build.")
}

func runDeployCmd(cmd *cobra.Command, args []string) {
	if deployImage != "" && deployBaseImage != "" {
		logging.Fatal("Cannot provide both --image and --base-image.")
	}
	if deployBaseImage != "" && deployBuildContext == "" {
		logging.Fatal("A --build-context must be provided when --base-image is used.")
	}

	env, err := config.LoadEnv()
	if err != nil {
		logging.Fatal("Failed to load environment configuration: %v", err)
	}
	env = applyDeployFlags(env)
	if env.Bucket == "" {
		logging.Fatal("GKETUNE_GCS_BUCKET must be set.")
	}

	if deployBaseImage != "" {
		if env.ProjectID == "" {
			logging.Fatal("A project ID is required to push the runner image; set --project or GKETUNE_PROJECT_ID.")
		}
		matcher, err := imagebuilder.ReadDockerignorePatterns(deployBuildContext, imagebuilder.DefaultIgnorePatterns)
		if err != nil {
			logging.Fatal("Failed to read .dockerignore patterns: %v", err)
		}
		image, err := imagebuilder.BuildRunnerImage(env.ProjectID, deployBaseImage, deployBuildContext, deployPlatform, matcher)
		if err != nil {
			logging.Fatal("Runner image build failed: %v", err)
		}
		env.RunnerImage = image
	}
	if env.RunnerImage == "" {
		logging.Fatal("A runner image is required; set --image, --base-image, or GKETUNE_RUNNER_IMAGE.")
	}

	spec, err := loadSpec()
	if err != nil {
		logging.Fatal("%v", err)
	}

	stages, err := manifest.BuildStages(env, spec)
	if err != nil {
		logging.Fatal("Failed to build pipeline stages: %v", err)
	}

	client, err := cluster.NewClient(env.Namespace)
	if err != nil {
		logging.Fatal("Failed to create cluster client: %v", err)
	}

	controller := &pipeline.Controller{
		Runner: &pipeline.Runner{
			Submitter: client,
			Waiter:    &pipeline.Waiter{Probe: client},
			Logs:      client,
		},
		Endpoints: client,
	}

	if env.ClusterName != "" {
		logging.Info("Target cluster: %s (%s).", env.ClusterName, env.ClusterLocation)
	}
	logging.Info("Starting pipeline with %d stages in namespace %q...", len(stages), client.Namespace())
	run := controller.Execute(context.Background(), stages)

	printRunSummary(run)
	if run.Aborted {
		os.Exit(1)
	}
}

// applyDeployFlags lets explicit deploy flags win over the environment.
func applyDeployFlags(env config.Env) config.Env {
	if deployProject != "" {
		env.ProjectID = deployProject
	}
	if deployClusterName != "" {
		env.ClusterName = deployClusterName
	}
	if deployClusterLocation != "" {
		env.ClusterLocation = deployClusterLocation
	}
	if deployNamespace != "" {
		env.Namespace = deployNamespace
	}
	if deployImage != "" {
		env.RunnerImage = deployImage
	}
	return env
}

func loadSpec() (*config.Spec, error) {
	if deployPipelineFile == "" {
		return config.DefaultSpec(), nil
	}
	return config.LoadPipelineFile(deployPipelineFile)
}

func printRunSummary(run *pipeline.Run) {
	fmt.Println()
	headerColor.Println("  Pipeline summary")
	dimColor.Println("  " + strings.Repeat("─", 60))
	for _, res := range run.Stages {
		statusColor := successColor
		switch res.Outcome.Status {
		case pipeline.Failed, pipeline.TimedOut:
			statusColor = warnColor
		}
		fmt.Printf("  %-24s ", res.Stage.ID)
		statusColor.Printf("%-10s ", res.Outcome.Status)
		dimColor.Printf("%s\n", res.Outcome.Elapsed.Round(time.Second))
	}
	fmt.Println()

	if run.Aborted {
		failColor.Println("  Pipeline aborted.")
		dimColor.Printf("  Reason: %s\n", run.AbortReason)
		return
	}
	successColor.Println("  Pipeline completed.")
	if run.Endpoint != "" {
		fmt.Printf("  Serving endpoint: http://%s:8000\n", run.Endpoint)
	} else {
		dimColor.Println("  Serving endpoint: pending (re-check the service later).")
	}
}
