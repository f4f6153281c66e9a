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
	"os"

	"github.com/spf13/cobra"

	"gketune/pkg/cluster"
	"gketune/pkg/config"
	"gketune/pkg/logging"
	"gketune/pkg/pipeline"
)

var (
	cleanupNamespace    string
	cleanupPipelineFile string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Deletes all cluster resources the pipeline created.",
	Long: `The 'cleanup' command removes the Jobs, Deployments and Services of
every known pipeline stage. Resources that are already gone are treated
as successfully deleted, so cleanup is always safe to re-run.`,
	Run:          runCleanupCmd,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().StringVarP(&cleanupNamespace, "namespace", "n", "", "Kubernetes namespace to clean up. Overrides GKETUNE_NAMESPACE.")
	cleanupCmd.Flags().StringVar(&cleanupPipelineFile, "pipeline", "", "Path to the pipeline YAML file the resources were created from.")
}

func runCleanupCmd(cmd *cobra.Command, args []string) {
	env, err := config.LoadEnv()
	if err != nil {
		logging.Fatal("Failed to load environment configuration: %v", err)
	}
	if cleanupNamespace != "" {
		env.Namespace = cleanupNamespace
	}

	spec := config.DefaultSpec()
	if cleanupPipelineFile != "" {
		spec, err = config.LoadPipelineFile(cleanupPipelineFile)
		if err != nil {
			logging.Fatal("%v", err)
		}
	}

	client, err := cluster.NewClient(env.Namespace)
	if err != nil {
		logging.Fatal("Failed to create cluster client: %v", err)
	}

	refs := stageResourceRefs(spec)
	logging.Info("Reclaiming %d resources in namespace %q...", len(refs), client.Namespace())

	reclaimer := &pipeline.Reclaimer{Deleter: client}
	errs := reclaimer.Reclaim(context.Background(), refs)
	if len(errs) > 0 {
		for _, err := range errs {
			logging.Error("%v", err)
		}
		logging.Error("Cleanup finished with %d errors; re-run to retry.", len(errs))
		os.Exit(1)
	}
	logging.Info("Cleanup complete.")
}

// stageResourceRefs lists every resource the pipeline spec would create.
func stageResourceRefs(spec *config.Spec) []pipeline.ResourceRef {
	var refs []pipeline.ResourceRef
	for _, st := range spec.Stages {
		kind, err := st.ParseKind()
		if err != nil {
			continue
		}
		switch kind {
		case pipeline.KindJob:
			refs = append(refs, pipeline.ResourceRef{Kind: pipeline.ResourceJob, Name: st.ID})
		case pipeline.KindDeployment:
			refs = append(refs, pipeline.ResourceRef{Kind: pipeline.ResourceDeployment, Name: st.ID})
			if st.Service != "" {
				refs = append(refs, pipeline.ResourceRef{Kind: pipeline.ResourceService, Name: st.Service})
			}
		}
	}
	return refs
}
