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

// Package config holds the explicit configuration threaded through the
// pipeline: ambient environment values and the ordered stage list. The
// orchestration core never reads process state directly.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"gketune/pkg/pipeline"
)

// Env carries the external values stage manifests are parameterized
// with. They are opaque to the orchestrator; only presence is checked.
type Env struct {
	ProjectID string `envconfig:"PROJECT_ID"`
	Namespace string `envconfig:"NAMESPACE" default:"default"`

	// ClusterName and ClusterLocation identify the target GKE cluster.
	// They are recorded with the run for provenance; connectivity itself
	// comes from the kubeconfig context.
	ClusterName     string `envconfig:"CLUSTER_NAME"`
	ClusterLocation string `envconfig:"CLUSTER_LOCATION"`

	// Bucket is the GCS bucket holding checkpoints and datasets, without
	// the gs:// prefix.
	Bucket string `envconfig:"GCS_BUCKET"`

	ModelName      string `envconfig:"MODEL_NAME" default:"gemma2-27b"`
	BaseCheckpoint string `envconfig:"BASE_CHECKPOINT"`
	RunName        string `envconfig:"RUN_NAME" default:"finetune-demo"`

	// RunnerImage runs the Job stages (conversion, training, export).
	// Can also be produced on the fly with `deploy --base-image`.
	RunnerImage string `envconfig:"RUNNER_IMAGE"`

	// ServingImage backs the vLLM serving Deployment.
	ServingImage string `envconfig:"SERVING_IMAGE" default:"vllm/vllm-openai:latest"`

	// HFTokenSecret names the cluster secret with the Hugging Face
	// token the workloads read model weights with.
	HFTokenSecret string `envconfig:"HF_TOKEN_SECRET" default:"hf-token"`

	Accelerator string `envconfig:"ACCELERATOR" default:"tpu-v4-podslice"`
}

// LoadEnv reads the environment configuration with the GKETUNE prefix
// (e.g. GKETUNE_GCS_BUCKET).
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("gketune", &env); err != nil {
		return Env{}, fmt.Errorf("failed to process environment config: %w", err)
	}
	return env, nil
}

// StageSpec is one stage entry of the pipeline file.
type StageSpec struct {
	ID             string `yaml:"id"`
	Kind           string `yaml:"kind"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	OnFailure      string `yaml:"onFailure"`
	LogContainer   string `yaml:"logContainer,omitempty"`

	// Command is the container command for Job stages. It may reference
	// Env fields as Go template placeholders, e.g. {{.Bucket}}.
	Command string `yaml:"command,omitempty"`

	// Image overrides the default image for this stage.
	Image string `yaml:"image,omitempty"`

	// Service names the Service created alongside a Deployment stage.
	Service string `yaml:"service,omitempty"`
}

// Spec is the ordered stage list of a pipeline.
type Spec struct {
	Stages []StageSpec `yaml:"stages"`
}

// LoadPipelineFile parses a pipeline spec from a YAML file and
// validates it.
func LoadPipelineFile(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline file %q: %w", path, err)
	}
	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline file %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline file %q: %w", path, err)
	}
	return &spec, nil
}

// Validate checks stage IDs are unique and every enum field parses.
func (s *Spec) Validate() error {
	if len(s.Stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	seen := map[string]bool{}
	for _, st := range s.Stages {
		if st.ID == "" {
			return fmt.Errorf("stage with empty id")
		}
		if seen[st.ID] {
			return fmt.Errorf("duplicate stage id %q", st.ID)
		}
		seen[st.ID] = true
		if _, err := st.ParseKind(); err != nil {
			return err
		}
		if _, err := st.ParsePolicy(); err != nil {
			return err
		}
		if st.TimeoutSeconds <= 0 {
			return fmt.Errorf("stage %q: timeoutSeconds must be positive", st.ID)
		}
	}
	return nil
}

// ParseKind maps the YAML kind string onto a pipeline kind.
func (s StageSpec) ParseKind() (pipeline.Kind, error) {
	switch s.Kind {
	case string(pipeline.KindJob):
		return pipeline.KindJob, nil
	case string(pipeline.KindDeployment):
		return pipeline.KindDeployment, nil
	default:
		return "", fmt.Errorf("stage %q: unknown kind %q", s.ID, s.Kind)
	}
}

// ParsePolicy maps the YAML onFailure string onto a failure policy.
func (s StageSpec) ParsePolicy() (pipeline.FailurePolicy, error) {
	switch s.OnFailure {
	case string(pipeline.Abort):
		return pipeline.Abort, nil
	case string(pipeline.WarnAndContinue):
		return pipeline.WarnAndContinue, nil
	default:
		return "", fmt.Errorf("stage %q: unknown onFailure policy %q", s.ID, s.OnFailure)
	}
}

// Timeout returns the stage's wait budget as a duration.
func (s StageSpec) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// DefaultSpec returns the built-in fine-tuning pipeline: checkpoint
// conversion, validation, fine-tuning, inference test, export, and vLLM
// serving. Checkpoint validation is expected to fail on some
// model/version combinations, so its policy is WarnAndContinue.
func DefaultSpec() *Spec {
	return &Spec{
		Stages: []StageSpec{
			{
				ID:             "convert-checkpoint",
				Kind:           "Job",
				TimeoutSeconds: 1800,
				OnFailure:      "Abort",
				LogContainer:   "workload",
				Command:        "python3 -m MaxText.convert_gemma2_chkpt --base_model_path gs://{{.Bucket}}/{{.BaseCheckpoint}} --maxtext_model_path gs://{{.Bucket}}/{{.RunName}}/scanned --model_size 27b",
			},
			{
				ID:             "validate-checkpoint",
				Kind:           "Job",
				TimeoutSeconds: 900,
				OnFailure:      "WarnAndContinue",
				LogContainer:   "workload",
				Command:        "python3 -m MaxText.decode MaxText/configs/base.yml model_name={{.ModelName}} load_parameters_path=gs://{{.Bucket}}/{{.RunName}}/scanned/0/items run_name={{.RunName}}-validate prompt='I love to'",
			},
			{
				ID:             "finetune",
				Kind:           "Job",
				TimeoutSeconds: 1800,
				OnFailure:      "Abort",
				LogContainer:   "workload",
				Command:        "python3 -m MaxText.train MaxText/configs/base.yml model_name={{.ModelName}} load_parameters_path=gs://{{.Bucket}}/{{.RunName}}/scanned/0/items base_output_directory=gs://{{.Bucket}}/{{.RunName}}/output dataset_path=gs://{{.Bucket}}/dataset run_name={{.RunName}} steps=100",
			},
			{
				ID:             "test-inference",
				Kind:           "Job",
				TimeoutSeconds: 900,
				OnFailure:      "WarnAndContinue",
				LogContainer:   "workload",
				Command:        "python3 -m MaxText.decode MaxText/configs/base.yml model_name={{.ModelName}} load_parameters_path=gs://{{.Bucket}}/{{.RunName}}/output/{{.RunName}}/checkpoints/0/items run_name={{.RunName}}-infer prompt='### Instruction:\\nExplain gradient descent.\\n### Response:'",
			},
			{
				ID:             "export-checkpoint",
				Kind:           "Job",
				TimeoutSeconds: 1200,
				OnFailure:      "Abort",
				LogContainer:   "workload",
				Command:        "python3 -m MaxText.llama_mistral_mixtral_orbax_to_hf MaxText/configs/base.yml model_name={{.ModelName}} maxtext_model_path=gs://{{.Bucket}}/{{.RunName}}/output/{{.RunName}}/checkpoints/0/items hf_model_path=gs://{{.Bucket}}/{{.RunName}}/hf",
			},
			{
				ID:             "vllm-serving",
				Kind:           "Deployment",
				TimeoutSeconds: 1200,
				OnFailure:      "Abort",
				LogContainer:   "vllm",
				Service:        "vllm-service",
			},
		},
	}
}
