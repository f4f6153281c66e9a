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

package manifest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"sigs.k8s.io/yaml"

	"gketune/pkg/config"
	"gketune/pkg/pipeline"
)

func unmarshalManifest(t *testing.T, doc string) map[string]interface{} {
	t.Helper()

	var result map[string]interface{}
	if err := yaml.Unmarshal([]byte(doc), &result); err != nil {
		t.Fatalf("Failed to unmarshal generated YAML: %v", err)
	}
	return result
}

// assertManifestMetadata checks the API version, kind and metadata name
// of a generated manifest.
func assertManifestMetadata(t *testing.T, result map[string]interface{}, expectedAPIVersion, expectedKind, expectedName string) {
	t.Helper()

	if apiVersion := result["apiVersion"]; apiVersion != expectedAPIVersion {
		t.Errorf("Expected apiVersion %q, got %q", expectedAPIVersion, apiVersion)
	}
	if kind := result["kind"]; kind != expectedKind {
		t.Errorf("Expected kind %q, got %q", expectedKind, kind)
	}

	metadata, ok := result["metadata"].(map[string]interface{})
	if !ok {
		t.Fatalf("metadata not found or not a map")
	}
	if name := metadata["name"]; name != expectedName {
		t.Errorf("Expected metadata.name %q, got %q", expectedName, name)
	}
}

type podComponents struct {
	spec      map[string]interface{}
	podSpec   map[string]interface{}
	container map[string]interface{}
}

func getJobPodComponents(t *testing.T, result map[string]interface{}) podComponents {
	t.Helper()

	spec, ok := result["spec"].(map[string]interface{})
	if !ok {
		t.Fatalf("spec not found or not a map")
	}
	podTemplate, ok := spec["template"].(map[string]interface{})
	if !ok {
		t.Fatalf("spec.template not found or not a map")
	}
	podSpec, ok := podTemplate["spec"].(map[string]interface{})
	if !ok {
		t.Fatalf("spec.template.spec not found or not a map")
	}
	containers, ok := podSpec["containers"].([]interface{})
	if !ok || len(containers) == 0 {
		t.Fatalf("containers not found or empty")
	}
	container, ok := containers[0].(map[string]interface{})
	if !ok {
		t.Fatalf("container not found or not a map")
	}

	return podComponents{spec: spec, podSpec: podSpec, container: container}
}

// assertContainer checks the image and command fields of the workload
// container.
func assertContainer(t *testing.T, components podComponents, expectedImage, expectedCommand string) {
	t.Helper()

	if image := components.container["image"]; image != expectedImage {
		t.Errorf("Expected container image %q, got %q", expectedImage, image)
	}
	if expectedCommand == "" {
		return
	}
	commandArgs, ok := components.container["command"].([]interface{})
	if !ok || len(commandArgs) < 3 {
		t.Fatalf("container command not found or invalid format")
	}
	if cmdStr := commandArgs[2]; cmdStr != expectedCommand {
		t.Errorf("Expected container command %q, got %q", expectedCommand, cmdStr)
	}
}

// assertResources checks the container resource limits.
func assertResources(t *testing.T, components podComponents, expectedTPULimit, expectedGPULimit, expectedCPULimit, expectedMemoryLimit string) {
	t.Helper()

	resources, ok := components.container["resources"].(map[string]interface{})
	if !ok {
		t.Fatalf("container resources not found or not a map")
	}
	limits, ok := resources["limits"].(map[string]interface{})
	if !ok {
		t.Fatalf("container resources.limits not found or not a map")
	}

	if expectedTPULimit != "" {
		if tpuLimit := fmt.Sprintf("%v", limits["google.com/tpu"]); tpuLimit != expectedTPULimit {
			t.Errorf("Expected TPU limit %q, got %q", expectedTPULimit, tpuLimit)
		}
	} else if _, ok := limits["google.com/tpu"]; ok {
		t.Errorf("TPU limit found, but not expected")
	}
	if expectedGPULimit != "" {
		if gpuLimit := fmt.Sprintf("%v", limits["nvidia.com/gpu"]); gpuLimit != expectedGPULimit {
			t.Errorf("Expected GPU limit %q, got %q", expectedGPULimit, gpuLimit)
		}
	} else if _, ok := limits["nvidia.com/gpu"]; ok {
		t.Errorf("GPU limit found, but not expected")
	}
	if cpuLimit := fmt.Sprintf("%v", limits["cpu"]); cpuLimit != expectedCPULimit {
		t.Errorf("Expected CPU limit %q, got %q", expectedCPULimit, cpuLimit)
	}
	if memoryLimit := limits["memory"]; memoryLimit != expectedMemoryLimit {
		t.Errorf("Expected Memory limit %q, got %q", expectedMemoryLimit, memoryLimit)
	}
}

// assertNodeSelector checks the accelerator node selector.
func assertNodeSelector(t *testing.T, components podComponents, expectedKey, expectedLabel string) {
	t.Helper()

	if expectedLabel != "" {
		nodeSelector, ok := components.podSpec["nodeSelector"].(map[string]interface{})
		if !ok {
			t.Fatalf("nodeSelector not found or not a map")
		}
		if label := nodeSelector[expectedKey]; label != expectedLabel {
			t.Errorf("Expected nodeSelector[%q] %q, got %q", expectedKey, expectedLabel, label)
		}
	} else {
		if _, ok := components.podSpec["nodeSelector"]; ok {
			t.Errorf("nodeSelector found for CPU-only workload, but not expected")
		}
	}
}

func TestRenderJob(t *testing.T) {
	tests := []struct {
		name string
		opts JobOptions
		// Expected values for key fields in the generated Job manifest
		expectedImage       string
		expectedCommand     string
		expectedSelectorKey string
		expectedLabel       string
		expectedTPULimit    string
		expectedGPULimit    string
		expectedCPULimit    string
		expectedMemoryLimit string
	}{
		{
			name: "TPU stage job",
			opts: JobOptions{
				Name:        "finetune",
				Image:       "gcr.io/my-project/gketune-runner:latest",
				Command:     "python3 -m MaxText.train",
				Accelerator: "tpu-v4-podslice",
			},
			expectedImage:       "gcr.io/my-project/gketune-runner:latest",
			expectedCommand:     "python3 -m MaxText.train",
			expectedSelectorKey: "cloud.google.com/gke-tpu-accelerator",
			expectedLabel:       "tpu-v4-podslice",
			expectedTPULimit:    "4",
			expectedCPULimit:    "16",
			expectedMemoryLimit: "128Gi",
		},
		{
			name: "GPU stage job",
			opts: JobOptions{
				Name:        "finetune",
				Image:       "gcr.io/my-project/gketune-runner:v2",
				Command:     "bash finetune.sh",
				Accelerator: "nvidia-tesla-a100",
			},
			expectedImage:       "gcr.io/my-project/gketune-runner:v2",
			expectedCommand:     "bash finetune.sh",
			expectedSelectorKey: "cloud.google.com/gke-accelerator",
			expectedLabel:       "nvidia-tesla-a100",
			expectedGPULimit:    "1",
			expectedCPULimit:    "8",
			expectedMemoryLimit: "64Gi",
		},
		{
			name: "CPU-only job with explicit limits",
			opts: JobOptions{
				Name:        "export-checkpoint",
				Image:       "ubuntu:latest",
				Command:     "echo done",
				CPULimit:    "8",
				MemoryLimit: "32Gi",
			},
			expectedImage:       "ubuntu:latest",
			expectedCommand:     "echo done",
			expectedCPULimit:    "8",
			expectedMemoryLimit: "32Gi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := RenderJob(tt.opts)
			if err != nil {
				t.Fatalf("RenderJob failed: %v", err)
			}
			result := unmarshalManifest(t, doc)

			assertManifestMetadata(t, result, "batch/v1", "Job", tt.opts.Name)
			components := getJobPodComponents(t, result)

			if backoffLimit := components.spec["backoffLimit"]; int(backoffLimit.(float64)) != 0 {
				t.Errorf("Expected spec.backoffLimit 0, got %v", backoffLimit)
			}
			if restartPolicy := components.podSpec["restartPolicy"]; restartPolicy != "Never" {
				t.Errorf("Expected restartPolicy %q, got %q", "Never", restartPolicy)
			}
			assertContainer(t, components, tt.expectedImage, tt.expectedCommand)
			assertResources(t, components, tt.expectedTPULimit, tt.expectedGPULimit, tt.expectedCPULimit, tt.expectedMemoryLimit)
			assertNodeSelector(t, components, tt.expectedSelectorKey, tt.expectedLabel)
		})
	}
}

func TestRenderJobValidation(t *testing.T) {
	if _, err := RenderJob(JobOptions{Image: "ubuntu"}); err == nil {
		t.Error("Expected an error for an empty job name")
	}
	if _, err := RenderJob(JobOptions{Name: "finetune"}); err == nil {
		t.Error("Expected an error for an empty image")
	}
}

func TestRenderServing(t *testing.T) {
	docs, err := RenderServing(ServingOptions{
		Name:        "vllm-serving",
		ServiceName: "vllm-service",
		Image:       "vllm/vllm-openai:latest",
		ModelPath:   "gs://my-bucket/finetune-demo/hf",
		Accelerator: "tpu-v4-podslice",
	})
	if err != nil {
		t.Fatalf("RenderServing failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 manifests (deployment, service), got %d", len(docs))
	}

	deployment := unmarshalManifest(t, docs[0])
	assertManifestMetadata(t, deployment, "apps/v1", "Deployment", "vllm-serving")
	components := getJobPodComponents(t, deployment)
	assertContainer(t, components, "vllm/vllm-openai:latest", "")
	assertNodeSelector(t, components, "cloud.google.com/gke-tpu-accelerator", "tpu-v4-podslice")

	if replicas := components.spec["replicas"]; int(replicas.(float64)) != 1 {
		t.Errorf("Expected spec.replicas to default to 1, got %v", replicas)
	}
	args, ok := components.container["args"].([]interface{})
	if !ok || len(args) < 2 {
		t.Fatalf("container args not found or invalid format")
	}
	if modelPath := args[1]; modelPath != "gs://my-bucket/finetune-demo/hf" {
		t.Errorf("Expected model path arg %q, got %q", "gs://my-bucket/finetune-demo/hf", modelPath)
	}
	probe, ok := components.container["readinessProbe"].(map[string]interface{})
	if !ok {
		t.Fatalf("readinessProbe not found or not a map")
	}
	httpGet, ok := probe["httpGet"].(map[string]interface{})
	if !ok {
		t.Fatalf("readinessProbe.httpGet not found or not a map")
	}
	if path := httpGet["path"]; path != "/health" {
		t.Errorf("Expected readiness path %q, got %q", "/health", path)
	}

	service := unmarshalManifest(t, docs[1])
	assertManifestMetadata(t, service, "v1", "Service", "vllm-service")
	svcSpec, ok := service["spec"].(map[string]interface{})
	if !ok {
		t.Fatalf("service spec not found or not a map")
	}
	if svcType := svcSpec["type"]; svcType != "LoadBalancer" {
		t.Errorf("Expected service type %q, got %q", "LoadBalancer", svcType)
	}
	selector, ok := svcSpec["selector"].(map[string]interface{})
	if !ok {
		t.Fatalf("service selector not found or not a map")
	}
	if app := selector["app"]; app != "vllm-serving" {
		t.Errorf("Expected service selector app %q, got %q", "vllm-serving", app)
	}
}

func testEnv() config.Env {
	return config.Env{
		ProjectID:      "my-project",
		Namespace:      "default",
		Bucket:         "my-bucket",
		ModelName:      "gemma2-27b",
		BaseCheckpoint: "base/gemma2-27b",
		RunName:        "finetune-demo",
		RunnerImage:    "gcr.io/my-project/gketune-runner:latest",
		ServingImage:   "vllm/vllm-openai:latest",
		HFTokenSecret:  "hf-token",
		Accelerator:    "tpu-v4-podslice",
	}
}

func TestBuildStagesSubstitutesEnvironment(t *testing.T) {
	spec := &config.Spec{
		Stages: []config.StageSpec{
			{
				ID:             "finetune",
				Kind:           "Job",
				TimeoutSeconds: 1800,
				OnFailure:      "Abort",
				LogContainer:   "workload",
				Command:        "python3 -m MaxText.train output=gs://{{.Bucket}}/{{.RunName}}/output",
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

	stages, err := BuildStages(testEnv(), spec)
	if err != nil {
		t.Fatalf("BuildStages failed: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("Expected 2 stages, got %d", len(stages))
	}

	job := stages[0]
	if job.Kind != pipeline.KindJob || job.OnFailure != pipeline.Abort {
		t.Errorf("Unexpected job stage fields: kind %s, policy %s", job.Kind, job.OnFailure)
	}
	if job.Timeout != 1800*time.Second {
		t.Errorf("Expected timeout 1800s, got %s", job.Timeout)
	}
	if len(job.Manifests) != 1 {
		t.Fatalf("Expected 1 job manifest, got %d", len(job.Manifests))
	}
	if !strings.Contains(job.Manifests[0], "gs://my-bucket/finetune-demo/output") {
		t.Errorf("Expected substituted bucket and run name in manifest:\n%s", job.Manifests[0])
	}
	if strings.Contains(job.Manifests[0], "{{") {
		t.Errorf("Expected no unexpanded placeholders in manifest:\n%s", job.Manifests[0])
	}

	serving := stages[1]
	if serving.Kind != pipeline.KindDeployment || serving.Service != "vllm-service" {
		t.Errorf("Unexpected serving stage fields: kind %s, service %q", serving.Kind, serving.Service)
	}
	if len(serving.Manifests) != 2 {
		t.Fatalf("Expected 2 serving manifests, got %d", len(serving.Manifests))
	}
	if !strings.Contains(serving.Manifests[0], "gs://my-bucket/finetune-demo/hf") {
		t.Errorf("Expected exported model path in deployment manifest:\n%s", serving.Manifests[0])
	}
}

func TestBuildStagesStageImageOverridesDefault(t *testing.T) {
	spec := &config.Spec{
		Stages: []config.StageSpec{{
			ID:             "convert-checkpoint",
			Kind:           "Job",
			TimeoutSeconds: 600,
			OnFailure:      "Abort",
			Command:        "echo convert",
			Image:          "gcr.io/my-project/custom-converter:v3",
		}},
	}

	stages, err := BuildStages(testEnv(), spec)
	if err != nil {
		t.Fatalf("BuildStages failed: %v", err)
	}
	if !strings.Contains(stages[0].Manifests[0], "gcr.io/my-project/custom-converter:v3") {
		t.Errorf("Expected stage image override in manifest:\n%s", stages[0].Manifests[0])
	}
}

func TestBuildStagesRejectsUnknownPlaceholder(t *testing.T) {
	spec := &config.Spec{
		Stages: []config.StageSpec{{
			ID:             "finetune",
			Kind:           "Job",
			TimeoutSeconds: 600,
			OnFailure:      "Abort",
			Command:        "echo {{.NoSuchField}}",
		}},
	}

	if _, err := BuildStages(testEnv(), spec); err == nil {
		t.Fatal("Expected an error for an unknown placeholder")
	}
}

func TestBuildStagesDefaultPipeline(t *testing.T) {
	stages, err := BuildStages(testEnv(), config.DefaultSpec())
	if err != nil {
		t.Fatalf("BuildStages failed on the default pipeline: %v", err)
	}
	if len(stages) != 6 {
		t.Fatalf("Expected 6 default stages, got %d", len(stages))
	}
	if last := stages[len(stages)-1]; last.Kind != pipeline.KindDeployment {
		t.Errorf("Expected the final stage to be the serving deployment, got %s", last.Kind)
	}
}
