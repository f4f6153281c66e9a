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

// Package manifest renders the Kubernetes manifests each pipeline stage
// submits: a batch Job for the MaxText stages, and a Deployment plus
// LoadBalancer Service for vLLM serving.
package manifest

import (
	"bytes"
	"fmt"
	"text/template"

	"gketune/pkg/config"
	"gketune/pkg/pipeline"
)

// JobTemplate is the Go template for a single-shot stage Job. One pod,
// no retries: when the pod fails, the stage has failed.
const JobTemplate = `
apiVersion: batch/v1
kind: Job
metadata:
  name: {{.Name}}
  labels:
    gketune.google.com/stage: {{.Name}}
spec:
  backoffLimit: 0
  template:
    metadata:
      labels:
        gketune.google.com/stage: {{.Name}}
    spec:
      restartPolicy: Never
      containers:
      - name: workload
        image: {{.Image}}
        command: ["/bin/bash", "-c", "{{.Command}}"]
        env:
        - name: HF_TOKEN
          valueFrom:
            secretKeyRef:
              name: {{.HFTokenSecret}}
              key: token
        resources:
          limits:
{{- if .TPULimit }}
            google.com/tpu: {{.TPULimit}}
{{- end }}
{{- if .GPULimit }}
            nvidia.com/gpu: {{.GPULimit}}
{{- end }}
            cpu: {{.CPULimit}}
            memory: {{.MemoryLimit}}
{{- if .AcceleratorLabel }}
      nodeSelector:
        {{.AcceleratorSelectorKey}}: {{.AcceleratorLabel}}
{{- end }}
`

// DeploymentTemplate is the Go template for the vLLM serving Deployment.
const DeploymentTemplate = `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{.Name}}
  labels:
    app: {{.Name}}
spec:
  replicas: {{.Replicas}}
  selector:
    matchLabels:
      app: {{.Name}}
  template:
    metadata:
      labels:
        app: {{.Name}}
    spec:
      containers:
      - name: vllm
        image: {{.Image}}
        args: ["--model", "{{.ModelPath}}", "--port", "8000"]
        ports:
        - containerPort: 8000
        env:
        - name: HF_TOKEN
          valueFrom:
            secretKeyRef:
              name: {{.HFTokenSecret}}
              key: token
        readinessProbe:
          httpGet:
            path: /health
            port: 8000
          initialDelaySeconds: 60
          periodSeconds: 10
        resources:
          limits:
{{- if .TPULimit }}
            google.com/tpu: {{.TPULimit}}
{{- end }}
{{- if .GPULimit }}
            nvidia.com/gpu: {{.GPULimit}}
{{- end }}
            cpu: {{.CPULimit}}
            memory: {{.MemoryLimit}}
{{- if .AcceleratorLabel }}
      nodeSelector:
        {{.AcceleratorSelectorKey}}: {{.AcceleratorLabel}}
{{- end }}
`

// ServiceTemplate is the Go template for the external serving Service.
const ServiceTemplate = `
apiVersion: v1
kind: Service
metadata:
  name: {{.ServiceName}}
  labels:
    app: {{.Name}}
spec:
  type: LoadBalancer
  selector:
    app: {{.Name}}
  ports:
  - port: 8000
    targetPort: 8000
    protocol: TCP
`

// JobOptions holds parameters for stage Job generation.
type JobOptions struct {
	Name          string
	Image         string
	Command       string
	Accelerator   string // e.g. "tpu-v4-podslice"
	HFTokenSecret string
	// Resource limits; empty values are filled from the accelerator
	// defaults.
	TPULimit    string
	GPULimit    string
	CPULimit    string
	MemoryLimit string
}

// ServingOptions holds parameters for the serving Deployment + Service.
type ServingOptions struct {
	Name          string
	ServiceName   string
	Image         string
	ModelPath     string
	Replicas      int
	Accelerator   string
	HFTokenSecret string
	TPULimit      string
	GPULimit      string
	CPULimit      string
	MemoryLimit   string
}

type resourceDefaults struct {
	tpu, gpu, cpu, memory string
	selectorKey           string
	selectorLabel         string
}

// acceleratorDefaults maps an accelerator type onto resource limits and
// the node selector that schedules onto it.
func acceleratorDefaults(accelerator string) resourceDefaults {
	switch accelerator {
	case "tpu-v4-podslice", "tpu-v5-lite-podslice":
		return resourceDefaults{
			tpu:           "4",
			cpu:           "16",
			memory:        "128Gi",
			selectorKey:   "cloud.google.com/gke-tpu-accelerator",
			selectorLabel: accelerator,
		}
	case "nvidia-tesla-a100":
		return resourceDefaults{
			gpu:           "1",
			cpu:           "8",
			memory:        "64Gi",
			selectorKey:   "cloud.google.com/gke-accelerator",
			selectorLabel: accelerator,
		}
	default: // CPU-only
		return resourceDefaults{
			cpu:    "4",
			memory: "16Gi",
		}
	}
}

// RenderJob generates the Job manifest for one pipeline stage.
func RenderJob(opts JobOptions) (string, error) {
	if opts.Name == "" {
		return "", fmt.Errorf("job name must not be empty")
	}
	if opts.Image == "" {
		return "", fmt.Errorf("job %q: image must not be empty", opts.Name)
	}

	defaults := acceleratorDefaults(opts.Accelerator)
	data := struct {
		Name, Image, Command, HFTokenSecret       string
		TPULimit, GPULimit, CPULimit, MemoryLimit string
		AcceleratorSelectorKey, AcceleratorLabel  string
	}{
		Name:                   opts.Name,
		Image:                  opts.Image,
		Command:                opts.Command,
		HFTokenSecret:          firstNonEmpty(opts.HFTokenSecret, "hf-token"),
		TPULimit:               firstNonEmpty(opts.TPULimit, defaults.tpu),
		GPULimit:               firstNonEmpty(opts.GPULimit, defaults.gpu),
		CPULimit:               firstNonEmpty(opts.CPULimit, defaults.cpu),
		MemoryLimit:            firstNonEmpty(opts.MemoryLimit, defaults.memory),
		AcceleratorSelectorKey: defaults.selectorKey,
		AcceleratorLabel:       defaults.selectorLabel,
	}
	return render("job", JobTemplate, data)
}

// RenderServing generates the Deployment and Service manifests for the
// serving stage, in submission order.
func RenderServing(opts ServingOptions) ([]string, error) {
	if opts.Name == "" || opts.ServiceName == "" {
		return nil, fmt.Errorf("serving name and service name must not be empty")
	}
	if opts.Replicas <= 0 {
		opts.Replicas = 1
	}

	defaults := acceleratorDefaults(opts.Accelerator)
	data := struct {
		Name, ServiceName, Image, ModelPath       string
		Replicas                                  int
		HFTokenSecret                             string
		TPULimit, GPULimit, CPULimit, MemoryLimit string
		AcceleratorSelectorKey, AcceleratorLabel  string
	}{
		Name:                   opts.Name,
		ServiceName:            opts.ServiceName,
		Image:                  opts.Image,
		ModelPath:              opts.ModelPath,
		Replicas:               opts.Replicas,
		HFTokenSecret:          firstNonEmpty(opts.HFTokenSecret, "hf-token"),
		TPULimit:               firstNonEmpty(opts.TPULimit, defaults.tpu),
		GPULimit:               firstNonEmpty(opts.GPULimit, defaults.gpu),
		CPULimit:               firstNonEmpty(opts.CPULimit, defaults.cpu),
		MemoryLimit:            firstNonEmpty(opts.MemoryLimit, defaults.memory),
		AcceleratorSelectorKey: defaults.selectorKey,
		AcceleratorLabel:       defaults.selectorLabel,
	}

	deployment, err := render("deployment", DeploymentTemplate, data)
	if err != nil {
		return nil, err
	}
	service, err := render("service", ServiceTemplate, data)
	if err != nil {
		return nil, err
	}
	return []string{deployment, service}, nil
}

// BuildStages turns a validated pipeline spec into submittable stages,
// substituting environment values into each stage command and rendering
// the manifests.
func BuildStages(env config.Env, spec *config.Spec) ([]pipeline.Stage, error) {
	var stages []pipeline.Stage
	for _, st := range spec.Stages {
		kind, err := st.ParseKind()
		if err != nil {
			return nil, err
		}
		policy, err := st.ParsePolicy()
		if err != nil {
			return nil, err
		}

		stage := pipeline.Stage{
			ID:           st.ID,
			Kind:         kind,
			Timeout:      st.Timeout(),
			OnFailure:    policy,
			LogContainer: st.LogContainer,
			Service:      st.Service,
		}

		switch kind {
		case pipeline.KindJob:
			command, err := substitute(st.Command, env)
			if err != nil {
				return nil, fmt.Errorf("stage %q: %w", st.ID, err)
			}
			job, err := RenderJob(JobOptions{
				Name:          st.ID,
				Image:         firstNonEmpty(st.Image, env.RunnerImage),
				Command:       command,
				Accelerator:   env.Accelerator,
				HFTokenSecret: env.HFTokenSecret,
			})
			if err != nil {
				return nil, err
			}
			stage.Manifests = []string{job}

		case pipeline.KindDeployment:
			modelPath, err := substitute("gs://{{.Bucket}}/{{.RunName}}/hf", env)
			if err != nil {
				return nil, fmt.Errorf("stage %q: %w", st.ID, err)
			}
			docs, err := RenderServing(ServingOptions{
				Name:          st.ID,
				ServiceName:   st.Service,
				Image:         firstNonEmpty(st.Image, env.ServingImage),
				ModelPath:     modelPath,
				Accelerator:   env.Accelerator,
				HFTokenSecret: env.HFTokenSecret,
			})
			if err != nil {
				return nil, err
			}
			stage.Manifests = docs
		}

		stages = append(stages, stage)
	}
	return stages, nil
}

// substitute expands {{.Field}} references against the environment.
func substitute(text string, env config.Env) (string, error) {
	tmpl, err := template.New("command").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse command template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return "", fmt.Errorf("failed to substitute command template: %w", err)
	}
	return buf.String(), nil
}

func render(name, text string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
