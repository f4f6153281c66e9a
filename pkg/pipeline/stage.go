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

// Package pipeline implements the stage orchestration engine: it submits
// each stage of the fine-tuning pipeline to the cluster, supervises it to
// a terminal state within its time budget, applies per-stage failure
// policy, and tears the created resources back down.
package pipeline

import (
	"context"
	"time"
)

// Kind distinguishes the two workload shapes a stage can take on the
// cluster. Jobs run to completion; Deployments become ready and stay up.
type Kind string

const (
	KindJob        Kind = "Job"
	KindDeployment Kind = "Deployment"
)

// FailurePolicy decides what the controller does when a stage fails or
// times out.
type FailurePolicy string

const (
	// Abort stops the pipeline immediately after the failing stage.
	Abort FailurePolicy = "Abort"
	// WarnAndContinue logs a warning and moves on to the next stage.
	// Used for stages whose failure is an expected, tolerable outcome
	// (e.g. checkpoint validation on model versions it cannot decode).
	WarnAndContinue FailurePolicy = "WarnAndContinue"
)

// Stage describes one pipeline step. It is constructed once when the
// pipeline is defined and never mutated during a run.
type Stage struct {
	// ID names the stage and the Job/Deployment it creates on the
	// cluster. Stage IDs must be unique within a run.
	ID   string
	Kind Kind

	// Timeout bounds how long the waiter observes the stage before
	// declaring TimedOut. It does not cancel the underlying workload.
	Timeout time.Duration

	OnFailure FailurePolicy

	// LogContainer, when set, names the container whose logs are
	// captured as diagnostics if the stage fails or times out.
	LogContainer string

	// Service optionally names a Service submitted alongside the stage.
	// For the serving stage it is also where the controller reads the
	// load-balancer address back from.
	Service string

	// Manifests holds the rendered YAML documents submitted for this
	// stage, in submission order.
	Manifests []string
}

// Phase is a probe's view of a stage's workload on the cluster.
type Phase int

const (
	PhasePending Phase = iota
	PhaseSucceeded
	PhaseFailed
	// PhaseUnknown means the probe could not determine the state, e.g.
	// the scheduler was unreachable or the resource does not exist yet.
	// Callers treat it like Pending, never like Failed.
	PhaseUnknown
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "Pending"
	case PhaseSucceeded:
		return "Succeeded"
	case PhaseFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Status classifies a stage's terminal outcome.
type Status int

const (
	Succeeded Status = iota
	Failed
	// TimedOut means the orchestrator stopped waiting; the workload
	// itself may still be running on the cluster.
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	default:
		return "TimedOut"
	}
}

// Outcome is the result of running one stage.
type Outcome struct {
	Status  Status
	Elapsed time.Duration

	// Diagnostics holds a log excerpt captured on failure or timeout.
	// Empty when the stage succeeded or the logs were not fetchable.
	Diagnostics string
}

// StageResult pairs a stage with its outcome.
type StageResult struct {
	Stage   Stage
	Outcome Outcome
}

// Run is the record of a full pipeline execution.
type Run struct {
	Stages      []StageResult
	Aborted     bool
	AbortReason string

	// Endpoint is the external address of the serving stage, if one was
	// assigned by the time the run finished. Empty means the address is
	// still pending; that is not a failure.
	Endpoint string
}

// StatusProbe reports the externally observable state of a stage's
// workload. Implementations map transport errors to PhaseUnknown rather
// than returning them.
type StatusProbe interface {
	// JobPhase returns the terminal-condition phase of the named Job.
	JobPhase(ctx context.Context, name string) Phase

	// WaitDeploymentReady blocks until the named Deployment reports all
	// replicas ready, the timeout elapses, or the rollout fails. A nil
	// return means ready; a context.DeadlineExceeded-wrapping error
	// means the timeout elapsed; any other error means the rollout
	// failed.
	WaitDeploymentReady(ctx context.Context, name string, timeout time.Duration) error
}

// Submitter hands a stage's manifests to the cluster scheduler.
// Submission is fire-and-forget: it returns once the scheduler has
// accepted the resources.
type Submitter interface {
	Submit(ctx context.Context, stage Stage) error
}

// LogFetcher retrieves recent output from a stage's workload.
type LogFetcher interface {
	TailLogs(ctx context.Context, stageID, container string, lines int64) (string, error)
}

// EndpointReader reads back the external address of a named Service.
// An empty address with a nil error means the address has not been
// assigned yet.
type EndpointReader interface {
	ServiceEndpoint(ctx context.Context, name string) (string, error)
}

// ResourceKind identifies a reclaimable cluster resource type.
type ResourceKind string

const (
	ResourceJob        ResourceKind = "Job"
	ResourceDeployment ResourceKind = "Deployment"
	ResourceService    ResourceKind = "Service"
)

// ResourceRef names one resource created by a pipeline run.
type ResourceRef struct {
	Kind ResourceKind
	Name string
}

// Deleter removes a single resource. Implementations treat "not found"
// as success so that teardown is idempotent.
type Deleter interface {
	Delete(ctx context.Context, ref ResourceRef) error
}
