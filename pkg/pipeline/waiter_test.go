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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func jobStage(id string, timeout time.Duration) Stage {
	return Stage{ID: id, Kind: KindJob, Timeout: timeout, OnFailure: Abort}
}

func TestWaitSucceedsAfterUnknownPolls(t *testing.T) {
	probe := newFakeProbe()
	probe.phases["convert"] = []Phase{PhaseUnknown, PhasePending, PhaseUnknown, PhaseSucceeded}
	w := &Waiter{Probe: probe, PollInterval: time.Millisecond}

	outcome := w.Wait(context.Background(), jobStage("convert", time.Second))

	if outcome.Status != Succeeded {
		t.Fatalf("Expected Succeeded, got %s", outcome.Status)
	}
	if probe.calls["convert"] != 4 {
		t.Errorf("Expected 4 probe calls, got %d", probe.calls["convert"])
	}
}

func TestWaitReturnsFailedOnFailedCondition(t *testing.T) {
	probe := newFakeProbe()
	probe.phases["finetune"] = []Phase{PhasePending, PhaseFailed}
	w := &Waiter{Probe: probe, PollInterval: time.Millisecond}

	outcome := w.Wait(context.Background(), jobStage("finetune", time.Second))

	if outcome.Status != Failed {
		t.Fatalf("Expected Failed, got %s", outcome.Status)
	}
}

func TestWaitTimesOutWhilePending(t *testing.T) {
	probe := newFakeProbe()
	probe.phases["finetune"] = []Phase{PhasePending}
	w := &Waiter{Probe: probe, PollInterval: 5 * time.Millisecond}

	timeout := 30 * time.Millisecond
	outcome := w.Wait(context.Background(), jobStage("finetune", timeout))

	if outcome.Status != TimedOut {
		t.Fatalf("Expected TimedOut, got %s", outcome.Status)
	}
	if outcome.Elapsed < timeout {
		t.Errorf("Expected elapsed >= %s, got %s", timeout, outcome.Elapsed)
	}
}

func TestWaitUnknownFlappingNeverFails(t *testing.T) {
	probe := newFakeProbe()
	probe.phases["validate"] = []Phase{PhaseUnknown, PhasePending, PhaseUnknown, PhasePending}
	w := &Waiter{Probe: probe, PollInterval: 2 * time.Millisecond}

	outcome := w.Wait(context.Background(), jobStage("validate", 20*time.Millisecond))

	if outcome.Status != TimedOut {
		t.Fatalf("Expected TimedOut for a probe that never resolves, got %s", outcome.Status)
	}
}

func TestWaitDeploymentOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		waitErr    error
		wantStatus Status
	}{
		{
			name:       "ready",
			waitErr:    nil,
			wantStatus: Succeeded,
		},
		{
			name:       "native wait timeout",
			waitErr:    fmt.Errorf("context deadline: %w", context.DeadlineExceeded),
			wantStatus: TimedOut,
		},
		{
			name:       "rollout failure",
			waitErr:    errors.New("deployment rollout failed: replica failure"),
			wantStatus: Failed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := newFakeProbe()
			probe.deployErr["vllm-serving"] = tt.waitErr
			w := &Waiter{Probe: probe, PollInterval: time.Millisecond}

			stage := Stage{ID: "vllm-serving", Kind: KindDeployment, Timeout: time.Second, OnFailure: Abort}
			outcome := w.Wait(context.Background(), stage)

			if outcome.Status != tt.wantStatus {
				t.Errorf("Expected %s, got %s", tt.wantStatus, outcome.Status)
			}
		})
	}
}
