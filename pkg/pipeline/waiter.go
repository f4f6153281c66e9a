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
	"time"

	"gketune/pkg/logging"
)

// DefaultPollInterval is how often the waiter re-probes a Job stage.
const DefaultPollInterval = 10 * time.Second

// Waiter polls a StatusProbe until a stage reaches a terminal state or
// its time budget runs out. A Waiter holds no per-stage state; one
// instance can supervise any number of stages in turn.
type Waiter struct {
	Probe StatusProbe

	// PollInterval overrides DefaultPollInterval when non-zero.
	PollInterval time.Duration
}

// Wait blocks until the stage's workload reaches a terminal state or the
// stage timeout elapses, and classifies the result. Timeout never
// cancels the underlying workload.
func (w *Waiter) Wait(ctx context.Context, stage Stage) Outcome {
	start := time.Now()

	if stage.Kind == KindDeployment {
		return w.waitDeployment(ctx, stage, start)
	}

	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		phase := w.Probe.JobPhase(ctx, stage.ID)
		switch phase {
		case PhaseSucceeded:
			return Outcome{Status: Succeeded, Elapsed: time.Since(start)}
		case PhaseFailed:
			return Outcome{Status: Failed, Elapsed: time.Since(start)}
		}
		// PhaseUnknown is treated exactly like PhasePending: keep
		// polling. A flapping probe must never produce a Failed outcome.
		logging.Debug("stage %q: phase %s, elapsed %s", stage.ID, phase, time.Since(start).Round(time.Second))

		if time.Since(start) > stage.Timeout {
			return Outcome{Status: TimedOut, Elapsed: time.Since(start)}
		}

		select {
		case <-ctx.Done():
			return Outcome{Status: TimedOut, Elapsed: time.Since(start)}
		case <-time.After(interval):
		}
	}
}

// waitDeployment delegates to the scheduler-native readiness wait and
// translates its timeout into a TimedOut outcome.
func (w *Waiter) waitDeployment(ctx context.Context, stage Stage, start time.Time) Outcome {
	err := w.Probe.WaitDeploymentReady(ctx, stage.ID, stage.Timeout)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		return Outcome{Status: Succeeded, Elapsed: elapsed}
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Status: TimedOut, Elapsed: elapsed}
	default:
		logging.Debug("stage %q: rollout failed: %v", stage.ID, err)
		return Outcome{Status: Failed, Elapsed: elapsed}
	}
}
