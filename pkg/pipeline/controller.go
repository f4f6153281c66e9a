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
	"fmt"
	"time"

	"gketune/pkg/logging"
)

// Controller drives the ordered stage list sequentially. Stage N+1 is
// never submitted before stage N reaches a terminal outcome: every stage
// competes for the same accelerator pool, so there is no cross-stage
// parallelism by design.
type Controller struct {
	Runner    *Runner
	Endpoints EndpointReader
}

// Execute runs the stages in declaration order and returns the completed
// run. The call blocks for the full wall-clock duration of all executed
// stages. Execution halts early when a stage with the Abort policy fails
// or times out, or when a submission is rejected outright.
func (c *Controller) Execute(ctx context.Context, stages []Stage) *Run {
	run := &Run{}

	for i, stage := range stages {
		logging.Info("[%d/%d] Running stage %q...", i+1, len(stages), stage.ID)

		outcome, err := c.Runner.Run(ctx, stage)
		if err != nil {
			// Submission errors are fatal regardless of stage policy.
			run.Aborted = true
			run.AbortReason = err.Error()
			logging.Error("Pipeline aborted: %v", err)
			return run
		}

		run.Stages = append(run.Stages, StageResult{Stage: stage, Outcome: outcome})

		switch outcome.Status {
		case Succeeded:
			logging.Info("[%d/%d] Stage %q succeeded in %s.", i+1, len(stages), stage.ID, outcome.Elapsed.Round(time.Second))
			if stage.Kind == KindDeployment && stage.Service != "" {
				c.readEndpoint(ctx, stage, run)
			}

		case Failed, TimedOut:
			if stage.OnFailure == Abort {
				run.Aborted = true
				run.AbortReason = abortReason(stage, outcome)
				logging.Error("Pipeline aborted: %s", run.AbortReason)
				return run
			}
			logging.Warn("[%d/%d] Stage %q %s after %s; policy is %s, continuing.",
				i+1, len(stages), stage.ID, outcome.Status, outcome.Elapsed.Round(time.Second), stage.OnFailure)
		}
	}
	return run
}

// readEndpoint looks up the load-balancer address of the stage's
// Service. Address assignment is decoupled from serving readiness, so a
// missing address is reported as pending, not as a failure.
func (c *Controller) readEndpoint(ctx context.Context, stage Stage, run *Run) {
	if c.Endpoints == nil {
		return
	}
	addr, err := c.Endpoints.ServiceEndpoint(ctx, stage.Service)
	if err != nil {
		logging.Warn("Could not read endpoint for service %q: %v", stage.Service, err)
		return
	}
	if addr == "" {
		logging.Info("Service %q is ready but its external address is still pending.", stage.Service)
		return
	}
	run.Endpoint = addr
	logging.Info("Service %q is reachable at %s.", stage.Service, addr)
}

func abortReason(stage Stage, outcome Outcome) string {
	reason := fmt.Sprintf("stage %q %s after %s", stage.ID, outcome.Status, outcome.Elapsed.Round(time.Second))
	if outcome.Diagnostics != "" {
		reason += "\n--- last container output ---\n" + outcome.Diagnostics
	}
	return reason
}
