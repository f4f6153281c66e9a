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

	"gketune/pkg/logging"
)

// diagnosticTailLines is how much container output is captured when a
// stage fails.
const diagnosticTailLines = 100

// Runner executes a single stage: it submits the stage's manifests to
// the scheduler, waits for a terminal outcome, and captures diagnostics
// on failure. Failure policy is applied one level up, by the Controller;
// the runner only reports.
type Runner struct {
	Submitter Submitter
	Waiter    *Waiter
	Logs      LogFetcher
}

// Run submits the stage (at most once) and supervises it to an outcome.
// A non-nil error means submission itself was rejected; the pipeline
// cannot meaningfully continue past that.
func (r *Runner) Run(ctx context.Context, stage Stage) (Outcome, error) {
	logging.Info("Submitting stage %q (%s, timeout %s)...", stage.ID, stage.Kind, stage.Timeout)
	if err := r.Submitter.Submit(ctx, stage); err != nil {
		return Outcome{}, fmt.Errorf("submitting stage %q: %w", stage.ID, err)
	}

	outcome := r.Waiter.Wait(ctx, stage)
	if outcome.Status == Succeeded {
		return outcome, nil
	}

	if stage.LogContainer != "" {
		// Best effort only. Missing diagnostics are never escalated.
		excerpt, err := r.Logs.TailLogs(ctx, stage.ID, stage.LogContainer, diagnosticTailLines)
		if err != nil {
			logging.Warn("Could not fetch logs for failed stage %q: %v", stage.ID, err)
		} else {
			outcome.Diagnostics = excerpt
		}
	}
	return outcome, nil
}
