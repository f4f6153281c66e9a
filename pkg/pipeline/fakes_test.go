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
	"time"
)

// fakeProbe replays a scripted phase sequence per stage. Once the
// script is exhausted the last phase repeats.
type fakeProbe struct {
	phases    map[string][]Phase
	calls     map[string]int
	deployErr map[string]error
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		phases:    map[string][]Phase{},
		calls:     map[string]int{},
		deployErr: map[string]error{},
	}
}

func (f *fakeProbe) JobPhase(ctx context.Context, name string) Phase {
	seq := f.phases[name]
	i := f.calls[name]
	f.calls[name]++
	if len(seq) == 0 {
		return PhaseUnknown
	}
	if i >= len(seq) {
		return seq[len(seq)-1]
	}
	return seq[i]
}

func (f *fakeProbe) WaitDeploymentReady(ctx context.Context, name string, timeout time.Duration) error {
	f.calls[name]++
	return f.deployErr[name]
}

// fakeSubmitter records submissions in order.
type fakeSubmitter struct {
	submitted []string
	errFor    map[string]error
}

func (s *fakeSubmitter) Submit(ctx context.Context, stage Stage) error {
	s.submitted = append(s.submitted, stage.ID)
	if s.errFor != nil {
		return s.errFor[stage.ID]
	}
	return nil
}

func (s *fakeSubmitter) submissions(id string) int {
	n := 0
	for _, got := range s.submitted {
		if got == id {
			n++
		}
	}
	return n
}

type fakeLogs struct {
	out   string
	err   error
	calls int
}

func (f *fakeLogs) TailLogs(ctx context.Context, stageID, container string, lines int64) (string, error) {
	f.calls++
	return f.out, f.err
}

type fakeEndpoints struct {
	addr string
	err  error
}

func (f *fakeEndpoints) ServiceEndpoint(ctx context.Context, name string) (string, error) {
	return f.addr, f.err
}

func newTestRunner(probe *fakeProbe, sub *fakeSubmitter, logs *fakeLogs) *Runner {
	return &Runner{
		Submitter: sub,
		Waiter:    &Waiter{Probe: probe, PollInterval: time.Millisecond},
		Logs:      logs,
	}
}
