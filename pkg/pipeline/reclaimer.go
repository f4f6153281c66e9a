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
	"sort"

	"gketune/pkg/logging"
)

// reclaimOrder fixes teardown ordering: Services go first so their load
// balancers are released before the Deployments backing them, then
// Deployments, then Jobs.
var reclaimOrder = map[ResourceKind]int{
	ResourceService:    0,
	ResourceDeployment: 1,
	ResourceJob:        2,
}

// Reclaimer removes the resources a pipeline run created. Each deletion
// is attempted exactly once per invocation; callers retry by invoking
// Reclaim again, which is safe because absent resources delete as no-ops.
type Reclaimer struct {
	Deleter Deleter
}

// Reclaim deletes every referenced resource, tolerating already-absent
// ones. A deletion error does not stop the remaining attempts; all
// errors are returned together.
func (r *Reclaimer) Reclaim(ctx context.Context, refs []ResourceRef) []error {
	ordered := make([]ResourceRef, len(refs))
	copy(ordered, refs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return reclaimOrder[ordered[i].Kind] < reclaimOrder[ordered[j].Kind]
	})

	var errs []error
	for _, ref := range ordered {
		if err := r.Deleter.Delete(ctx, ref); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s %q: %w", ref.Kind, ref.Name, err))
			logging.Warn("Failed to delete %s %q: %v", ref.Kind, ref.Name, err)
			continue
		}
		logging.Info("Deleted %s %q (or it was already gone).", ref.Kind, ref.Name)
	}
	return errs
}
