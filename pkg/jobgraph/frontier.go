// Copyright 2026 The Nimbus Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package jobgraph

import (
	"github.com/nimbusctl/controller/pkg/containers"
	"github.com/nimbusctl/controller/pkg/model"
)

// Frontier is the ready-job queue, split into the normal band and a
// low-priority band for sterile spawn-only jobs (e.g. MAIN), whose
// expansion runs after compute work of the current frame (§4.4).
type Frontier struct {
	normal      *containers.Deque[model.JobID]
	lowPriority *containers.Deque[model.JobID]
}

// NewFrontier returns an empty Frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		normal:      containers.NewDeque[model.JobID](),
		lowPriority: containers.NewDeque[model.JobID](),
	}
}

// Push enqueues a ready job onto the normal band.
func (f *Frontier) Push(id model.JobID) { f.normal.PushBack(id) }

// PushLowPriority enqueues a ready job onto the low-priority band.
func (f *Frontier) PushLowPriority(id model.JobID) { f.lowPriority.PushBack(id) }

// Pop drains the normal band first, falling back to the low-priority
// band only once it is empty.
func (f *Frontier) Pop() (model.JobID, bool) {
	if id, ok := f.normal.PopFront(); ok {
		return id, true
	}
	return f.lowPriority.PopFront()
}

// Requeue pushes id back onto the front of the normal band, so it is
// popped before every job already queued there. The controller does
// not call it: a job waiting on a synthesized copy returns through the
// graph's normal promotion path, and Tick puts VERSION_UNAVAILABLE
// jobs on the low-priority band with PushLowPriority.
func (f *Frontier) Requeue(id model.JobID) { f.normal.PushFront(id) }

// Len reports the total number of ready jobs across both bands.
func (f *Frontier) Len() int { return f.normal.Len() + f.lowPriority.Len() }
