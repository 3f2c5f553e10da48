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

// Package exectemplate mirrors, on the worker side, the dependency
// counter bookkeeping the controller's template engine computes once
// at finalize time: each instantiated job slot starts with a counter
// set to its dependency count and becomes ready for local execution
// only once every predecessor slot has cleared it to zero. Grounded on
// the original worker's ExecutionTemplate/JobTemplate pair
// (src/shared/execution_template.h), which exists precisely so a
// worker building the same template hundreds of times per run never
// rebuilds or destroys the dependency graph itself, only refreshes the
// counters and parameter bindings.
package exectemplate

import (
	"sync"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/model"
)

// slot is one job's position within a finalized template, holding the
// precomputed dependency count and the reverse adjacency (after set)
// needed to clear dependents when this slot completes.
type slot struct {
	dependencyNum int
	after         []int // indices of descriptors depending on this one
	receive       bool  // true for RemoteCopyReceive, which also waits on bytes-arrived
}

// Template is a finalized, reusable execution skeleton a worker holds
// for one named template, built once and instantiated repeatedly.
type Template struct {
	name  string
	slots []slot
}

// Build compiles a finalized set of job descriptors into a worker-side
// Template. Descriptor indices are assumed already topologically
// consistent (the controller only ships a template after its own
// FinalizeTemplate succeeds).
func Build(name string, descriptors []model.TemplateJobDescriptor) *Template {
	slots := make([]slot, len(descriptors))
	for i, d := range descriptors {
		slots[i] = slot{
			dependencyNum: d.DependencyNum(),
			receive:       d.Kind == model.JobRemoteCopyReceive,
		}
	}
	for i, d := range descriptors {
		for _, b := range d.Before {
			slots[b].after = append(slots[b].after, i)
		}
	}
	return &Template{name: name, slots: slots}
}

// Name returns the template's name.
func (t *Template) Name() string { return t.name }

// Instance is one instantiation of a Template: live dependency counters
// plus the inner job ids a MarkJobDone/ProcessReceiveEvent call
// resolves by worker-local index.
type Instance struct {
	mu        sync.Mutex
	tmpl      *Template
	innerIDs  []model.JobID
	counters  []int
	done      []bool
	doneCount int
}

// Instantiate binds a Template to a concrete set of inner job ids,
// resetting every counter to its slot's dependency count.
func (t *Template) Instantiate(innerIDs []model.JobID) (*Instance, error) {
	if len(innerIDs) != len(t.slots) {
		return nil, cerrors.ErrTemplateState.GenWithStackByArgs(t.name, "Instantiate", "inner id count mismatch")
	}
	counters := make([]int, len(t.slots))
	for i, s := range t.slots {
		counters[i] = s.dependencyNum
	}
	return &Instance{
		tmpl:     t,
		innerIDs: append([]model.JobID(nil), innerIDs...),
		counters: counters,
		done:     make([]bool, len(t.slots)),
	}, nil
}

func (in *Instance) indexOf(id model.JobID) (int, bool) {
	for i, j := range in.innerIDs {
		if j == id {
			return i, true
		}
	}
	return -1, false
}

// ReadyJobs returns every slot whose counter is already zero and has
// not yet been marked done, used right after Instantiate to seed the
// worker's local ready queue with jobs that had no predecessors at
// all (e.g. the first compute job of a stencil sweep).
func (in *Instance) ReadyJobs() []model.JobID {
	in.mu.Lock()
	defer in.mu.Unlock()
	var ready []model.JobID
	for i, c := range in.counters {
		if c == 0 && !in.done[i] {
			ready = append(ready, in.innerIDs[i])
		}
	}
	return ready
}

// MarkJobDone records local completion of jobID and decrements the
// counter of every slot in its after set, returning the slots newly
// unblocked by this completion.
func (in *Instance) MarkJobDone(jobID model.JobID) ([]model.JobID, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	idx, ok := in.indexOf(jobID)
	if !ok {
		return nil, cerrors.ErrUnknownJob.GenWithStackByArgs(jobID)
	}
	if in.done[idx] {
		return nil, nil // duplicate completion, recovered locally
	}
	in.done[idx] = true
	in.doneCount++

	var ready []model.JobID
	for _, after := range in.tmpl.slots[idx].after {
		if in.done[after] {
			continue
		}
		in.counters[after]--
		if in.counters[after] == 0 {
			ready = append(ready, in.innerIDs[after])
		}
	}
	return ready, nil
}

// ProcessReceiveEvent records that the bytes for a remote-copy-receive
// slot have arrived, clearing the +1 the template engine added to its
// dependency count. Returns the job id itself if this event was the
// slot's last unmet dependency.
func (in *Instance) ProcessReceiveEvent(jobID model.JobID) (model.JobID, bool, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	idx, ok := in.indexOf(jobID)
	if !ok {
		return 0, false, cerrors.ErrUnknownJob.GenWithStackByArgs(jobID)
	}
	if !in.tmpl.slots[idx].receive {
		return 0, false, cerrors.ErrProtocol.GenWithStackByArgs(jobID, "receive event delivered to a non-receive job slot")
	}
	if in.done[idx] {
		return 0, false, nil
	}
	in.counters[idx]--
	if in.counters[idx] == 0 {
		return jobID, true, nil
	}
	return 0, false, nil
}

// Complete reports whether every slot in the instance has completed.
func (in *Instance) Complete() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.doneCount == len(in.tmpl.slots)
}
