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

// Package jobgraph holds jobs as vertices with explicit before/after
// edges plus implicit version edges, tracks job state, and exposes the
// ready frontier the assignment loop drains (§4.4). Jobs, LDOs and
// PDIs each live in their own table keyed by dense integer ids;
// cross-references are ids, not owning pointers, so the graph can be
// pruned without dangling references elsewhere.
package jobgraph

import (
	"sync"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/model"
)

// Graph is the job dependency graph.
type Graph struct {
	mu sync.Mutex

	jobs         map[model.JobID]*model.Job
	predecessors map[model.JobID]model.JobIDSet
	successors   map[model.JobID]model.JobIDSet
	// unmet counts remaining non-DONE predecessors per job; a job
	// enters the ready frontier the moment its count reaches zero.
	unmet map[model.JobID]int

	ancestorCache map[model.JobID]model.JobIDSet

	frontier *Frontier
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		jobs:          make(map[model.JobID]*model.Job),
		predecessors:  make(map[model.JobID]model.JobIDSet),
		successors:    make(map[model.JobID]model.JobIDSet),
		unmet:         make(map[model.JobID]int),
		ancestorCache: make(map[model.JobID]model.JobIDSet),
		frontier:      NewFrontier(),
	}
}

// Frontier exposes the graph's ready-job queue.
func (g *Graph) Frontier() *Frontier { return g.frontier }

// Get looks up a job by id.
func (g *Graph) Get(id model.JobID) (*model.Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.jobs[id]
	if !ok {
		return nil, cerrors.ErrUnknownJob.GenWithStackByArgs(id)
	}
	return j, nil
}

// isSpawnOnlyLowPriority reports whether a job belongs on the
// low-priority band: sterile jobs that spawn children but do no data
// work themselves (MAIN is the canonical example), so their expansion
// runs after compute work of the current frame (§4.4).
func isSpawnOnlyLowPriority(j *model.Job) bool {
	return j.Sterile && (j.Kind == model.JobMain)
}

// AddJob inserts a job vertex, wiring its explicit before/after edges.
// Implicit version edges are added separately via AddVersionEdge once
// version resolution runs for the reader. If job has no unmet
// predecessors at insertion time, it is pushed directly onto the
// ready frontier.
func (g *Graph) AddJob(j *model.Job) {
	g.mu.Lock()
	defer g.mu.Unlock()

	j.State = model.JobPending
	g.jobs[j.ID] = j
	if _, ok := g.predecessors[j.ID]; !ok {
		g.predecessors[j.ID] = make(model.JobIDSet)
	}
	if _, ok := g.successors[j.ID]; !ok {
		g.successors[j.ID] = make(model.JobIDSet)
	}

	for before := range j.Before {
		g.addEdgeLocked(before, j.ID)
	}
	for after := range j.After {
		g.addEdgeLocked(j.ID, after)
	}

	g.maybeEnqueueLocked(j)
}

// addEdgeLocked adds the edge from -> to (from is a predecessor of
// to). Caller holds g.mu.
func (g *Graph) addEdgeLocked(from, to model.JobID) {
	if _, ok := g.predecessors[to]; !ok {
		g.predecessors[to] = make(model.JobIDSet)
	}
	if _, ok := g.successors[from]; !ok {
		g.successors[from] = make(model.JobIDSet)
	}
	if g.predecessors[to].Has(from) {
		return // already wired
	}
	g.predecessors[to].Add(from)
	g.successors[from].Add(to)

	if fromJob, ok := g.jobs[from]; !ok || fromJob.State != model.JobDone {
		g.unmet[to]++
	}
}

// AddVersionEdge wires an implicit edge for a resolved version
// dependency: writer must be DONE before reader can be assigned.
// Version edges are deferred until the reader is otherwise ready
// (§4.4: "implicit edges require version resolution, which is
// deferred until B becomes otherwise ready").
func (g *Graph) AddVersionEdge(writer, reader model.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdgeLocked(writer, reader)
	if readerJob, ok := g.jobs[reader]; ok {
		readerJob.State = model.JobPending
	}
}

// maybeEnqueueLocked pushes j onto the appropriate frontier band if it
// has no unmet predecessors. Caller holds g.mu.
func (g *Graph) maybeEnqueueLocked(j *model.Job) {
	if g.unmet[j.ID] > 0 {
		return
	}
	if j.State != model.JobPending && j.State != model.JobReady {
		return
	}
	j.State = model.JobReady
	if isSpawnOnlyLowPriority(j) {
		g.frontier.PushLowPriority(j.ID)
	} else {
		g.frontier.Push(j.ID)
	}
}

// Complete marks job DONE and promotes every successor whose unmet
// count reaches zero onto the ready frontier.
func (g *Graph) Complete(id model.JobID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.jobs[id]
	if !ok {
		return cerrors.ErrUnknownJob.GenWithStackByArgs(id)
	}
	if j.State == model.JobDone {
		return nil // duplicate JobDone, recovered locally (§7)
	}
	j.State = model.JobDone

	for succ := range g.successors[id] {
		if g.unmet[succ] > 0 {
			g.unmet[succ]--
		}
		if sj, ok := g.jobs[succ]; ok {
			g.maybeEnqueueLocked(sj)
		}
	}
	return nil
}

// MarkLost transitions a job to LOST, used on worker loss for every
// job ASSIGNED or RUNNING there (§4.6).
func (g *Graph) MarkLost(id model.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if j, ok := g.jobs[id]; ok {
		j.State = model.JobLost
	}
}

// LoseWorker transitions every job ASSIGNED or RUNNING on worker to
// LOST and returns their ids, the set §4.6's worker-loss handler needs
// before it can compute live_parents and pick a covering checkpoint.
func (g *Graph) LoseWorker(worker model.WorkerID) []model.JobID {
	g.mu.Lock()
	defer g.mu.Unlock()
	var lost []model.JobID
	for id, j := range g.jobs {
		if j.Worker == worker && (j.State == model.JobAssigned || j.State == model.JobRunning) {
			j.State = model.JobLost
			lost = append(lost, id)
		}
	}
	return lost
}

// Assign transitions a job to ASSIGNED at worker w.
func (g *Graph) Assign(id model.JobID, w model.WorkerID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.jobs[id]
	if !ok {
		return cerrors.ErrUnknownJob.GenWithStackByArgs(id)
	}
	j.State = model.JobAssigned
	j.Worker = w
	return nil
}

// ReturnToPending moves an assigned-in-progress job back to PENDING
// because the assigner synthesized new predecessor jobs for it
// (§4.4 step 3: "J is returned to PENDING").
func (g *Graph) ReturnToPending(id model.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if j, ok := g.jobs[id]; ok {
		j.State = model.JobPending
	}
}

// AllPredecessorsDone reports whether every graph predecessor of id is
// DONE — the invariant checked before a job may be READY.
func (g *Graph) AllPredecessorsDone(id model.JobID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for pred := range g.predecessors[id] {
		if j, ok := g.jobs[pred]; !ok || j.State != model.JobDone {
			return false
		}
	}
	return true
}

// IsAncestor implements lineage.AncestorChecker: candidate is an
// ancestor of job if it is reachable from job by following predecessor
// edges (explicit before-edges and any version edges added so far) and
// the spawn/parent relation, transitively. The result is cached per
// job on first use (§4.2: "closure precomputed lazily"); a version
// edge added to the job afterwards is not reflected until
// InvalidateAncestorCache drops the entry.
func (g *Graph) IsAncestor(candidate, job model.JobID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	set, ok := g.ancestorCache[job]
	if !ok {
		set = g.computeAncestorsLocked(job)
		g.ancestorCache[job] = set
	}
	return set.Has(candidate)
}

func (g *Graph) computeAncestorsLocked(job model.JobID) model.JobIDSet {
	visited := make(model.JobIDSet)
	queue := []model.JobID{job}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for pred := range g.predecessors[cur] {
			if !visited.Has(pred) {
				visited.Add(pred)
				queue = append(queue, pred)
			}
		}
		if j, ok := g.jobs[cur]; ok && j.ParentID != 0 && !visited.Has(j.ParentID) {
			visited.Add(j.ParentID)
			queue = append(queue, j.ParentID)
		}
	}
	delete(visited, job)
	return visited
}

// InvalidateAncestorCache drops any cached ancestor closure for job,
// used after a rewind replay changes the job's predecessor set.
func (g *Graph) InvalidateAncestorCache(job model.JobID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ancestorCache, job)
}

// ReachableFromUnfinished returns the set of job ids reachable
// backwards from any non-DONE job: unfinished jobs plus every job that
// transitively leads to one. This is the "still-live" set CleanChain
// needs (§4.2), and the set rewind computes as live_parents (§4.6).
func (g *Graph) ReachableFromUnfinished() model.JobIDSet {
	g.mu.Lock()
	defer g.mu.Unlock()
	live := make(model.JobIDSet)
	var queue []model.JobID
	for id, j := range g.jobs {
		if j.State != model.JobDone {
			if !live.Has(id) {
				live.Add(id)
				queue = append(queue, id)
			}
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for pred := range g.predecessors[cur] {
			if !live.Has(pred) {
				live.Add(pred)
				queue = append(queue, pred)
			}
		}
	}
	return live
}
