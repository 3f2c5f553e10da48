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

// Package assigner implements the job graph's assignment loop (§4.4):
// pop a ready job, pick a worker for it, and resolve every LDO it
// reads or writes to a VALID physical replica on that worker,
// synthesizing CREATE/REMOTE_COPY_SEND+RECEIVE jobs as predecessors
// when a replica does not already exist there (Plan never emits a
// LOCAL_COPY job, although LocalCopyCommand is defined). Grounded
// on the filter-chain worker-selection pattern in
// engine/servermaster/scheduler/scheduler.go, generalized from
// "eligible executors for one task" to "best worker by data locality
// and load for one job".
package assigner

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/idalloc"
	"github.com/nimbusctl/controller/pkg/jobgraph"
	"github.com/nimbusctl/controller/pkg/lineage"
	"github.com/nimbusctl/controller/pkg/model"
	"github.com/nimbusctl/controller/pkg/physdir"
)

// WorkerStatus is what the worker-selection policy needs to know about
// one connected worker.
type WorkerStatus struct {
	ID              model.WorkerID
	OutstandingLoad int
}

// WorkerInfoProvider reports the set of connected workers eligible to
// receive work.
type WorkerInfoProvider interface {
	Workers() []WorkerStatus
}

// ExecuteCommand is the resolved EXECUTE command the assigner emits
// once every input of a job has a VALID physical replica on its
// assigned worker (§6 Execute(job_id, name, read_phys, write_phys,
// before, after, params)).
type ExecuteCommand struct {
	JobID     model.JobID
	Name      string
	Worker    model.WorkerID
	ReadPhys  map[model.LDOID]model.PhysicalID
	WritePhys map[model.LDOID]model.PhysicalID
	Before    []model.JobID
	Params    []byte
}

// SynthesizedJob is one job the assigner threaded into the graph as a
// new predecessor of the job under plan; the caller (controller) still
// owns dispatching the corresponding command to the relevant worker.
type SynthesizedJob struct {
	Job     *model.Job
	Command any // *CreateCommand, *LocalCopyCommand, or a send/receive pair
}

// CreateCommand asks a worker to allocate and zero-initialize a fresh
// physical replica.
type CreateCommand struct {
	JobID  model.JobID
	Worker model.WorkerID
	LDO    model.LDOID
	Phys   model.PhysicalID
}

// LocalCopyCommand asks a worker to copy between two local replicas.
type LocalCopyCommand struct {
	JobID    model.JobID
	Worker   model.WorkerID
	FromPhys model.PhysicalID
	ToPhys   model.PhysicalID
}

// RemoteCopyCommand is the paired send/receive synthesized for a cross-
// worker copy; the receive's Before set names the send job id so the
// worker gates on arrival, and the controller's own graph additionally
// gates the receive on the send for bookkeeping (§4.4 "Copy-job
// ordering").
type RemoteCopyCommand struct {
	SendJobID    model.JobID
	ReceiveJobID model.JobID
	LDO          model.LDOID
	FromWorker   model.WorkerID
	ToWorker     model.WorkerID
	FromPhys     model.PhysicalID
	ToPhys       model.PhysicalID
	// Version is the version being replicated, needed by the receive
	// side to finalize the destination PDI once the copy completes.
	Version model.Version
}

// pendingInput tracks, for one job under plan, which of its input LDOs
// already have an in-flight synthesized predecessor so a second Plan
// pass does not double-synthesize while waiting for it to complete.
type pendingInput struct {
	inFlight map[model.LDOID]struct{}
}

// Assigner runs the assignment loop's per-job planning step.
type Assigner struct {
	graph   *jobgraph.Graph
	ledger  *lineage.Ledger
	dir     *physdir.Directory
	ids     *idalloc.Allocator
	workers WorkerInfoProvider
	logger  *zap.Logger

	pending map[model.JobID]*pendingInput
}

// New returns an Assigner wired to the controller's shared state.
func New(graph *jobgraph.Graph, ledger *lineage.Ledger, dir *physdir.Directory, ids *idalloc.Allocator, workers WorkerInfoProvider) *Assigner {
	return &Assigner{
		graph:   graph,
		ledger:  ledger,
		dir:     dir,
		ids:     ids,
		workers: workers,
		logger:  log.L().With(zap.String("component", "assigner")),
		pending: make(map[model.JobID]*pendingInput),
	}
}

// ChooseWorker implements step 2 of the assignment loop: prefer the
// worker already holding the most of the job's input LDOs at a
// compatible version, ties broken by least outstanding load.
func (a *Assigner) ChooseWorker(job *model.Job) (model.WorkerID, error) {
	candidates := a.workers.Workers()
	if len(candidates) == 0 {
		return 0, cerrors.ErrNoQualifiedWorker.GenWithStackByArgs(job.ID)
	}

	inputs := job.InputLDOs()
	bestScore := -1
	bestLoad := int(^uint(0) >> 1)
	var best model.WorkerID
	found := false

	for _, w := range candidates {
		score := 0
		for _, ldo := range inputs {
			needed := a.neededVersion(ldo, job)
			for _, p := range a.dir.OnWorker(ldo, w.ID) {
				if p.Version == needed && p.State == model.PDIValid {
					score++
					break
				}
			}
		}
		if score > bestScore || (score == bestScore && w.OutstandingLoad < bestLoad) {
			bestScore = score
			bestLoad = w.OutstandingLoad
			best = w.ID
			found = true
		}
	}
	if !found {
		return 0, cerrors.ErrNoQualifiedWorker.GenWithStackByArgs(job.ID)
	}
	return best, nil
}

func (a *Assigner) neededVersion(ldo model.LDOID, job *model.Job) model.Version {
	return a.ledger.NeededVersion(ldo, job.ID, a.graph)
}

// PlanResult is the outcome of one Plan pass over a job.
type PlanResult struct {
	// Ready is true once every input resolved to a VALID replica on
	// Worker and Execute is populated.
	Ready      bool
	Worker     model.WorkerID
	Execute    *ExecuteCommand
	Synthesized []SynthesizedJob
}

// Plan runs one pass of steps 2-4 of the assignment loop for job.
// Callers are expected to re-invoke Plan for the same job once every
// job in the returned Synthesized slice reaches DONE (the graph's
// normal promotion path re-adds job to the ready frontier at that
// point since Plan wires each synthesized job in as a predecessor).
func (a *Assigner) Plan(job *model.Job) (PlanResult, error) {
	worker, err := a.ChooseWorker(job)
	if err != nil {
		return PlanResult{}, err
	}

	st, ok := a.pending[job.ID]
	if !ok {
		st = &pendingInput{inFlight: make(map[model.LDOID]struct{})}
		a.pending[job.ID] = st
	}

	readPhys := make(map[model.LDOID]model.PhysicalID)
	writePhys := make(map[model.LDOID]model.PhysicalID)
	var synthesized []SynthesizedJob
	allResolved := true

	resolve := func(ldo model.LDOID, isWrite bool) error {
		needed := a.neededVersion(ldo, job)
		sel := a.dir.Select(worker, ldo, needed)

		switch sel.Kind {
		case physdir.SelectionLocal:
			if sel.Local.State == model.PDIValid {
				// The directory moved this replica to VALID since an
				// earlier pass synthesized whatever was producing it;
				// the wait is over.
				delete(st.inFlight, ldo)
				if isWrite {
					writePhys[ldo] = sel.Local.PhysicalID
				} else {
					readPhys[ldo] = sel.Local.PhysicalID
				}
				return nil
			}
			// CREATING: still in flight, wait.
			allResolved = false
			return nil

		case physdir.SelectionRemoteCopy:
			allResolved = false
			if _, inFlight := st.inFlight[ldo]; inFlight {
				// Synthesis already underway from an earlier pass.
				return nil
			}
			st.inFlight[ldo] = struct{}{}
			sjs := a.synthesizeRemoteCopy(job, ldo, worker, sel)
			synthesized = append(synthesized, sjs...)
			return nil

		case physdir.SelectionRewind:
			if isWrite {
				// No replica of this write target exists anywhere,
				// which for a write (unlike a read) just means
				// nothing has produced it yet: leave writePhys unset
				// so the write loop below synthesizes a fresh CREATE
				// rather than escalating to rewind.
				return nil
			}
			return cerrors.ErrVersionUnavailable.GenWithStackByArgs(ldo, needed)

		default:
			if isWrite {
				return nil
			}
			return cerrors.ErrVersionUnavailable.GenWithStackByArgs(ldo, needed)
		}
	}

	for ldo := range job.Read {
		if err := resolve(ldo, false); err != nil {
			return PlanResult{}, err
		}
	}
	for ldo := range job.Write {
		if err := resolve(ldo, true); err != nil {
			return PlanResult{}, err
		}
		if _, ok := writePhys[ldo]; !ok {
			// write targets with no existing local replica need a
			// fresh CREATE, not a copy.
			if _, inFlight := st.inFlight[ldo]; !inFlight {
				allResolved = false
				st.inFlight[ldo] = struct{}{}
				phys := a.dir.AllocPhysicalID(worker)
				a.dir.Create(ldo, worker, phys, 0)
				createID := a.ids.AllocJobID()
				cj := &model.Job{
					ID:     createID,
					Kind:   model.JobCreate,
					Before: model.NewJobIDSet(),
					After:  model.NewJobIDSet(),
					Write:  model.NewLDOIDSet(ldo),
				}
				a.graph.AddJob(cj)
				a.graph.AddVersionEdge(createID, job.ID)
				synthesized = append(synthesized, SynthesizedJob{
					Job:     cj,
					Command: &CreateCommand{JobID: createID, Worker: worker, LDO: ldo, Phys: phys},
				})
			}
		}
	}

	if !allResolved || len(synthesized) > 0 {
		a.graph.ReturnToPending(job.ID)
		return PlanResult{Ready: false, Worker: worker, Synthesized: synthesized}, nil
	}

	delete(a.pending, job.ID)
	if err := a.graph.Assign(job.ID, worker); err != nil {
		return PlanResult{}, err
	}
	before := job.Before.Slice()
	return PlanResult{
		Ready:  true,
		Worker: worker,
		Execute: &ExecuteCommand{
			JobID:     job.ID,
			Name:      job.Name,
			Worker:    worker,
			ReadPhys:  readPhys,
			WritePhys: writePhys,
			Before:    before,
			Params:    job.Params,
		},
	}, nil
}

// synthesizeRemoteCopy threads a paired REMOTE_COPY_SEND/RECEIVE (and,
// if the destination has no replica of ldo at all, a CREATE before the
// receive) as predecessors of job.
func (a *Assigner) synthesizeRemoteCopy(job *model.Job, ldo model.LDOID, dest model.WorkerID, sel physdir.Selection) []SynthesizedJob {
	var out []SynthesizedJob

	a.dir.BeginTransfer(ldo, sel.Source.PhysicalID)

	destPhys := model.PhysicalID(0)
	if sel.NeedsCreate {
		destPhys = a.dir.AllocPhysicalID(dest)
		a.dir.Create(ldo, dest, destPhys, sel.Source.Version)
		createID := a.ids.AllocJobID()
		cj := &model.Job{
			ID:     createID,
			Kind:   model.JobCreate,
			Before: model.NewJobIDSet(),
			After:  model.NewJobIDSet(),
			Write:  model.NewLDOIDSet(ldo),
		}
		a.graph.AddJob(cj)
		out = append(out, SynthesizedJob{
			Job:     cj,
			Command: &CreateCommand{JobID: createID, Worker: dest, LDO: ldo, Phys: destPhys},
		})
	} else {
		for _, p := range a.dir.OnWorker(ldo, dest) {
			destPhys = p.PhysicalID
			break
		}
	}

	a.logger.Debug("synthesizing remote copy",
		zap.Int64("ldo_id", int64(ldo)),
		zap.Int64("from_worker", int64(sel.Source.WorkerID)),
		zap.Int64("to_worker", int64(dest)))

	sendID := a.ids.AllocJobID()
	recvID := a.ids.AllocJobID()

	sendJob := &model.Job{
		ID:     sendID,
		Kind:   model.JobRemoteCopySend,
		Before: model.NewJobIDSet(),
		After:  model.NewJobIDSet(recvID),
		Read:   model.NewLDOIDSet(ldo),
	}
	recvJob := &model.Job{
		ID:     recvID,
		Kind:   model.JobRemoteCopyReceive,
		Before: model.NewJobIDSet(sendID),
		After:  model.NewJobIDSet(),
		Write:  model.NewLDOIDSet(ldo),
	}
	if sel.NeedsCreate {
		recvJob.Before.Add(out[0].Job.ID)
	}

	a.graph.AddJob(sendJob)
	a.graph.AddJob(recvJob)
	a.graph.AddVersionEdge(recvID, job.ID)

	out = append(out,
		SynthesizedJob{Job: sendJob, Command: &RemoteCopyCommand{
			SendJobID: sendID, ReceiveJobID: recvID,
			LDO:        ldo,
			FromWorker: sel.Source.WorkerID, ToWorker: dest,
			FromPhys: sel.Source.PhysicalID, ToPhys: destPhys,
			Version:  sel.Source.Version,
		}},
		SynthesizedJob{Job: recvJob},
	)
	return out
}

// NotifyJobLost drops any in-flight synthesis bookkeeping for a job
// that was ASSIGNED or RUNNING when its worker was lost, so a rewind's
// re-plan starts clean.
func (a *Assigner) NotifyJobLost(jobID model.JobID) {
	delete(a.pending, jobID)
}
