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

package checkpoint

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

// LoadDataCommand asks a worker to reload a previously saved physical
// datum from its opaque handle (§6 LoadData(job_id, ldo, version,
// handle, phys)).
type LoadDataCommand struct {
	JobID   model.JobID
	LDO     model.LDOID
	Version model.Version
	Handle  string
	Worker  model.WorkerID
	Phys    model.PhysicalID
}

// Rewinder orchestrates worker-loss recovery: mark lost work, restore
// lineage to the newest checkpoint that covers it, and reissue
// LOAD_DATA jobs so the assignment loop can resume (§4.6).
type Rewinder struct {
	graph    *jobgraph.Graph
	ledger   *lineage.Ledger
	dir      *physdir.Directory
	registry *Registry
	ids      *idalloc.Allocator
	logger   *zap.Logger
}

// NewRewinder wires a Rewinder to the controller's shared state.
func NewRewinder(graph *jobgraph.Graph, ledger *lineage.Ledger, dir *physdir.Directory, registry *Registry, ids *idalloc.Allocator) *Rewinder {
	return &Rewinder{
		graph:    graph,
		ledger:   ledger,
		dir:      dir,
		registry: registry,
		ids:      ids,
		logger:   log.L().With(zap.String("component", "rewind")),
	}
}

// HandleWorkerLoss implements §4.6's worker-loss recovery: every job
// ASSIGNED or RUNNING on worker transitions to LOST, every PDI there is
// marked gone, lineage is pruned to the live-parent set, and LOAD_DATA
// jobs are synthesized from the newest covering checkpoint for the
// LDOs a lost job needed. An LDO for which that checkpoint holds no
// handle at exactly the needed version gets no LOAD_DATA job, even
// when the checkpoint covers it with an older version.
func (r *Rewinder) HandleWorkerLoss(worker model.WorkerID) ([]LoadDataCommand, error) {
	lostJobs := r.graph.LoseWorker(worker)
	r.dir.RemoveWorker(worker)

	if len(lostJobs) == 0 {
		return nil, nil
	}

	requirements := make(map[model.LDOID]model.Version)
	for _, jobID := range lostJobs {
		j, err := r.graph.Get(jobID)
		if err != nil {
			continue // job removed from the graph entirely; nothing to recover
		}
		for _, ldo := range j.InputLDOs() {
			needed := r.ledger.NeededVersion(ldo, jobID, r.graph)
			if cur, ok := requirements[ldo]; !ok || needed > cur {
				requirements[ldo] = needed
			}
		}
	}

	entry, ok := r.registry.NewestCovering(requirements)
	if !ok {
		return nil, cerrors.ErrNoRewindPoint.GenWithStackByArgs()
	}

	liveParents := r.graph.ReachableFromUnfinished()
	for _, ldo := range r.ledger.LDOs() {
		r.ledger.CleanChain(ldo, liveParents)
	}
	for _, jobID := range lostJobs {
		r.graph.InvalidateAncestorCache(jobID)
	}

	var commands []LoadDataCommand
	for ldo, version := range requirements {
		handles := entry.GetHandleToLoadData(ldo, version)
		if len(handles) == 0 {
			continue
		}
		// Deterministic choice among equally-valid replicas: the
		// first handle recorded, per the original's tie-break by
		// insertion order rather than a policy that could vary
		// between controller restarts.
		h := handles[0]
		phys := r.dir.AllocPhysicalID(h.WorkerID)
		r.dir.Create(ldo, h.WorkerID, phys, version)
		loadID := r.ids.AllocJobID()
		lj := &model.Job{
			ID:     loadID,
			Kind:   model.JobLoadData,
			Before: model.NewJobIDSet(),
			After:  model.NewJobIDSet(),
			Write:  model.NewLDOIDSet(ldo),
		}
		r.graph.AddJob(lj)
		commands = append(commands, LoadDataCommand{
			JobID:   loadID,
			LDO:     ldo,
			Version: version,
			Handle:  h.Handle,
			Worker:  h.WorkerID,
			Phys:    phys,
		})
	}

	r.logger.Info("rewound to checkpoint",
		zap.Int64("checkpoint_id", int64(entry.ID())),
		zap.Int("lost_jobs", len(lostJobs)),
		zap.Int("load_data_jobs", len(commands)))
	return commands, nil
}
