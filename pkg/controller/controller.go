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

// Package controller wires the job graph, lineage ledger, physical
// directory, registry, assigner, template engine and checkpoint
// subsystems behind one coarse lock and a single event loop, the
// concurrency shape §5 calls for: "a single controller goroutine owns
// all mutable state... one coarse lock suffices since the critical
// sections are short; template expansion and lineage walks that can
// run longer are handed to a bounded pool." Grounded in the run-loop
// shape of the teacher's master (engine/framework/base_jobmaster.go's
// Init-once / repeated-Poll-Tick / Close), generalized from one
// job-master-per-job to one controller-per-run.
package controller

import (
	"context"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/nimbusctl/controller/pkg/assigner"
	"github.com/nimbusctl/controller/pkg/checkpoint"
	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/idalloc"
	"github.com/nimbusctl/controller/pkg/jobgraph"
	"github.com/nimbusctl/controller/pkg/lineage"
	"github.com/nimbusctl/controller/pkg/model"
	"github.com/nimbusctl/controller/pkg/physdir"
	"github.com/nimbusctl/controller/pkg/registry"
	"github.com/nimbusctl/controller/pkg/router"
	"github.com/nimbusctl/controller/pkg/template"
)

// Controller is the single event-loop owner of a run's state.
type Controller struct {
	mu sync.Mutex // the coarse lock: held for every handler and Tick step

	graph    *jobgraph.Graph
	ledger   *lineage.Ledger
	dir      *physdir.Directory
	reg      *registry.Registry
	tmpl     *template.Engine
	assign   *assigner.Assigner
	checkReg *checkpoint.Registry
	store    *checkpoint.Store
	rewinder *checkpoint.Rewinder
	ids      *idalloc.Allocator

	workers map[model.WorkerID]*workerConn

	// completion tracks, per in-flight non-COMPUTE job, the directory
	// transition its JobDone should trigger. COMPUTE/COMBINE jobs
	// instead use writeCompletion, since they can write several LDOs
	// at once.
	completion      map[model.JobID]physCompletion
	writeCompletion map[model.JobID]map[model.LDOID]model.PhysicalID

	router *router.Router
	pool   *workPool
	logger *zap.Logger
}

// workerConn tracks one connected worker's outstanding load, the input
// assigner.WorkerInfoProvider needs for load-based tie-breaks.
type workerConn struct {
	load int
}

// completionKind discriminates which directory call a non-COMPUTE
// job's completion should make.
type completionKind int

const (
	completionCreate completionKind = iota
	completionSendEnd
	completionReceive
)

// physCompletion is the directory transition to apply once a
// synthesized job's JobDone arrives.
type physCompletion struct {
	kind    completionKind
	ldo     model.LDOID
	phys    model.PhysicalID
	version model.Version
}

// workerStatusesLocked backs workerProvider.Workers, the
// assigner.WorkerInfoProvider implementation. Caller must hold c.mu.
func (c *Controller) workerStatusesLocked() []assigner.WorkerStatus {
	out := make([]assigner.WorkerStatus, 0, len(c.workers))
	for id, w := range c.workers {
		out = append(out, assigner.WorkerStatus{ID: id, OutstandingLoad: w.load})
	}
	return out
}

// workerProvider adapts Controller to assigner.WorkerInfoProvider
// without exposing the coarse lock to the assigner package.
type workerProvider struct{ c *Controller }

func (p workerProvider) Workers() []assigner.WorkerStatus { return p.c.workerStatusesLocked() }

// New builds a Controller over a fresh, empty run. r is the router it
// registers its protocol handlers on and sends commands back to
// workers through (the router serializes per-worker order); store may
// be nil; poolSize bounds concurrent template expansions.
func New(r *router.Router, store *checkpoint.Store, poolSize int64) *Controller {
	graph := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	ids := idalloc.New()

	c := &Controller{
		graph:           graph,
		ledger:          ledger,
		dir:             dir,
		reg:             registry.New(),
		tmpl:            template.New(ids),
		checkReg:        checkpoint.NewRegistry(),
		store:           store,
		ids:             ids,
		workers:         make(map[model.WorkerID]*workerConn),
		completion:      make(map[model.JobID]physCompletion),
		writeCompletion: make(map[model.JobID]map[model.LDOID]model.PhysicalID),
		router:          r,
		pool:            newWorkPool(poolSize),
		logger:          log.L().With(zap.String("component", "controller")),
	}
	c.assign = assigner.New(graph, ledger, dir, ids, workerProvider{c})
	c.rewinder = checkpoint.NewRewinder(graph, ledger, dir, c.checkReg, ids)
	c.registerHandlers()
	return c
}

func (c *Controller) registerHandlers() {
	reg := func(kind router.Kind, fn router.Handler) {
		c.router.RegisterHandler(kind, fn)
	}
	reg(router.KindHandshake, c.onHandshake)
	reg(router.KindSpawnCompute, c.onSpawnCompute)
	reg(router.KindSpawnCopy, c.onSpawnCopy)
	reg(router.KindDefineData, c.onDefineData)
	reg(router.KindDefinePartition, c.onDefinePartition)
	reg(router.KindJobDone, c.onJobDone)
	reg(router.KindSaveDataDone, c.onSaveDataDone)
	reg(router.KindDetectTemplate, c.onDetectTemplate)
	reg(router.KindAddComputeJobToTemplate, c.onAddComputeJobToTemplate)
	reg(router.KindFinalizeTemplate, c.onFinalizeTemplate)
	reg(router.KindInstantiateTemplate, c.onInstantiateTemplate)
	reg(router.KindWorkerTerminate, c.onWorkerTerminate)
}

// FrontierDepth reports how many jobs are currently sitting on the
// ready frontier, the queue-depth series the metrics package samples.
func (c *Controller) FrontierDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Frontier().Len()
}

// OnWorkerLost runs §4.6's recovery path for an ungracefully
// disconnected worker (transport-detected, not a protocol message),
// and dispatches the resulting LOAD_DATA commands.
func (c *Controller) OnWorkerLost(ctx context.Context, worker model.WorkerID) error {
	c.mu.Lock()
	delete(c.workers, worker)
	cmds, err := c.rewinder.HandleWorkerLoss(worker)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		msg := router.Message{Worker: cmd.Worker, Kind: router.KindLoadData, Body: router.LoadData{
			JobID: cmd.JobID, LDO: cmd.LDO, Version: cmd.Version, Handle: cmd.Handle, Phys: cmd.Phys,
		}}
		if err := c.router.Send(ctx, cmd.Worker, msg); err != nil {
			c.logger.Warn("failed to dispatch LoadData after rewind", zap.Error(err))
		}
	}
	return nil
}

func (c *Controller) onHandshake(ctx context.Context, msg Message) error {
	hs := msg.Body.(router.Handshake)
	worker := hs.Worker
	if worker == 0 {
		worker = c.allocWorkerID()
	}
	c.mu.Lock()
	if _, ok := c.workers[worker]; !ok {
		c.workers[worker] = &workerConn{}
	}
	c.mu.Unlock()
	c.logger.Info("worker joined", zap.Int64("worker", int64(worker)))
	return nil
}

// allocWorkerID hands out a worker id for a first-time handshake: one
// past the largest id currently registered. It does not use the id
// allocator, so the id of a worker that has already left can be
// handed out again.
func (c *Controller) allocWorkerID() model.WorkerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	var maxID model.WorkerID
	for id := range c.workers {
		if id > maxID {
			maxID = id
		}
	}
	return maxID + 1
}

func (c *Controller) onSpawnCompute(ctx context.Context, msg Message) error {
	sc := msg.Body.(router.SpawnCompute)
	j := &model.Job{
		ID:       sc.JobID,
		Kind:     model.JobCompute,
		Name:     sc.Name,
		ParentID: sc.Parent,
		Read:     model.NewLDOIDSet(sc.Read...),
		Write:    model.NewLDOIDSet(sc.Write...),
		Before:   model.NewJobIDSet(sc.Before...),
		After:    model.NewJobIDSet(sc.After...),
		Params:   sc.Params,
		Sterile:  sc.Sterile,
		Region:   sc.Region,
	}
	c.mu.Lock()
	c.graph.AddJob(j)
	c.mu.Unlock()
	return nil
}

func (c *Controller) onSpawnCopy(ctx context.Context, msg Message) error {
	sc := msg.Body.(router.SpawnCopy)
	j := &model.Job{
		ID:       sc.JobID,
		Kind:     model.JobLocalCopy, // refined to REMOTE_COPY_* by the assigner at plan time
		ParentID: sc.Parent,
		Read:     model.NewLDOIDSet(sc.From),
		Write:    model.NewLDOIDSet(sc.To),
		Before:   model.NewJobIDSet(sc.Before...),
		After:    model.NewJobIDSet(sc.After...),
		Params:   sc.Params,
	}
	c.mu.Lock()
	c.graph.AddJob(j)
	c.mu.Unlock()
	return nil
}

func (c *Controller) onDefineData(ctx context.Context, msg Message) error {
	dd := msg.Body.(router.DefineData)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.DefineData(dd.Name, dd.LDO, dd.Partition, dd.Neighbors, dd.Parent, dd.Region, dd.Params)
}

func (c *Controller) onDefinePartition(ctx context.Context, msg Message) error {
	dp := msg.Body.(router.DefinePartition)
	c.mu.Lock()
	c.reg.DefinePartition(dp.Partition, dp.Region)
	c.mu.Unlock()
	return nil
}

func (c *Controller) onJobDone(ctx context.Context, msg Message) error {
	jd := msg.Body.(router.JobDone)
	c.mu.Lock()
	defer c.mu.Unlock()
	j, err := c.graph.Get(jd.JobID)
	if err != nil {
		// UNKNOWN_ID: drop, idempotent-safe (§7).
		c.logger.Warn("JobDone for unknown job", zap.Int64("job", int64(jd.JobID)))
		return nil
	}
	if j.Worker != 0 {
		if w, ok := c.workers[j.Worker]; ok && w.load > 0 {
			w.load--
		}
	}

	if pc, ok := c.completion[jd.JobID]; ok {
		delete(c.completion, jd.JobID)
		switch pc.kind {
		case completionCreate:
			c.dir.CompleteCreate(pc.ldo, pc.phys)
		case completionSendEnd:
			c.dir.EndTransfer(pc.ldo, pc.phys)
		case completionReceive:
			c.dir.CompleteWrite(pc.ldo, pc.phys, pc.version)
		}
	} else if writes, ok := c.writeCompletion[jd.JobID]; ok {
		delete(c.writeCompletion, jd.JobID)
		for ldo, phys := range writes {
			v := c.ledger.Append(ldo, jd.JobID, j.Depth, j.Sterile)
			c.dir.CompleteWrite(ldo, phys, v)
		}
	}

	return c.graph.Complete(jd.JobID)
}

func (c *Controller) onSaveDataDone(ctx context.Context, msg Message) error {
	sd := msg.Body.(router.SaveDataDone)
	c.mu.Lock()
	defer c.mu.Unlock()
	// Entries are looked up by scanning open ones since a SaveDataDone
	// does not itself name a checkpoint id (§6). Nothing in this package
	// opens a checkpoint entry or synthesizes SAVE_DATA jobs, so with
	// no entry open every SaveDataDone takes the warning path below.
	for _, id := range c.checkReg.OpenIDs() {
		entry, ok := c.checkReg.Get(id)
		if !ok {
			continue
		}
		if err := entry.NotifySaveDataJobDone(sd.JobID, sd.Handle); err == nil {
			return c.graph.Complete(sd.JobID)
		}
	}
	c.logger.Warn("SaveDataDone for a job no open checkpoint entry tracks", zap.Int64("job", int64(sd.JobID)))
	return nil
}

func (c *Controller) onDetectTemplate(ctx context.Context, msg Message) error {
	dt := msg.Body.(router.DetectTemplate)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tmpl.DetectNewTemplate(dt.Name)
}

func (c *Controller) onAddComputeJobToTemplate(ctx context.Context, msg Message) error {
	a := msg.Body.(router.AddComputeJobToTemplate)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tmpl.AddJobToTemplate(a.Name, a.Descriptor)
}

func (c *Controller) onFinalizeTemplate(ctx context.Context, msg Message) error {
	f := msg.Body.(router.FinalizeTemplate)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tmpl.FinalizeTemplate(f.Name)
}

func (c *Controller) onInstantiateTemplate(ctx context.Context, msg Message) error {
	it := msg.Body.(router.InstantiateTemplate)
	c.mu.Lock()
	defer c.mu.Unlock()
	complexID := c.ids.AllocJobID()
	job, err := c.tmpl.InstantiateTemplate(it.Name, it.InnerIDs, it.OuterIDs, it.LDOSlots, nil, it.Parameters, it.Parent, complexID)
	if err != nil {
		return err
	}
	c.graph.AddJob(job)
	return nil
}

func (c *Controller) onWorkerTerminate(ctx context.Context, msg Message) error {
	wt := msg.Body.(router.WorkerTerminate)
	c.logger.Info("worker terminating voluntarily", zap.Int64("worker", int64(msg.Worker)), zap.Int("exit_status", wt.ExitStatus))
	return nil
}

// Message is an alias so handler signatures read naturally without a
// router.-qualified parameter name at every call site.
type Message = router.Message

// Tick runs one pass of the assignment loop: drain the ready frontier,
// expand complex jobs on demand, plan every plain job via the
// assigner, and dispatch the resulting commands. Mirrors the teacher's
// Poll/Tick split (engine/framework/base_jobmaster.go) collapsed into
// one step since this controller has no separate per-job business
// Tick to delegate to.
func (c *Controller) Tick(ctx context.Context) error {
	// Jobs that hit VERSION_UNAVAILABLE this pass are re-queued at low
	// priority once the frontier is drained rather than immediately,
	// so a job stuck waiting on a rewind's LOAD_DATA doesn't spin the
	// loop against itself before anything else had a chance to
	// progress (§4.6: recovery happens out of band, via OnWorkerLost).
	var stalled []model.JobID
	defer func() {
		if len(stalled) == 0 {
			return
		}
		c.mu.Lock()
		for _, id := range stalled {
			c.graph.Frontier().PushLowPriority(id)
		}
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		id, ok := c.graph.Frontier().Pop()
		if !ok {
			c.mu.Unlock()
			return nil
		}
		job, err := c.graph.Get(id)
		if err != nil {
			c.mu.Unlock()
			continue
		}

		switch job.Kind {
		case model.JobComplex:
			c.mu.Unlock()
			if err := c.pool.Submit(ctx, func() error {
				return c.expandComplex(job)
			}, func(err error) {
				c.logger.Error("template expansion failed", zap.Int64("job", int64(id)), zap.Error(err))
			}); err != nil {
				return err
			}
			continue

		case model.JobCreate, model.JobRemoteCopySend, model.JobRemoteCopyReceive, model.JobSaveData, model.JobLoadData:
			// These vertices exist purely for dependency bookkeeping:
			// the command that actually runs them on a worker was
			// already sent at synthesis time (dispatchSynthesized for
			// CREATE/REMOTE_COPY_*, OnWorkerLost for LOAD_DATA). The
			// ready frontier only sees them because AddJob enqueues
			// anything with no unmet predecessors; Tick has nothing
			// further to plan until their JobDone arrives.
			c.mu.Unlock()
			continue
		}

		result, planErr := c.assign.Plan(job)
		c.mu.Unlock()
		if planErr != nil {
			if cerrors.Classify(planErr) == cerrors.KindVersionUnavailable {
				c.logger.Warn("version unavailable, will retry after rewind recovery", zap.Int64("job", int64(id)), zap.Error(planErr))
				stalled = append(stalled, id)
				continue
			}
			return planErr
		}

		if err := c.dispatch(ctx, result); err != nil {
			return err
		}
	}
}

// expandComplex materializes one complex job's inner jobs and retires
// the complex vertex, off the main Tick loop but still serialized by
// the coarse lock like every other state mutation. Run through the
// bounded pool so a run with many concurrently-ready template
// instantiations doesn't stall Tick behind template-engine work (§5).
func (c *Controller) expandComplex(job *model.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	inner, err := c.tmpl.Expand(job)
	if err != nil {
		return err
	}
	for _, ij := range inner {
		c.graph.AddJob(ij)
	}
	return c.graph.Complete(job.ID)
}

// dispatch sends every command a Plan pass produced: synthesized
// predecessor jobs first (so a worker never receives an EXECUTE ahead
// of the copy/create it depends on), then the job's own command if it
// fully resolved this pass.
func (c *Controller) dispatch(ctx context.Context, result assigner.PlanResult) error {
	for _, sj := range result.Synthesized {
		if err := c.dispatchSynthesized(ctx, sj); err != nil {
			return err
		}
	}
	if result.Execute == nil {
		return nil
	}
	e := result.Execute
	c.mu.Lock()
	if w, ok := c.workers[e.Worker]; ok {
		w.load++
	}
	if len(e.WritePhys) > 0 {
		c.writeCompletion[e.JobID] = e.WritePhys
	}
	c.mu.Unlock()
	return c.router.Send(ctx, e.Worker, router.Message{
		Worker: e.Worker,
		Kind:   router.KindExecute,
		Body: router.Execute{
			JobID: e.JobID, Name: e.Name, ReadPhys: e.ReadPhys, WritePhys: e.WritePhys,
			Before: e.Before, Params: e.Params,
		},
	})
}

func (c *Controller) dispatchSynthesized(ctx context.Context, sj assigner.SynthesizedJob) error {
	switch cmd := sj.Command.(type) {
	case *assigner.CreateCommand:
		c.mu.Lock()
		c.completion[cmd.JobID] = physCompletion{kind: completionCreate, ldo: cmd.LDO, phys: cmd.Phys}
		c.mu.Unlock()
		return c.router.Send(ctx, cmd.Worker, router.Message{
			Worker: cmd.Worker, Kind: router.KindCreate,
			Body: router.Create{JobID: cmd.JobID, LDO: cmd.LDO, Phys: cmd.Phys},
		})
	case *assigner.LocalCopyCommand:
		return c.router.Send(ctx, cmd.Worker, router.Message{
			Worker: cmd.Worker, Kind: router.KindLocalCopy,
			Body: router.LocalCopy{JobID: cmd.JobID, FromPhys: cmd.FromPhys, ToPhys: cmd.ToPhys},
		})
	case *assigner.RemoteCopyCommand:
		c.mu.Lock()
		c.completion[cmd.SendJobID] = physCompletion{kind: completionSendEnd, ldo: cmd.LDO, phys: cmd.FromPhys}
		c.completion[cmd.ReceiveJobID] = physCompletion{kind: completionReceive, ldo: cmd.LDO, phys: cmd.ToPhys, version: cmd.Version}
		c.mu.Unlock()
		if err := c.router.Send(ctx, cmd.FromWorker, router.Message{
			Worker: cmd.FromWorker, Kind: router.KindRemoteCopySend,
			Body: router.RemoteCopySend{JobID: cmd.SendJobID, FromPhys: cmd.FromPhys, DestWorker: cmd.ToWorker, ReceiveJobID: cmd.ReceiveJobID},
		}); err != nil {
			return err
		}
		return c.router.Send(ctx, cmd.ToWorker, router.Message{
			Worker: cmd.ToWorker, Kind: router.KindRemoteCopyReceive,
			Body: router.RemoteCopyReceive{JobID: cmd.ReceiveJobID, ToPhys: cmd.ToPhys},
		})
	default:
		return nil
	}
}
