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

package assigner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusctl/controller/pkg/idalloc"
	"github.com/nimbusctl/controller/pkg/jobgraph"
	"github.com/nimbusctl/controller/pkg/lineage"
	"github.com/nimbusctl/controller/pkg/model"
	"github.com/nimbusctl/controller/pkg/physdir"
)

type fixedWorkers []WorkerStatus

func (f fixedWorkers) Workers() []WorkerStatus { return f }

func TestChooseWorkerPrefersMostLocalInputs(t *testing.T) {
	g := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	ids := idalloc.New()

	writer := &model.Job{ID: 1, Kind: model.JobCompute, Before: model.NewJobIDSet(), After: model.NewJobIDSet(), Write: model.NewLDOIDSet(100)}
	g.AddJob(writer)
	g.Frontier().Pop()
	ledger.Append(100, 1, 0, false)
	require.NoError(t, g.Complete(1))

	reader := &model.Job{ID: 2, Kind: model.JobCompute, Before: model.NewJobIDSet(1), After: model.NewJobIDSet(), Read: model.NewLDOIDSet(100)}
	g.AddJob(reader)

	phys := dir.AllocPhysicalID(10)
	dir.Create(100, 10, phys, 1)
	dir.CompleteCreate(100, phys)

	a := New(g, ledger, dir, ids, fixedWorkers{{ID: 10, OutstandingLoad: 5}, {ID: 20, OutstandingLoad: 0}})
	w, err := a.ChooseWorker(reader)
	require.NoError(t, err)
	require.Equal(t, model.WorkerID(10), w, "worker 10 already holds the needed version locally")
}

func TestChooseWorkerNoWorkersIsError(t *testing.T) {
	g := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	ids := idalloc.New()
	a := New(g, ledger, dir, ids, fixedWorkers{})

	job := &model.Job{ID: 1, Before: model.NewJobIDSet(), After: model.NewJobIDSet()}
	_, err := a.ChooseWorker(job)
	require.Error(t, err)
}

func TestPlanResolvesLocalInputImmediately(t *testing.T) {
	g := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	ids := idalloc.New()

	writer := &model.Job{ID: 1, Kind: model.JobCompute, Before: model.NewJobIDSet(), After: model.NewJobIDSet(), Write: model.NewLDOIDSet(100)}
	g.AddJob(writer)
	g.Frontier().Pop()
	ledger.Append(100, 1, 0, false)
	require.NoError(t, g.Complete(1))

	reader := &model.Job{ID: 2, Kind: model.JobCompute, Before: model.NewJobIDSet(1), After: model.NewJobIDSet(), Read: model.NewLDOIDSet(100)}
	g.AddJob(reader)

	phys := dir.AllocPhysicalID(10)
	dir.Create(100, 10, phys, 1)
	dir.CompleteCreate(100, phys)

	a := New(g, ledger, dir, ids, fixedWorkers{{ID: 10, OutstandingLoad: 0}})
	res, err := a.Plan(reader)
	require.NoError(t, err)
	require.True(t, res.Ready)
	require.Equal(t, phys, res.Execute.ReadPhys[100])
}

func TestPlanSynthesizesCreateForUnresolvedWrite(t *testing.T) {
	g := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	ids := idalloc.New()

	job := &model.Job{ID: 1, Kind: model.JobCompute, Before: model.NewJobIDSet(), After: model.NewJobIDSet(), Write: model.NewLDOIDSet(100)}
	g.AddJob(job)
	g.Frontier().Pop()

	a := New(g, ledger, dir, ids, fixedWorkers{{ID: 10, OutstandingLoad: 0}})
	res, err := a.Plan(job)
	require.NoError(t, err)
	require.False(t, res.Ready, "no replica exists anywhere, a CREATE must be synthesized first")
	require.Len(t, res.Synthesized, 1)
	require.Equal(t, model.JobCreate, res.Synthesized[0].Job.Kind)
}

func TestPlanSynthesizesRemoteCopyWhenOnlyOtherWorkerHasVersion(t *testing.T) {
	g := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	ids := idalloc.New()

	writer := &model.Job{ID: 1, Kind: model.JobCompute, Before: model.NewJobIDSet(), After: model.NewJobIDSet(), Write: model.NewLDOIDSet(100)}
	g.AddJob(writer)
	g.Frontier().Pop()
	ledger.Append(100, 1, 0, false)
	require.NoError(t, g.Complete(1))

	reader := &model.Job{ID: 2, Kind: model.JobCompute, Before: model.NewJobIDSet(1), After: model.NewJobIDSet(), Read: model.NewLDOIDSet(100)}
	g.AddJob(reader)

	phys := dir.AllocPhysicalID(10)
	dir.Create(100, 10, phys, 1)
	dir.CompleteCreate(100, phys)

	// Destination worker already has a (stale) replica of the ldo, so
	// no CREATE is needed ahead of the receive.
	destPhys := dir.AllocPhysicalID(99)
	dir.Create(100, 99, destPhys, 0)
	dir.CompleteCreate(100, destPhys)

	a := New(g, ledger, dir, ids, fixedWorkers{{ID: 99, OutstandingLoad: 0}})
	res, err := a.Plan(reader)
	require.NoError(t, err)
	require.False(t, res.Ready)
	require.Len(t, res.Synthesized, 2, "expect paired send+receive, no CREATE since destination already has a replica")

	kinds := map[model.JobKind]bool{}
	for _, sj := range res.Synthesized {
		kinds[sj.Job.Kind] = true
	}
	require.True(t, kinds[model.JobRemoteCopySend])
	require.True(t, kinds[model.JobRemoteCopyReceive])
}

func TestPlanEscalatesWhenNoWorkerHasExactVersion(t *testing.T) {
	g := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	ids := idalloc.New()

	writer := &model.Job{ID: 1, Kind: model.JobCompute, Before: model.NewJobIDSet(), After: model.NewJobIDSet(), Write: model.NewLDOIDSet(100)}
	g.AddJob(writer)
	g.Frontier().Pop()
	ledger.Append(100, 1, 0, false)
	require.NoError(t, g.Complete(1))

	reader := &model.Job{ID: 2, Kind: model.JobCompute, Before: model.NewJobIDSet(1), After: model.NewJobIDSet(), Read: model.NewLDOIDSet(100)}
	g.AddJob(reader)
	// No PDI registered anywhere for ldo 100 at version 1.

	a := New(g, ledger, dir, ids, fixedWorkers{{ID: 10, OutstandingLoad: 0}})
	_, err := a.Plan(reader)
	require.Error(t, err)
}
