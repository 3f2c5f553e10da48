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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusctl/controller/pkg/idalloc"
	"github.com/nimbusctl/controller/pkg/jobgraph"
	"github.com/nimbusctl/controller/pkg/lineage"
	"github.com/nimbusctl/controller/pkg/model"
	"github.com/nimbusctl/controller/pkg/physdir"
)

func TestHandleWorkerLossNoLostJobsIsNoop(t *testing.T) {
	graph := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	registry := NewRegistry()
	ids := idalloc.New()

	rw := NewRewinder(graph, ledger, dir, registry, ids)
	cmds, err := rw.HandleWorkerLoss(999)
	require.NoError(t, err)
	require.Nil(t, cmds)
}

func TestHandleWorkerLossWithNoCoveringCheckpointIsError(t *testing.T) {
	graph := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	registry := NewRegistry()
	ids := idalloc.New()

	writer := &model.Job{ID: 1, Kind: model.JobCompute, Before: model.NewJobIDSet(), After: model.NewJobIDSet(), Write: model.NewLDOIDSet(100)}
	graph.AddJob(writer)
	graph.Frontier().Pop()
	ledger.Append(100, 1, 0, false)
	require.NoError(t, graph.Complete(1))

	reader := &model.Job{ID: 2, Kind: model.JobCompute, Before: model.NewJobIDSet(1), After: model.NewJobIDSet(), Read: model.NewLDOIDSet(100)}
	graph.AddJob(reader)
	require.NoError(t, graph.Assign(2, 7))

	rw := NewRewinder(graph, ledger, dir, registry, ids)
	_, err := rw.HandleWorkerLoss(7)
	require.Error(t, err, "no checkpoint has ever been committed")
}

func TestHandleWorkerLossReissuesLoadData(t *testing.T) {
	graph := jobgraph.New()
	ledger := lineage.New()
	dir := physdir.New()
	registry := NewRegistry()
	ids := idalloc.New()

	writer := &model.Job{ID: 1, Kind: model.JobCompute, Before: model.NewJobIDSet(), After: model.NewJobIDSet(), Write: model.NewLDOIDSet(100)}
	graph.AddJob(writer)
	graph.Frontier().Pop()
	ledger.Append(100, 1, 0, false)
	require.NoError(t, graph.Complete(1))

	reader := &model.Job{ID: 2, Kind: model.JobCompute, Before: model.NewJobIDSet(1), After: model.NewJobIDSet(), Read: model.NewLDOIDSet(100)}
	graph.AddJob(reader)
	require.NoError(t, graph.Assign(2, 7))

	entry := NewEntry(1)
	entry.AddSaveDataJob(50, 100, 1, 9)
	require.NoError(t, entry.NotifySaveDataJobDone(50, "handle-a"))
	registry.Open(entry)

	rw := NewRewinder(graph, ledger, dir, registry, ids)
	cmds, err := rw.HandleWorkerLoss(7)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, model.LDOID(100), cmds[0].LDO)
	require.Equal(t, "handle-a", cmds[0].Handle)
	require.Equal(t, model.WorkerID(9), cmds[0].Worker)

	lostJob, err := graph.Get(2)
	require.NoError(t, err)
	require.Equal(t, model.JobLost, lostJob.State)
}
