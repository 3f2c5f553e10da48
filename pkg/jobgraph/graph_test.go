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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusctl/controller/pkg/model"
)

func newJob(id model.JobID, before ...model.JobID) *model.Job {
	return &model.Job{
		ID:     id,
		Kind:   model.JobCompute,
		Before: model.NewJobIDSet(before...),
		After:  model.NewJobIDSet(),
	}
}

func TestSingleWriterReader(t *testing.T) {
	g := New()
	w := newJob(1)
	g.AddJob(w)
	id, ok := g.Frontier().Pop()
	require.True(t, ok)
	require.Equal(t, model.JobID(1), id)

	r := newJob(2, 1)
	g.AddJob(r)
	_, ok = g.Frontier().Pop()
	require.False(t, ok, "reader not ready until writer done")

	require.NoError(t, g.Complete(1))
	id, ok = g.Frontier().Pop()
	require.True(t, ok)
	require.Equal(t, model.JobID(2), id)
}

func TestFanOut(t *testing.T) {
	g := New()
	g.AddJob(newJob(1))
	g.Frontier().Pop()
	for _, rid := range []model.JobID{2, 3, 4} {
		g.AddJob(newJob(rid, 1))
	}
	require.NoError(t, g.Complete(1))
	require.Equal(t, 3, g.Frontier().Len())
}

func TestDuplicateJobDoneIsIdempotent(t *testing.T) {
	g := New()
	g.AddJob(newJob(1))
	require.NoError(t, g.Complete(1))
	require.NoError(t, g.Complete(1)) // duplicate, must not error
}

func TestCompleteUnknownJobIsUnknownError(t *testing.T) {
	g := New()
	err := g.Complete(999)
	require.Error(t, err)
}

func TestAllPredecessorsDoneInvariant(t *testing.T) {
	g := New()
	g.AddJob(newJob(1))
	g.AddJob(newJob(2, 1))
	require.False(t, g.AllPredecessorsDone(2))
	require.NoError(t, g.Complete(1))
	require.True(t, g.AllPredecessorsDone(2))
}

func TestLowPriorityBandDrainsAfterNormal(t *testing.T) {
	g := New()
	main := &model.Job{ID: 1, Kind: model.JobMain, Sterile: true, Before: model.NewJobIDSet(), After: model.NewJobIDSet()}
	g.AddJob(main)
	g.AddJob(newJob(2))

	first, _ := g.Frontier().Pop()
	require.Equal(t, model.JobID(2), first, "normal band drains before low-priority band")
	second, _ := g.Frontier().Pop()
	require.Equal(t, model.JobID(1), second)
}

func TestIsAncestorViaExplicitBefore(t *testing.T) {
	g := New()
	g.AddJob(newJob(1))
	g.AddJob(newJob(2, 1))
	g.AddJob(newJob(3, 2))

	require.True(t, g.IsAncestor(1, 3))
	require.True(t, g.IsAncestor(2, 3))
	require.False(t, g.IsAncestor(3, 1))
}

func TestIsAncestorViaParentRelation(t *testing.T) {
	g := New()
	parent := newJob(1)
	g.AddJob(parent)
	child := newJob(2)
	child.ParentID = 1
	g.AddJob(child)

	require.True(t, g.IsAncestor(1, 2))
}

func TestReachableFromUnfinishedIncludesPredecessorsOfUnfinished(t *testing.T) {
	g := New()
	g.AddJob(newJob(1))
	g.AddJob(newJob(2, 1))
	require.NoError(t, g.Complete(1))
	// job 2 still PENDING/READY (not DONE)

	live := g.ReachableFromUnfinished()
	require.True(t, live.Has(2))
	require.True(t, live.Has(1), "predecessor of a live job is itself live")
}
