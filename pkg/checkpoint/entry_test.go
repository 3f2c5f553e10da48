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

	"github.com/nimbusctl/controller/pkg/model"
)

func TestEntryCompletesWhenAllSaveJobsReportHandles(t *testing.T) {
	e := NewEntry(1)
	e.AddSaveDataJob(10, 100, 1, 5)
	e.AddSaveDataJob(11, 200, 1, 6)
	require.False(t, e.IsComplete())

	require.NoError(t, e.NotifySaveDataJobDone(10, "handle-a"))
	require.False(t, e.IsComplete())

	require.NoError(t, e.NotifySaveDataJobDone(11, "handle-b"))
	require.True(t, e.IsComplete())
}

func TestNotifySaveDataJobDoneUnknownJobIsError(t *testing.T) {
	e := NewEntry(1)
	err := e.NotifySaveDataJobDone(999, "handle")
	require.Error(t, err)
}

func TestGetHandleToLoadDataReturnsRecordedHandles(t *testing.T) {
	e := NewEntry(1)
	e.AddSaveDataJob(10, 100, 3, 5)
	require.NoError(t, e.NotifySaveDataJobDone(10, "handle-a"))

	handles := e.GetHandleToLoadData(100, 3)
	require.Len(t, handles, 1)
	require.Equal(t, model.WorkerID(5), handles[0].WorkerID)
	require.Equal(t, "handle-a", handles[0].Handle)

	require.Empty(t, e.GetHandleToLoadData(100, 4))
}

func TestCoversFindsAnyVersionAtOrBelowRequested(t *testing.T) {
	e := NewEntry(1)
	e.AddSaveDataJob(10, 100, 2, 5)
	require.NoError(t, e.NotifySaveDataJobDone(10, "handle-a"))

	require.True(t, e.Covers(100, 2))
	require.True(t, e.Covers(100, 5), "a checkpoint at v2 covers a requirement for v5 replayed forward from it")
	require.False(t, e.Covers(100, 1))
}

func TestRegistryNewestCoveringSkipsIncompleteEntries(t *testing.T) {
	r := NewRegistry()

	incomplete := NewEntry(1)
	incomplete.AddSaveDataJob(10, 100, 1, 5) // never completed
	r.Open(incomplete)

	complete := NewEntry(2)
	complete.AddSaveDataJob(11, 100, 1, 5)
	require.NoError(t, complete.NotifySaveDataJobDone(11, "handle-a"))
	r.Open(complete)

	entry, ok := r.NewestCovering(map[model.LDOID]model.Version{100: 1})
	require.True(t, ok)
	require.Equal(t, model.CheckpointID(2), entry.ID())
}

func TestRegistryNewestCoveringNoneCoversIsNotOK(t *testing.T) {
	r := NewRegistry()
	e := NewEntry(1)
	e.AddSaveDataJob(10, 100, 1, 5)
	require.NoError(t, e.NotifySaveDataJobDone(10, "handle-a"))
	r.Open(e)

	_, ok := r.NewestCovering(map[model.LDOID]model.Version{200: 1})
	require.False(t, ok)
}
