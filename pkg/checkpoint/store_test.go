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
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestStoreCommitAndLatest(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(openTestDB(t))
	require.NoError(t, err)

	_, ok, err := store.Latest(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	tail := []LineageTailRecord{
		{LDOID: 100, Version: 1, WriterJobID: 10, WorkerID: 5, Handle: "handle-a"},
		{LDOID: 200, Version: 1, WriterJobID: 11, WorkerID: 6, Handle: "handle-b"},
	}
	require.NoError(t, store.Commit(ctx, 1, tail))

	id, ok, err := store.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, id)

	require.NoError(t, store.Commit(ctx, 2, nil))
	id, ok, err = store.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, id)
}

func TestStoreLineageTailFiltersByCheckpointID(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.Commit(ctx, 1, []LineageTailRecord{
		{LDOID: 100, Version: 1, WriterJobID: 10, WorkerID: 5, Handle: "handle-a"},
	}))
	require.NoError(t, store.Commit(ctx, 2, []LineageTailRecord{
		{LDOID: 100, Version: 2, WriterJobID: 11, WorkerID: 5, Handle: "handle-b"},
	}))

	tail, err := store.LineageTail(ctx, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, "handle-a", tail[0].Handle)

	tail, err = store.LineageTail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
}

func TestStoreCommitRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(openTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.Commit(ctx, 1, nil))
	err = store.Commit(ctx, 1, nil)
	require.Error(t, err, "duplicate checkpoint id must violate the primary key")

	id, ok, lerr := store.Latest(ctx)
	require.NoError(t, lerr)
	require.True(t, ok)
	require.EqualValues(t, 1, id, "the failed duplicate commit must not have left a second row")
}
