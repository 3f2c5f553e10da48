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

package controller

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusctl/controller/pkg/model"
	"github.com/nimbusctl/controller/pkg/router"
)

// fakeSender records every outbound message keyed by worker, standing
// in for a real transport.
type fakeSender struct {
	mu  sync.Mutex
	out []router.Message
}

func (s *fakeSender) send(ctx context.Context, worker model.WorkerID, msg router.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, msg)
	return nil
}

func (s *fakeSender) messages() []router.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]router.Message(nil), s.out...)
}

func newTestController(t *testing.T) (*Controller, *fakeSender) {
	t.Helper()
	fs := &fakeSender{}
	r := router.New(fs.send, nil)
	c := New(r, nil, 4)
	return c, fs
}

func handshake(t *testing.T, c *Controller) model.WorkerID {
	t.Helper()
	err := c.onHandshake(context.Background(), router.Message{
		Kind: router.KindHandshake,
		Body: router.Handshake{},
	})
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.workers, 1)
	for id := range c.workers {
		return id
	}
	return 0
}

func TestOnHandshakeRegistersWorker(t *testing.T) {
	c, _ := newTestController(t)
	w := handshake(t, c)
	require.NotZero(t, w)

	c.mu.Lock()
	_, ok := c.workers[w]
	c.mu.Unlock()
	require.True(t, ok)
}

func TestTickCreatesThenExecutesFreshWrite(t *testing.T) {
	ctx := context.Background()
	c, fs := newTestController(t)
	worker := handshake(t, c)

	require.NoError(t, c.onDefinePartition(ctx, router.Message{
		Body: router.DefinePartition{Partition: 1, Region: model.Region{}},
	}))
	require.NoError(t, c.onDefineData(ctx, router.Message{
		Body: router.DefineData{Name: "grid", LDO: 1, Partition: 1},
	}))
	require.NoError(t, c.onSpawnCompute(ctx, router.Message{
		Body: router.SpawnCompute{JobID: 100, Name: "init", Write: []model.LDOID{1}},
	}))

	// First pass: the write target has no existing replica, so Tick
	// must synthesize a CREATE before the COMPUTE can be planned.
	require.NoError(t, c.Tick(ctx))
	msgs := fs.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, router.KindCreate, msgs[0].Kind)
	create := msgs[0].Body.(router.Create)
	require.Equal(t, model.LDOID(1), create.LDO)
	require.Equal(t, worker, msgs[0].Worker)

	// Plan wired the CREATE in as a version-edge predecessor of 100
	// (pkg/assigner's AddVersionEdge), so completing it re-readies 100
	// through the graph's normal promotion path.
	require.NoError(t, c.onJobDone(ctx, router.Message{Body: router.JobDone{JobID: create.JobID}}))

	require.NoError(t, c.Tick(ctx))
	msgs = fs.messages()
	require.Len(t, msgs, 2)
	require.Equal(t, router.KindExecute, msgs[1].Kind)
	exec := msgs[1].Body.(router.Execute)
	require.Equal(t, model.JobID(100), exec.JobID)
	require.Contains(t, exec.WritePhys, model.LDOID(1))

	require.NoError(t, c.onJobDone(ctx, router.Message{Body: router.JobDone{JobID: 100}}))
}

func TestTickRequeuesStalledJobOnVersionUnavailable(t *testing.T) {
	ctx := context.Background()
	c, fs := newTestController(t)
	handshake(t, c)

	require.NoError(t, c.onDefinePartition(ctx, router.Message{
		Body: router.DefinePartition{Partition: 1, Region: model.Region{}},
	}))
	require.NoError(t, c.onDefineData(ctx, router.Message{
		Body: router.DefineData{Name: "grid", LDO: 1, Partition: 1},
	}))
	// A reader with no writer anywhere in the directory: Select can
	// only report SelectionRewind, so Plan returns VERSION_UNAVAILABLE.
	require.NoError(t, c.onSpawnCompute(ctx, router.Message{
		Body: router.SpawnCompute{JobID: 200, Name: "consume", Read: []model.LDOID{1}},
	}))

	require.NoError(t, c.Tick(ctx))
	require.Empty(t, fs.messages())

	c.mu.Lock()
	remaining := c.graph.Frontier().Len()
	c.mu.Unlock()
	require.Equal(t, 1, remaining, "stalled job must be requeued, not dropped")
}

func TestOnJobDoneUnknownJobIsDroppedNotErrored(t *testing.T) {
	c, _ := newTestController(t)
	err := c.onJobDone(context.Background(), router.Message{Body: router.JobDone{JobID: 9999}})
	require.NoError(t, err)
}
