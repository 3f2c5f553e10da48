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

package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/model"
)

func TestDispatchPreservesPerWorkerOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	r := New(nil, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, r.RegisterHandler(KindJobDone, func(ctx context.Context, msg Message) error {
		mu.Lock()
		seen = append(seen, int(msg.Body.(JobDone).JobID))
		mu.Unlock()
		if len(seen) == 5 {
			wg.Done()
		}
		return nil
	}))

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		r.Dispatch(ctx, Message{Worker: 1, Kind: KindJobDone, Body: JobDone{JobID: model.JobID(i)}})
	}

	waitOrTimeout(t, &wg)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 4, 5}, seen)
}

func TestDispatchUnregisteredKindIsIgnored(t *testing.T) {
	r := New(nil, nil)
	require.NotPanics(t, func() {
		r.Dispatch(context.Background(), Message{Worker: 1, Kind: KindHandshake, Body: Handshake{}})
		time.Sleep(10 * time.Millisecond)
	})
}

func TestProtocolErrorClosesWorkerAndNotifies(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var lostWorker model.WorkerID
	var lostErr error

	r := New(nil, func(worker model.WorkerID, err error) {
		lostWorker = worker
		lostErr = err
		wg.Done()
	})
	require.True(t, r.RegisterHandler(KindJobDone, func(ctx context.Context, msg Message) error {
		return cerrors.ErrProtocol.GenWithStackByArgs(msg.Worker, "bad frame")
	}))

	r.Dispatch(context.Background(), Message{Worker: 3, Kind: KindJobDone, Body: JobDone{JobID: 1}})
	waitOrTimeout(t, &wg)

	require.Equal(t, model.WorkerID(3), lostWorker)
	require.Error(t, lostErr)
	require.Equal(t, cerrors.KindProtocol, cerrors.Classify(lostErr))

	r.mu.Lock()
	_, stillOpen := r.inboxes[3]
	r.mu.Unlock()
	require.False(t, stillOpen)
}

func TestSendSerializesPerWorker(t *testing.T) {
	var mu sync.Mutex
	var order []int
	var active int

	r := New(func(ctx context.Context, worker model.WorkerID, msg Message) error {
		mu.Lock()
		active++
		if active > 1 {
			t.Errorf("concurrent Send to the same worker")
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		order = append(order, int(msg.Body.(Create).JobID))
		active--
		mu.Unlock()
		return nil
	}, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := r.Send(context.Background(), 7, Message{Worker: 7, Kind: KindCreate, Body: Create{JobID: model.JobID(i)}})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}
