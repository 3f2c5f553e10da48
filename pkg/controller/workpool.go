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

	"golang.org/x/sync/semaphore"
)

// workPool bounds the number of concurrent template-expansion
// goroutines the controller spawns off its single event loop; lineage
// walks run inline under the coarse lock and do not go through it.
// The teacher's own bounded pool
// (github.com/pingcap/tiflow/pkg/workerpool) is an internal package of
// its monorepo, not importable as a third-party module once this repo
// stands alone, so this reaches for golang.org/x/sync/semaphore
// instead — already part of the teacher's own dependency graph, and
// the standard weighted-semaphore building block for exactly this
// shape of bounded fan-out.
type workPool struct {
	sem *semaphore.Weighted
}

// newWorkPool builds a pool that runs at most n submitted functions
// concurrently.
func newWorkPool(n int64) *workPool {
	return &workPool{sem: semaphore.NewWeighted(n)}
}

// Submit blocks until a slot is free (or ctx is done), then runs fn in
// a new goroutine and returns immediately. fn's error, if any, is
// delivered to onErr from that goroutine.
func (p *workPool) Submit(ctx context.Context, fn func() error, onErr func(error)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		if err := fn(); err != nil && onErr != nil {
			onErr(err)
		}
	}()
	return nil
}
