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

package idalloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusctl/controller/pkg/model"
)

func TestAllocJobIDMonotone(t *testing.T) {
	a := New()
	require.Equal(t, model.JobID(1), a.AllocJobID())
	require.Equal(t, model.JobID(2), a.AllocJobID())
	require.Equal(t, model.JobID(3), a.AllocJobID())
}

func TestAllocJobIDRangeContiguous(t *testing.T) {
	a := New()
	require.Equal(t, model.JobID(1), a.AllocJobID())
	ids := a.AllocJobIDRange(4)
	require.Equal(t, []model.JobID{2, 3, 4, 5}, ids)
	require.Equal(t, model.JobID(6), a.AllocJobID())
}

func TestAllocJobIDRangeZeroOrNegative(t *testing.T) {
	a := New()
	require.Nil(t, a.AllocJobIDRange(0))
	require.Nil(t, a.AllocJobIDRange(-1))
}

func TestAllocIDSpacesAreIndependent(t *testing.T) {
	a := New()
	a.AllocJobID()
	a.AllocJobID()
	require.Equal(t, model.LDOID(1), a.AllocLDOID())
	require.Equal(t, model.TemplateGenerationID(1), a.AllocGeneration())
	require.Equal(t, model.CheckpointID(1), a.AllocCheckpointID())
}

func TestAllocJobIDConcurrentUnique(t *testing.T) {
	a := New()
	const n = 200
	seen := make([]bool, n+1)
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id := a.AllocJobID()
			mu.Lock()
			defer mu.Unlock()
			require.False(t, seen[id])
			seen[id] = true
		}()
	}
	wg.Wait()
}

func TestHandleAllocatorUnique(t *testing.T) {
	h := NewHandleAllocator()
	a, b := h.AllocHandle(), h.AllocHandle()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
