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

// Package idalloc hands out monotone, contiguous ranges of job, LDO
// and template ids.
package idalloc

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nimbusctl/controller/pkg/model"
)

// JobIDAllocator hands out job ids, one at a time or in contiguous
// ranges (for template instantiation, where a whole instance's worth
// of inner job ids is reserved at once).
type JobIDAllocator interface {
	AllocJobID() model.JobID
	AllocJobIDRange(n int) []model.JobID
}

// LDOIDAllocator hands out logical data object ids.
type LDOIDAllocator interface {
	AllocLDOID() model.LDOID
}

// TemplateGenerationAllocator hands out template generation ids, bumped
// each time a template is finalized or re-finalized after
// CleanPartiallyFilledTemplate.
type TemplateGenerationAllocator interface {
	AllocGeneration() model.TemplateGenerationID
}

// CheckpointIDAllocator hands out checkpoint ids.
type CheckpointIDAllocator interface {
	AllocCheckpointID() model.CheckpointID
}

// Allocator is the single contiguous-range id source backing every
// allocator interface above. Each id space is independent, guarded by
// its own counter under one mutex.
type Allocator struct {
	mu sync.Mutex

	nextJob        int64
	nextLDO        int64
	nextGeneration int64
	nextCheckpoint int64
}

// New returns an Allocator that serves every id space used by the
// controller.
func New() *Allocator {
	return &Allocator{}
}

func (a *Allocator) AllocJobID() model.JobID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextJob++
	return model.JobID(a.nextJob)
}

// AllocJobIDRange reserves n contiguous job ids and returns them in
// ascending order. Used by the template engine, which must hand a
// whole instantiation its inner/outer ids up front.
func (a *Allocator) AllocJobIDRange(n int) []model.JobID {
	if n <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.JobID, n)
	for i := 0; i < n; i++ {
		a.nextJob++
		out[i] = model.JobID(a.nextJob)
	}
	return out
}

func (a *Allocator) AllocLDOID() model.LDOID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextLDO++
	return model.LDOID(a.nextLDO)
}

func (a *Allocator) AllocGeneration() model.TemplateGenerationID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextGeneration++
	return model.TemplateGenerationID(a.nextGeneration)
}

func (a *Allocator) AllocCheckpointID() model.CheckpointID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextCheckpoint++
	return model.CheckpointID(a.nextCheckpoint)
}

// HandleAllocator mints opaque save-data handles. Workers are free to
// interpret handles however they like; the controller only needs them
// to be unique and stable across a restart, so it mints them from a
// random UUID rather than a counter, the way the teacher's
// UUIDAllocator mints worker-facing opaque ids.
type HandleAllocator struct{}

// NewHandleAllocator returns a HandleAllocator.
func NewHandleAllocator() *HandleAllocator { return &HandleAllocator{} }

// AllocHandle mints a fresh opaque handle string.
func (HandleAllocator) AllocHandle() string {
	return uuid.New().String()
}
