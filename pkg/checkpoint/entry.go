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

// Package checkpoint tracks in-flight SAVE_DATA jobs for one
// checkpoint boundary and persists the committed result, per §4.6.
// Grounded on the original scheduler's CheckpointEntry
// (scheduler/checkpoint_entry.h): a checkpoint is "complete" the
// moment every SAVE_DATA job it opened has reported its handle back,
// tracked by a simple pending counter rather than scanning job state.
package checkpoint

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/model"
)

// versionIndex maps a version to every (worker, handle) pair that
// persisted a replica of that version, mirroring the original's
// VersionIndex (data_version_t -> WorkerHandleList).
type versionIndex map[model.Version][]model.WorkerHandle

// Entry is the metadata for one open or committed checkpoint.
type Entry struct {
	mu sync.Mutex

	id model.CheckpointID

	// lvw maps a SAVE_DATA job id to the (ldo, version, worker) it is
	// persisting, so NotifySaveDataJobDone can find where to record
	// the returned handle without the caller repeating that triple.
	lvw map[model.JobID]model.LVW

	// index maps ldo -> version -> handles, the structure
	// GetHandleToLoadData reads from directly.
	index map[model.LDOID]versionIndex

	pendingCount int64
	logger       *zap.Logger
}

// NewEntry opens a checkpoint entry with the given id.
func NewEntry(id model.CheckpointID) *Entry {
	return &Entry{
		id:     id,
		lvw:    make(map[model.JobID]model.LVW),
		index:  make(map[model.LDOID]versionIndex),
		logger: log.L().With(zap.String("component", "checkpoint"), zap.Int64("checkpoint_id", int64(id))),
	}
}

// ID returns the checkpoint's id.
func (e *Entry) ID() model.CheckpointID { return e.id }

// AddSaveDataJob registers a SAVE_DATA job opened for this checkpoint,
// bumping the pending counter until its handle is reported.
func (e *Entry) AddSaveDataJob(jobID model.JobID, ldo model.LDOID, version model.Version, worker model.WorkerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lvw[jobID] = model.LVW{LDOID: ldo, Version: version, WorkerID: worker}
	e.pendingCount++
}

// NotifySaveDataJobDone records the handle a worker returned for a
// previously-registered SAVE_DATA job, decrementing the pending
// counter. Returns an UNKNOWN_ID error for a job this entry never
// opened (dropped per §7, idempotent-safe).
func (e *Entry) NotifySaveDataJobDone(jobID model.JobID, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	lvw, ok := e.lvw[jobID]
	if !ok {
		return cerrors.ErrUnknownJob.GenWithStackByArgs(jobID)
	}
	if e.index[lvw.LDOID] == nil {
		e.index[lvw.LDOID] = make(versionIndex)
	}
	e.index[lvw.LDOID][lvw.Version] = append(e.index[lvw.LDOID][lvw.Version], model.WorkerHandle{
		WorkerID: lvw.WorkerID,
		Handle:   handle,
	})
	if e.pendingCount > 0 {
		e.pendingCount--
	}
	if e.pendingCount == 0 {
		e.logger.Info("checkpoint complete")
	}
	return nil
}

// GetHandleToLoadData returns every (worker, handle) pair that
// persisted ldo at version, used by rewind to pick a LOAD_DATA source.
func (e *Entry) GetHandleToLoadData(ldo model.LDOID, version model.Version) []model.WorkerHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	handles := e.index[ldo][version]
	out := make([]model.WorkerHandle, len(handles))
	copy(out, handles)
	return out
}

// IsComplete reports whether every SAVE_DATA job this entry opened has
// reported its handle.
func (e *Entry) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingCount == 0
}

// PendingCount returns the number of SAVE_DATA jobs still outstanding.
func (e *Entry) PendingCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingCount
}

// Covers reports whether this checkpoint persisted some version of ldo
// that is itself a lineage ancestor walk target — i.e. it has at least
// one handle recorded at or below the requested version. Rewind uses
// this to find the newest checkpoint covering a set of lost jobs'
// ancestors.
func (e *Entry) Covers(ldo model.LDOID, version model.Version) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for v := range e.index[ldo] {
		if v <= version {
			return true
		}
	}
	return false
}

// Registry holds every open or committed checkpoint entry in memory,
// keyed by id; it does not write through to the durable Store.
type Registry struct {
	mu      sync.Mutex
	entries map[model.CheckpointID]*Entry
	order   []model.CheckpointID // insertion order, oldest first
}

// NewRegistry returns an empty in-memory checkpoint registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.CheckpointID]*Entry)}
}

// Open registers a freshly-opened checkpoint entry.
func (r *Registry) Open(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.id] = e
	r.order = append(r.order, e.id)
}

// Get looks up a checkpoint entry by id.
func (r *Registry) Get(id model.CheckpointID) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// OpenIDs returns every tracked checkpoint id, oldest first. Used to
// find the entry a SaveDataDone belongs to when the message itself
// does not name a checkpoint id (§6).
func (r *Registry) OpenIDs() []model.CheckpointID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.CheckpointID(nil), r.order...)
}

// NewestCovering returns the newest committed (complete) checkpoint
// that persisted a replica covering every (ldo, version) requirement,
// or (nil, false) if none does (§4.6: "selects the newest checkpoint
// whose committed prefix covers all LOST jobs' ancestors").
func (r *Registry) NewestCovering(requirements map[model.LDOID]model.Version) (*Entry, bool) {
	r.mu.Lock()
	order := append([]model.CheckpointID(nil), r.order...)
	r.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		e, ok := r.Get(order[i])
		if !ok || !e.IsComplete() {
			continue
		}
		coversAll := true
		for ldo, version := range requirements {
			if !e.Covers(ldo, version) {
				coversAll = false
				break
			}
		}
		if coversAll {
			return e, true
		}
	}
	return nil, false
}
