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

// Package physdir is the physical-data directory: for each LDO, the
// set of physical replicas currently existing on workers, and the
// replica-selection logic the assigner uses to satisfy a reader (§4.3).
// The directory is the only entity allowed to mutate a PDI's state.
package physdir

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/nimbusctl/controller/pkg/model"
)

// Directory owns every PDI record.
type Directory struct {
	mu sync.RWMutex

	// byLDO indexes PDIs by the LDO they replicate.
	byLDO map[model.LDOID]map[model.PhysicalID]*model.PDI
	// nextPhysID is the last physical id handed out, across all workers.
	nextPhysID int64
	// pinned marks PDIs held by a pending local read, making them
	// ineligible for eviction even if obsolete.
	pinned map[model.PhysicalID]int
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{
		byLDO:  make(map[model.LDOID]map[model.PhysicalID]*model.PDI),
		pinned: make(map[model.PhysicalID]int),
	}
}

// AllocPhysicalID hands out the next physical id for a PDI on worker.
// Ids come from one directory-wide sequence, so they are unique per
// worker and also across workers, which the directory relies on since
// it keys an LDO's PDIs by physical id alone.
func (d *Directory) AllocPhysicalID(worker model.WorkerID) model.PhysicalID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextPhysID++
	return model.PhysicalID(d.nextPhysID)
}

// Create registers a new PDI in state CREATING.
func (d *Directory) Create(ldo model.LDOID, worker model.WorkerID, phys model.PhysicalID, version model.Version) *model.PDI {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byLDO[ldo] == nil {
		d.byLDO[ldo] = make(map[model.PhysicalID]*model.PDI)
	}
	pdi := &model.PDI{PhysicalID: phys, LDOID: ldo, WorkerID: worker, Version: version, State: model.PDICreating}
	d.byLDO[ldo][phys] = pdi
	return pdi
}

// Get looks up a PDI by (ldo, physical id).
func (d *Directory) Get(ldo model.LDOID, phys model.PhysicalID) (*model.PDI, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byLDO[ldo][phys]
	return p, ok
}

// OnWorker returns every PDI of ldo that lives on worker.
func (d *Directory) OnWorker(ldo model.LDOID, worker model.WorkerID) []*model.PDI {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*model.PDI
	for _, p := range d.byLDO[ldo] {
		if p.WorkerID == worker {
			out = append(out, p)
		}
	}
	return out
}

// AllReplicas returns every PDI of ldo across every worker.
func (d *Directory) AllReplicas(ldo model.LDOID) []*model.PDI {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*model.PDI, 0, len(d.byLDO[ldo]))
	for _, p := range d.byLDO[ldo] {
		out = append(out, p)
	}
	return out
}

// transition validates and applies a state change, per §4.3's
// transition table. Unexpected transitions are refused (the caller
// gets false) rather than silently applied, since a PDI's state
// machine is a controller-side invariant, not something a worker
// message should be able to force into an arbitrary shape.
func (d *Directory) transition(p *model.PDI, to model.PDIState) bool {
	switch {
	case p.State == model.PDICreating && to == model.PDIValid:
	case p.State == model.PDIValid && to == model.PDIInTransfer:
	case p.State == model.PDIInTransfer && to == model.PDIValid:
	case p.State == model.PDIValid && to == model.PDIValid:
	case p.State == model.PDIValid && to == model.PDIDirty:
	case p.State == model.PDIDirty && to == model.PDIValid:
	default:
		return false
	}
	p.State = to
	return true
}

// CompleteCreate transitions a PDI from CREATING to VALID on
// create-job done.
func (d *Directory) CompleteCreate(ldo model.LDOID, phys model.PhysicalID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byLDO[ldo][phys]
	if !ok {
		return false
	}
	return d.transition(p, model.PDIValid)
}

// BeginTransfer transitions a PDI to IN_TRANSFER when selected as a
// copy source; reverts to VALID on send-done via EndTransfer.
func (d *Directory) BeginTransfer(ldo model.LDOID, phys model.PhysicalID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byLDO[ldo][phys]
	if !ok {
		return false
	}
	return d.transition(p, model.PDIInTransfer)
}

// EndTransfer reverts a PDI from IN_TRANSFER to VALID on send-done.
func (d *Directory) EndTransfer(ldo model.LDOID, phys model.PhysicalID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byLDO[ldo][phys]
	if !ok {
		return false
	}
	return d.transition(p, model.PDIValid)
}

// AnnounceWrite marks a PDI DIRTY: a write has been announced at its
// worker but not yet completed.
func (d *Directory) AnnounceWrite(ldo model.LDOID, phys model.PhysicalID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byLDO[ldo][phys]
	if !ok {
		return false
	}
	return d.transition(p, model.PDIDirty)
}

// CompleteWrite advances a PDI's version and returns it to VALID once
// a compute job writing it completes.
func (d *Directory) CompleteWrite(ldo model.LDOID, phys model.PhysicalID, version model.Version) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.byLDO[ldo][phys]
	if !ok {
		return false
	}
	if version < p.Version {
		log.L().Warn("refusing to move PDI version backwards outside rewind",
			zap.Int64("ldo_id", int64(ldo)), zap.Int64("phys_id", int64(phys)),
			zap.Int64("current", int64(p.Version)), zap.Int64("attempted", int64(version)))
		return false
	}
	if !d.transition(p, model.PDIValid) {
		return false
	}
	p.Version = version
	return true
}

// Pin marks a PDI as held by a pending local read, making it
// ineligible for eviction until Unpin is called a matching number of
// times.
func (d *Directory) Pin(phys model.PhysicalID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pinned[phys]++
}

// Unpin releases one pin on phys.
func (d *Directory) Unpin(phys model.PhysicalID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pinned[phys] <= 1 {
		delete(d.pinned, phys)
		return
	}
	d.pinned[phys]--
}

func (d *Directory) isPinned(phys model.PhysicalID) bool {
	return d.pinned[phys] > 0
}

// RemoveWorker marks every PDI on worker as gone, on connection loss
// (§4.6 "every PDI on that worker is marked gone").
func (d *Directory) RemoveWorker(worker model.WorkerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ldo, byPhys := range d.byLDO {
		for phys, p := range byPhys {
			if p.WorkerID == worker {
				delete(byPhys, phys)
				delete(d.pinned, phys)
			}
		}
		if len(byPhys) == 0 {
			delete(d.byLDO, ldo)
		}
	}
}

// ObsoleteAtWorker returns PDIs on worker for ldo whose version is
// strictly less than needed and which are not pinned by a pending
// local read — eligible for eviction (§4.3 "Obsolete instances").
func (d *Directory) ObsoleteAtWorker(worker model.WorkerID, ldo model.LDOID, needed model.Version) []*model.PDI {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*model.PDI
	for _, p := range d.byLDO[ldo] {
		if p.WorkerID == worker && p.Version < needed && !d.isPinned(p.PhysicalID) {
			out = append(out, p)
		}
	}
	return out
}
