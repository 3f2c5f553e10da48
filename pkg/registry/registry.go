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

// Package registry stores the definition of each logical data object
// and the partitions they live in. Definitions are immutable once
// registered; partitions are declared, never auto-derived (§ Non-goals:
// automatic partitioning of logical data is out of scope).
package registry

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/model"
)

// Registry is the logical-data registry and partition table.
type Registry struct {
	mu sync.RWMutex

	partitions map[model.PartitionID]model.Partition
	ldos       map[model.LDOID]model.LDO

	// byPartition indexes LDO ids by their partition, for
	// enumeration without a full scan.
	byPartition map[model.PartitionID]map[model.LDOID]struct{}
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		partitions:  make(map[model.PartitionID]model.Partition),
		ldos:        make(map[model.LDOID]model.LDO),
		byPartition: make(map[model.PartitionID]map[model.LDOID]struct{}),
	}
}

// DefinePartition registers a partition's geometric region. Redefining
// an existing partition id overwrites its region; the protocol (§6
// DefinePartition) does not declare this an error, and workers are
// expected to send it once per partition.
func (r *Registry) DefinePartition(id model.PartitionID, region model.Region) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partitions[id] = model.Partition{ID: id, Region: region}
	if _, ok := r.byPartition[id]; !ok {
		r.byPartition[id] = make(map[model.LDOID]struct{})
	}
}

// GetPartition looks up a partition by id.
func (r *Registry) GetPartition(id model.PartitionID) (model.Partition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.partitions[id]
	if !ok {
		return model.Partition{}, cerrors.ErrUnknownPartition.GenWithStackByArgs(id)
	}
	return p, nil
}

// DefineData registers a new LDO. Fails if the id is already defined
// or the partition is unknown, per §4.1.
func (r *Registry) DefineData(
	name string,
	id model.LDOID,
	partitionID model.PartitionID,
	neighbors []model.PartitionID,
	parentJobID model.JobID,
	region model.Region,
	params []byte,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ldos[id]; exists {
		return cerrors.ErrLDOAlreadyDefined.GenWithStackByArgs(id)
	}
	if _, ok := r.partitions[partitionID]; !ok {
		return cerrors.ErrUnknownPartition.GenWithStackByArgs(partitionID)
	}

	ldo := model.LDO{
		ID:                 id,
		Name:               name,
		PartitionID:        partitionID,
		Region:             region,
		NeighborPartitions: append([]model.PartitionID(nil), neighbors...),
		ParentJobID:        parentJobID,
		Params:             params,
	}
	r.ldos[id] = ldo
	r.byPartition[partitionID][id] = struct{}{}

	log.L().Debug("defined logical data object",
		zap.String("name", name),
		zap.Int64("ldo_id", int64(id)),
		zap.Int64("partition_id", int64(partitionID)))
	return nil
}

// GetLDO looks up an LDO by id.
func (r *Registry) GetLDO(id model.LDOID) (model.LDO, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ldo, ok := r.ldos[id]
	if !ok {
		return model.LDO{}, cerrors.ErrUnknownLDO.GenWithStackByArgs(id)
	}
	return ldo, nil
}

// EnumerateByPartition returns every LDO declared in the given
// partition, in unspecified order.
func (r *Registry) EnumerateByPartition(partitionID model.PartitionID) []model.LDO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byPartition[partitionID]
	out := make([]model.LDO, 0, len(ids))
	for id := range ids {
		out = append(out, r.ldos[id])
	}
	return out
}

// EnumerateByRegion returns every LDO whose region intersects the
// given region. The registry only stores and intersects ranges; it
// does not interpret whether a region denotes points, faces or cells
// (§4.1).
func (r *Registry) EnumerateByRegion(region model.Region) []model.LDO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.LDO, 0)
	for _, ldo := range r.ldos {
		if ldo.Region.Intersects(region) {
			out = append(out, ldo)
		}
	}
	return out
}
