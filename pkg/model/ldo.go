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

package model

// LDO is a logical data object: a named region of data in a
// partition. Immutable once defined.
type LDO struct {
	ID                 LDOID
	Name               string
	PartitionID        PartitionID
	Region             Region
	NeighborPartitions []PartitionID
	ParentJobID        JobID
	Params             []byte
}

// Partition is a declared geometric domain that LDOs live in.
// Partitions are declared, never auto-derived (see Non-goals).
type Partition struct {
	ID     PartitionID
	Region Region
}
