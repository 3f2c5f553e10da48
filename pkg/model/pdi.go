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

// PDIState is the lifecycle state of a physical data instance.
type PDIState int

const (
	// PDICreating marks a PDI whose CREATE job has not yet completed.
	PDICreating PDIState = iota
	// PDIValid marks a PDI that can satisfy a reader at its recorded
	// version.
	PDIValid
	// PDIDirty marks a PDI whose write has been announced but not yet
	// completed.
	PDIDirty
	// PDIInTransfer marks a PDI currently serving as the source of a
	// remote copy.
	PDIInTransfer
)

// String renders the state for logging.
func (s PDIState) String() string {
	switch s {
	case PDICreating:
		return "CREATING"
	case PDIValid:
		return "VALID"
	case PDIDirty:
		return "DIRTY"
	case PDIInTransfer:
		return "IN_TRANSFER"
	default:
		return "UNKNOWN"
	}
}

// PDI is a concrete replica of an LDO on a specific worker.
type PDI struct {
	PhysicalID PhysicalID
	LDOID      LDOID
	WorkerID   WorkerID
	Version    Version
	State      PDIState
}
