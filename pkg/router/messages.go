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

// Package router dispatches typed messages between the controller and
// workers, preserving delivery order per connection (§6). Message
// *semantics* only: wire framing and the socket layer are out of
// scope (§1 Non-goals), so a Message here is an already-decoded Go
// value, not a byte frame.
package router

import "github.com/nimbusctl/controller/pkg/model"

// Kind discriminates the closed set of protocol messages.
type Kind int

const (
	// Worker -> controller.
	KindHandshake Kind = iota
	KindSpawnCompute
	KindSpawnCopy
	KindDefineData
	KindDefinePartition
	KindJobDone
	KindSaveDataDone
	KindDetectTemplate
	KindAddComputeJobToTemplate
	KindFinalizeTemplate
	KindInstantiateTemplate
	KindWorkerTerminate

	// Controller -> worker.
	KindExecute
	KindCreate
	KindLocalCopy
	KindRemoteCopySend
	KindRemoteCopyReceive
	KindMegaRCR
	KindSaveData
	KindLoadData
	KindControllerTerminate
)

// String renders the kind for logging.
func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "Handshake"
	case KindSpawnCompute:
		return "SpawnCompute"
	case KindSpawnCopy:
		return "SpawnCopy"
	case KindDefineData:
		return "DefineData"
	case KindDefinePartition:
		return "DefinePartition"
	case KindJobDone:
		return "JobDone"
	case KindSaveDataDone:
		return "SaveDataDone"
	case KindDetectTemplate:
		return "DetectTemplate"
	case KindAddComputeJobToTemplate:
		return "AddComputeJobToTemplate"
	case KindFinalizeTemplate:
		return "FinalizeTemplate"
	case KindInstantiateTemplate:
		return "InstantiateTemplate"
	case KindWorkerTerminate:
		return "Terminate(worker)"
	case KindExecute:
		return "Execute"
	case KindCreate:
		return "Create"
	case KindLocalCopy:
		return "LocalCopy"
	case KindRemoteCopySend:
		return "RemoteCopySend"
	case KindRemoteCopyReceive:
		return "RemoteCopyReceive"
	case KindMegaRCR:
		return "MegaRCR"
	case KindSaveData:
		return "SaveData"
	case KindLoadData:
		return "LoadData"
	case KindControllerTerminate:
		return "Terminate(controller)"
	default:
		return "UNKNOWN"
	}
}

// Message is one decoded protocol message plus the worker connection
// it arrived from or is destined to.
type Message struct {
	Worker model.WorkerID
	Kind   Kind
	Body   any
}

// --- Worker -> controller bodies ---

// Handshake is sent by a worker joining the run; Worker is zero for a
// worker that has never been assigned an id, in which case the
// controller's handler allocates one. No reply carries that id back
// to the worker, and cmd/controller refuses a connection whose
// handshake has a zero id.
type Handshake struct {
	Worker model.WorkerID
}

// SpawnCompute reports a new COMPUTE job spawned by a running job.
type SpawnCompute struct {
	JobID    model.JobID
	Name     string
	Read     []model.LDOID
	Write    []model.LDOID
	Before   []model.JobID
	After    []model.JobID
	Parent   model.JobID
	Params   []byte
	Sterile  bool
	Region   model.Region
	FutureID model.JobID // 0 if the spawner did not reserve one
}

// SpawnCopy reports a new copy job (LOCAL_COPY or the REMOTE_COPY
// pair, decided by the assigner, not the spawner) between two LDOs.
type SpawnCopy struct {
	JobID  model.JobID
	From   model.LDOID
	To     model.LDOID
	Before []model.JobID
	After  []model.JobID
	Parent model.JobID
	Params []byte
}

// DefineData registers a new logical data object. Region is carried
// alongside the wire fields spec.md's §6 lists explicitly: the
// registry indexes LDOs by geometric region (EnumerateByRegion), which
// needs a concrete region per LDO, not just per partition.
type DefineData struct {
	Name      string
	LDO       model.LDOID
	Partition model.PartitionID
	Neighbors []model.PartitionID
	Parent    model.JobID
	Region    model.Region
	Params    []byte
}

// DefinePartition declares a partition's region.
type DefinePartition struct {
	Partition model.PartitionID
	Region    model.Region
}

// JobDone reports a worker-side job completion.
type JobDone struct {
	JobID    model.JobID
	After    []model.JobID
	Params   []byte
	RunTime  int64 // nanoseconds
	WaitTime int64 // nanoseconds
}

// SaveDataDone reports that a SAVE_DATA job finished, handing back the
// worker-defined opaque handle the checkpoint store records.
type SaveDataDone struct {
	JobID  model.JobID
	Handle string
}

// DetectTemplate begins recording a new named template.
type DetectTemplate struct {
	Name string
}

// AddComputeJobToTemplate appends one descriptor to the
// currently-detecting template.
type AddComputeJobToTemplate struct {
	Name       string
	Descriptor model.TemplateJobDescriptor
}

// FinalizeTemplate freezes the named template's skeleton.
type FinalizeTemplate struct {
	Name string
}

// InstantiateTemplate requests a fresh instance of a finalized
// template, substituting concrete ids and parameters.
type InstantiateTemplate struct {
	Name       string
	InnerIDs   []model.JobID
	OuterIDs   []model.JobID
	LDOSlots   []model.LDOID
	Parameters [][]byte
	Parent     model.JobID
}

// WorkerTerminate reports the worker process is shutting down
// voluntarily (distinct from the controller-issued Terminate below).
type WorkerTerminate struct {
	ExitStatus int
}

// --- Controller -> worker bodies ---

// Execute dispatches a COMPUTE job with its inputs and outputs
// resolved to concrete physical ids.
type Execute struct {
	JobID     model.JobID
	Name      string
	ReadPhys  map[model.LDOID]model.PhysicalID
	WritePhys map[model.LDOID]model.PhysicalID
	Before    []model.JobID
	Params    []byte
}

// Create asks a worker to allocate a fresh, zero-initialized physical
// replica of an LDO.
type Create struct {
	JobID model.JobID
	LDO   model.LDOID
	Phys  model.PhysicalID
}

// LocalCopy asks a worker to copy between two physical replicas it
// already holds.
type LocalCopy struct {
	JobID    model.JobID
	FromPhys model.PhysicalID
	ToPhys   model.PhysicalID
}

// RemoteCopySend asks the source worker to ship a physical replica to
// another worker; ReceiveJobID correlates with the paired
// RemoteCopyReceive dispatched to the destination.
type RemoteCopySend struct {
	JobID        model.JobID
	FromPhys     model.PhysicalID
	DestWorker   model.WorkerID
	ReceiveJobID model.JobID
}

// RemoteCopyReceive asks the destination worker to accept an inbound
// replica into ToPhys.
type RemoteCopyReceive struct {
	JobID  model.JobID
	ToPhys model.PhysicalID
}

// MegaRCR batches several RemoteCopyReceive slots the destination
// worker should expect in one message, avoiding one round trip per
// slot when a template fans a single send out to many receives.
type MegaRCR struct {
	Receives []model.JobID
	ToPhys   []model.PhysicalID
}

// SaveData asks a worker to persist a physical replica out-of-band and
// report back an opaque handle via SaveDataDone, tagged with the
// checkpoint it belongs to.
type SaveData struct {
	JobID      model.JobID
	Phys       model.PhysicalID
	Checkpoint model.CheckpointID
}

// LoadData asks a worker to reconstruct a physical replica from a
// previously saved handle, as part of rewind recovery (§4.6).
type LoadData struct {
	JobID   model.JobID
	LDO     model.LDOID
	Version model.Version
	Handle  string
	Phys    model.PhysicalID
}

// ControllerTerminate tells a worker to exit with the given status.
type ControllerTerminate struct {
	ExitStatus int
}
