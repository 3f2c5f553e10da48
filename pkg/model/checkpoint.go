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

// WorkerHandle pairs a worker with an opaque, worker-defined handle
// that can later be used to reload a saved physical datum, mirroring
// the original scheduler's (worker_id, handle string) pair.
type WorkerHandle struct {
	WorkerID WorkerID
	Handle   string
}

// LVW records, for one job included in a checkpoint, which LDO it
// wrote, at which version, on which worker.
type LVW struct {
	LDOID    LDOID
	Version  Version
	WorkerID WorkerID
}
