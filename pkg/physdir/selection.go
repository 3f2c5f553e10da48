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

package physdir

import "github.com/nimbusctl/controller/pkg/model"

// SelectionKind discriminates the outcome of replica selection for a
// reader job's input, per §4.3.
type SelectionKind int

const (
	// SelectionLocal: a PDI on the reading worker already holds the
	// needed version in state VALID or CREATING — use it directly.
	SelectionLocal SelectionKind = iota
	// SelectionRemoteCopy: some other worker holds the needed
	// version; a remote-copy pair (and possibly a CREATE first) must
	// be synthesized.
	SelectionRemoteCopy
	// SelectionRewind: no worker holds the needed version exactly,
	// and no replayable reconstruction path exists at plan time;
	// escalate to checkpoint/rewind.
	SelectionRewind
)

// Selection is the result of selecting a replica to satisfy a reader.
type Selection struct {
	Kind SelectionKind

	// Valid when Kind == SelectionLocal.
	Local *model.PDI

	// Valid when Kind == SelectionRemoteCopy.
	Source      *model.PDI // the chosen remote source, state VALID
	NeedsCreate bool       // true if the destination worker has no PDI of ldo yet
}

// Select implements the replica-selection algorithm of §4.3 for
// reader job J at worker W needing ldo at version v.
func (d *Directory) Select(worker model.WorkerID, ldo model.LDOID, version model.Version) Selection {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Step 1: local PDI at exactly v, state VALID or CREATING.
	for _, p := range d.byLDO[ldo] {
		if p.WorkerID == worker && p.Version == version &&
			(p.State == model.PDIValid || p.State == model.PDICreating) {
			return Selection{Kind: SelectionLocal, Local: p}
		}
	}

	// Step 2: some other worker has a PDI at exactly v. Prefer any
	// such worker; a remote-copy pair is synthesized by the caller.
	// Replica selection prefers a local PDI over any remote PDI at
	// equal version, which step 1 already guarantees by running
	// first.
	var remoteSource *model.PDI
	destExists := false
	for _, p := range d.byLDO[ldo] {
		if p.WorkerID == worker {
			destExists = true
		}
		if p.Version == version && p.State == model.PDIValid {
			if remoteSource == nil {
				remoteSource = p
			}
		}
	}
	if remoteSource != nil {
		return Selection{Kind: SelectionRemoteCopy, Source: remoteSource, NeedsCreate: !destExists}
	}

	// Step 3: no worker has v exactly. Reconstruction-by-replay is a
	// wider-graph operation (it needs the job graph and lineage to
	// find intervening writers and their own inputs), so the
	// directory can only determine that no direct replica exists and
	// leave the reconstruction-vs-rewind decision to the caller, which
	// does have that context. From the directory's point of view this
	// is always an escalation.
	return Selection{Kind: SelectionRewind}
}
