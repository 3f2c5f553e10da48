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

package lineage

import "github.com/nimbusctl/controller/pkg/model"

// AncestorChecker answers whether candidate is a transitive
// predecessor of job in the job graph (explicit before-edges plus the
// parent/spawn relation). The job graph owns this closure; lineage
// only consumes it, keeping the two packages decoupled per the
// arena-of-indices design (cross-references are ids, not owning
// pointers).
type AncestorChecker interface {
	IsAncestor(candidate, job model.JobID) bool
}

// NeededVersion computes the needed version of ldo for job: the
// latest version among lineage entries whose writer is a transitive
// ancestor of job. Walks the chain newest to oldest and returns the
// first match (§4.2). If no writer ancestor exists, returns 0 (the
// LDO's defined, unwritten state).
func (l *Ledger) NeededVersion(ldo model.LDOID, job model.JobID, ancestors AncestorChecker) model.Version {
	l.mu.Lock()
	c, ok := l.chains[ldo]
	if !ok {
		l.mu.Unlock()
		return 0
	}
	entries := make([]*Entry, 0, c.entries.Len())
	for el := c.entries.Back(); el != nil; el = el.Prev() {
		entries = append(entries, el.Value.(*Entry))
	}
	l.mu.Unlock()

	for _, e := range entries {
		if ancestors.IsAncestor(e.JobID, job) {
			return e.Version
		}
	}
	return 0
}

// RecordedOutputVersion returns the version job recorded as its
// output on ldo, i.e. the version any later reader that lists job
// transitively in its before-set must observe. Returns (0, false) if
// job never appears as a writer of ldo.
func (l *Ledger) RecordedOutputVersion(ldo model.LDOID, job model.JobID) (model.Version, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[ldo]
	if !ok {
		return 0, false
	}
	for el := c.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.JobID == job {
			return e.Version, true
		}
	}
	return 0, false
}
