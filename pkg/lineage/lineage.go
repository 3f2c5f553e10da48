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

// Package lineage implements the per-LDO lineage ledger: an ordered
// chain of (writer job, version, depth, sterile) entries, plus a
// parent index of the chain's non-sterile entries used by rewind.
// Grounded on the original scheduler's LogicalDataLineage
// (scheduler/logical_data_lineage.cc): chain order and parent-splice
// scan direction are replicated exactly, translated from
// std::list<LdlEntry> + std::list<Chain::iterator> to container/list,
// which is the one stdlib structure offering the same O(1)
// splice-at-iterator semantics the original relies on — no pack
// library provides arbitrary-position linked-list insertion, so this
// is the one place lineage reaches for the standard library instead of
// a third-party container.
package lineage

import (
	"container/list"
	"sync"

	"github.com/nimbusctl/controller/pkg/model"
)

// Entry is one chain link: the job that wrote this version, the
// version it produced, the job's depth in the spawn tree, and whether
// the job is sterile (sterile writers are omitted from the parent
// index, per §3).
type Entry struct {
	JobID   model.JobID
	Version model.Version
	Depth   model.JobDepth
	Sterile bool
}

// Ledger holds one Chain per LDO, each chain ordered by strictly
// increasing version, plus the chain's parent index (iterators to its
// non-sterile entries).
type Ledger struct {
	mu     sync.Mutex
	chains map[model.LDOID]*chain
}

// chain is the per-LDO lineage chain and its parent index.
type chain struct {
	entries     *list.List // *Entry, ordered by ascending version
	parentIndex *list.List // *list.Element (into entries), non-sterile only
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{chains: make(map[model.LDOID]*chain)}
}

// LDOs returns every LDO id with a non-empty chain, used by rewind to
// enumerate the chains that need CleanChain against a fresh
// live_parents set.
func (l *Ledger) LDOs() []model.LDOID {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.LDOID, 0, len(l.chains))
	for id := range l.chains {
		out = append(out, id)
	}
	return out
}

func (l *Ledger) chainFor(ldo model.LDOID) *chain {
	c, ok := l.chains[ldo]
	if !ok {
		c = &chain{entries: list.New(), parentIndex: list.New()}
		l.chains[ldo] = c
	}
	return c
}

// LastVersion returns the highest version in chain(ldo), or 0 if the
// chain is empty (the LDO's defined, unwritten state).
func (l *Ledger) LastVersion(ldo model.LDOID) model.Version {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[ldo]
	if !ok || c.entries.Len() == 0 {
		return 0
	}
	return c.entries.Back().Value.(*Entry).Version
}

// Append records a non-copy write by job to ldo. Allocates
// new_version = LastVersion(ldo) + 1 and appends it to the chain,
// refreshing the parent index if the writer is non-sterile. Returns
// the allocated version.
func (l *Ledger) Append(ldo model.LDOID, job model.JobID, depth model.JobDepth, sterile bool) model.Version {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.chainFor(ldo)

	last := model.Version(0)
	if back := c.entries.Back(); back != nil {
		last = back.Value.(*Entry).Version
	}
	v := last + 1

	e := c.entries.PushBack(&Entry{JobID: job, Version: v, Depth: depth, Sterile: sterile})
	if !sterile {
		c.parentIndex.PushBack(e)
	}
	return v
}

// InsertParent splices an out-of-order parent job into the chain at
// the unique position preserving version monotonicity, and refreshes
// the parent index. Used when replaying lineage during rewind, where
// entries may need to be reinserted out of arrival order. The spliced
// entry is always recorded as non-sterile, since sterile jobs never
// participate in the parent index; there is no sterile parameter.
func (l *Ledger) InsertParent(ldo model.LDOID, job model.JobID, version model.Version, depth model.JobDepth) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.chainFor(ldo)

	e := &Entry{JobID: job, Version: version, Depth: depth, Sterile: false}

	// Scan the chain from the tail backwards for the insertion point,
	// matching InsertParentLdlEntry's reverse-iterator walk.
	var at *list.Element
	for el := c.entries.Back(); el != nil; el = el.Prev() {
		if el.Value.(*Entry).Version <= version {
			at = el
			break
		}
	}
	var inserted *list.Element
	if at == nil {
		inserted = c.entries.PushFront(e)
	} else {
		inserted = c.entries.InsertAfter(e, at)
	}

	var pAt *list.Element
	for el := c.parentIndex.Back(); el != nil; el = el.Prev() {
		if el.Value.(*list.Element).Value.(*Entry).Version <= version {
			pAt = el
			break
		}
	}
	if pAt == nil {
		c.parentIndex.PushFront(inserted)
	} else {
		c.parentIndex.InsertAfter(inserted, pAt)
	}
}

// CleanChain erases every entry older than the oldest entry
// referenced by liveParents, updating the parent index accordingly.
// An empty liveParents set clears the chain entirely. The caller is
// responsible for ensuring no entry removed this way is the needed
// version for any still-live job (§4.2 contract); CleanChain itself
// does not (and cannot, without wider graph context) verify that.
func (l *Ledger) CleanChain(ldo model.LDOID, liveParents model.JobIDSet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[ldo]
	if !ok {
		return
	}

	if len(liveParents) == 0 {
		c.entries.Init()
		c.parentIndex.Init()
		return
	}

	remaining := make(model.JobIDSet, len(liveParents))
	for id := range liveParents {
		remaining.Add(id)
	}

	var oldestLive *list.Element
	for el := c.parentIndex.Back(); el != nil; el = el.Prev() {
		entryEl := el.Value.(*list.Element)
		remaining.Remove(entryEl.Value.(*Entry).JobID)
		oldestLive = el
		if len(remaining) == 0 {
			break
		}
	}
	if oldestLive == nil {
		return
	}

	oldestEntry := oldestLive.Value.(*list.Element)

	// Erase chain entries strictly older than oldestEntry.
	for el := c.entries.Front(); el != nil && el != oldestEntry; {
		next := el.Next()
		c.entries.Remove(el)
		el = next
	}
	// Erase parent-index entries strictly older than oldestLive.
	for el := c.parentIndex.Front(); el != nil && el != oldestLive; {
		next := el.Next()
		c.parentIndex.Remove(el)
		el = next
	}
}

// Entries returns the chain's entries from newest to oldest, the
// order the version manager walks when resolving a needed version.
func (l *Ledger) Entries(ldo model.LDOID) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[ldo]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, c.entries.Len())
	for el := c.entries.Back(); el != nil; el = el.Prev() {
		out = append(out, *el.Value.(*Entry))
	}
	return out
}

// ParentEntries returns the non-sterile parent-index entries, oldest
// first.
func (l *Ledger) ParentEntries(ldo model.LDOID) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chains[ldo]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, c.parentIndex.Len())
	for el := c.parentIndex.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*list.Element).Value.(*Entry))
	}
	return out
}
