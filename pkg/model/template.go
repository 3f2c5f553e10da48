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

// TemplateJobDescriptor is a frozen, symbolic job descriptor inside a
// template skeleton: read/write sets and before/after edges reference
// other descriptors by index within the template, not by job id, and
// parameter bytes are replaced by a slot index into the
// per-instantiation parameter vector.
type TemplateJobDescriptor struct {
	Kind        JobKind
	Name        string
	Read        []int // relative LDO slot indices
	Write       []int
	Before      []int // indices of other descriptors in this template
	After       []int
	ParamSlot   int
	Sterile     bool
	RegionSlot  int
	FromLDOSlot int // valid for copy-job descriptors
	ToLDOSlot   int
}

// DependencyNum is the number of predecessors (local, + bytes-arrived
// for receives) a worker-side execution-template slot waits on before
// it is runnable, mirroring the worker-side counter-driven ready
// check.
func (d TemplateJobDescriptor) DependencyNum() int {
	n := len(d.Before)
	if d.Kind == JobRemoteCopyReceive {
		n++ // +1 for bytes-arrived
	}
	return n
}
