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

// Package template detects, finalizes and re-instantiates recurring
// subgraphs so the controller can amortize scheduling cost across
// hundreds of structurally identical jobs per simulation step (§4.5).
// Grounded on the original scheduler's TemplateManager
// (scheduler/template_manager.cc), which tracks each named template
// through a three-state machine (absent / detecting / finalized)
// rather than a simple finalized/not-finalized flag.
package template

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/model"
)

type state int

const (
	stateAbsent state = iota
	stateDetecting
	stateFinalized
)

func (s state) String() string {
	switch s {
	case stateAbsent:
		return "absent"
	case stateDetecting:
		return "detecting"
	case stateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// entry is one named template's accumulated or frozen skeleton.
type entry struct {
	state       state
	descriptors []model.TemplateJobDescriptor
	generation  model.TemplateGenerationID
	// topoOrder is the finalized descriptors' indices in topological
	// order, precomputed once at finalize time so instantiation never
	// re-walks the skeleton.
	topoOrder []int
}

// generationAllocator hands out fresh generation ids, bumped whenever
// a template is (re-)finalized.
type generationAllocator interface {
	AllocGeneration() model.TemplateGenerationID
}

// Engine is the template registry.
type Engine struct {
	mu        sync.Mutex
	templates map[string]*entry
	gen       generationAllocator
	logger    *zap.Logger
}

// New returns an empty Engine backed by gen for generation ids.
func New(gen generationAllocator) *Engine {
	return &Engine{
		templates: make(map[string]*entry),
		gen:       gen,
		logger:    log.L().With(zap.String("component", "template")),
	}
}

func (e *Engine) stateOf(name string) state {
	t, ok := e.templates[name]
	if !ok {
		return stateAbsent
	}
	return t.state
}

// DetectNewTemplate begins accumulating a new named template. Per
// §4.5's rules: detecting a template that already exists and is
// unfinalized triggers CleanPartiallyFilledTemplate and restarts
// detection; detecting an already-finalized template is an error.
// Callers that want to idempotently reuse an already-finalized
// template ahead of InstantiateTemplate should call LookupFinalized
// instead of DetectNewTemplate.
func (e *Engine) DetectNewTemplate(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.stateOf(name) {
	case stateFinalized:
		return cerrors.ErrTemplateState.GenWithStackByArgs(name, "DetectNewTemplate", stateFinalized.String())
	case stateDetecting:
		e.logger.Info("re-detecting partially filled template, discarding prior descriptors", zap.String("name", name))
	}
	e.templates[name] = &entry{state: stateDetecting}
	return nil
}

// AddJobToTemplate appends one job descriptor to a template under
// detection.
func (e *Engine) AddJobToTemplate(name string, desc model.TemplateJobDescriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.templates[name]
	if !ok || t.state != stateDetecting {
		return cerrors.ErrTemplateState.GenWithStackByArgs(name, "AddJobToTemplate", e.stateOf(name).String())
	}
	t.descriptors = append(t.descriptors, desc)
	return nil
}

// CleanPartiallyFilledTemplate discards any descriptors accumulated
// for a detecting template, returning it to absent.
func (e *Engine) CleanPartiallyFilledTemplate(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.templates[name]; ok && t.state == stateDetecting {
		delete(e.templates, name)
	}
}

// FinalizeTemplate freezes a detecting template's skeleton: computes
// topological order over its descriptors and assigns a fresh
// generation id, then makes it immutable.
func (e *Engine) FinalizeTemplate(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.templates[name]
	if !ok || t.state != stateDetecting {
		return cerrors.ErrTemplateState.GenWithStackByArgs(name, "FinalizeTemplate", e.stateOf(name).String())
	}

	order, err := topoSort(t.descriptors)
	if err != nil {
		return err
	}
	t.topoOrder = order
	t.generation = e.gen.AllocGeneration()
	t.state = stateFinalized

	e.logger.Info("finalized template",
		zap.String("name", name),
		zap.Int("job_count", len(t.descriptors)),
		zap.Int64("generation", int64(t.generation)))
	return nil
}

// topoSort returns descriptor indices in topological order over the
// template's internal Before edges. Returns a TEMPLATE_STATE error,
// which FinalizeTemplate passes back to its caller, if the descriptors
// contain a cycle, which would mean the worker that detected this
// template sent an inconsistent before/after set.
func topoSort(descs []model.TemplateJobDescriptor) ([]int, error) {
	n := len(descs)
	indeg := make([]int, n)
	adj := make([][]int, n)
	for i, d := range descs {
		for _, b := range d.Before {
			adj[b] = append(adj[b], i)
			indeg[i]++
		}
	}
	var queue []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]int, 0, n)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range adj[cur] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != n {
		return nil, cerrors.ErrTemplateState.GenWithStackByArgs("<finalize>", "FinalizeTemplate", "cyclic descriptor graph")
	}
	return order, nil
}

// LookupFinalized returns the finalized entry for name without
// mutating engine state, for call sites that need an idempotent check
// ahead of InstantiateTemplate.
func (e *Engine) LookupFinalized(name string) (generation model.TemplateGenerationID, descriptors []model.TemplateJobDescriptor, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, exists := e.templates[name]
	if !exists || t.state != stateFinalized {
		return 0, nil, false
	}
	return t.generation, append([]model.TemplateJobDescriptor(nil), t.descriptors...), true
}

// InstantiateTemplate creates a single COMPLEX job in the caller's
// graph representation with the supplied id vectors. Resolution of
// inner jobs is deferred to Expand, which runs when the complex job is
// picked for assignment.
func (e *Engine) InstantiateTemplate(
	name string,
	innerJobIDs, outerJobIDs []model.JobID,
	ldoSlots []model.LDOID,
	regionSlots []model.Region,
	parameters [][]byte,
	parentJobID model.JobID,
	complexJobID model.JobID,
) (*model.Job, error) {
	generation, descriptors, ok := e.LookupFinalized(name)
	if !ok {
		return nil, cerrors.ErrTemplateState.GenWithStackByArgs(name, "InstantiateTemplate", e.stateOf(name).String())
	}
	if len(innerJobIDs) != len(descriptors) {
		return nil, cerrors.ErrTemplateState.GenWithStackByArgs(name, "InstantiateTemplate", "inner id count mismatch")
	}

	job := &model.Job{
		ID:       complexJobID,
		Kind:     model.JobComplex,
		ParentID: parentJobID,
		Sterile:  false,
		Before:   model.NewJobIDSet(),
		After:    model.NewJobIDSet(),
		Read:     model.NewLDOIDSet(),
		Write:    model.NewLDOIDSet(),
		Complex: &model.ComplexJob{
			TemplateName: name,
			Generation:   generation,
			InnerJobIDs:  append([]model.JobID(nil), innerJobIDs...),
			OuterJobIDs:  append([]model.JobID(nil), outerJobIDs...),
			Parameters:   parameters,
			LDOSlots:     ldoSlots,
			RegionSlots:  regionSlots,
			Expanded:     false,
		},
	}
	return job, nil
}

// Expand materializes a complex job's inner jobs, in the template's
// precomputed topological order, filling in each one's read/write
// sets, before/after edges, parameters and region from the template's
// descriptors; the caller adds them to its job graph. Expand does not
// consult lineage: each inner job's input versions are resolved when
// the assigner plans it, like any other job.
func (e *Engine) Expand(job *model.Job) ([]*model.Job, error) {
	if job.Kind != model.JobComplex || job.Complex == nil {
		return nil, cerrors.ErrTemplateState.GenWithStackByArgs("<none>", "Expand", "job is not a complex job")
	}
	cx := job.Complex
	if cx.Expanded {
		return nil, nil
	}

	e.mu.Lock()
	t, ok := e.templates[cx.TemplateName]
	e.mu.Unlock()
	if !ok || t.state != stateFinalized || t.generation != cx.Generation {
		return nil, cerrors.ErrTemplateState.GenWithStackByArgs(cx.TemplateName, "Expand", "template generation mismatch or not finalized")
	}

	inner := make([]*model.Job, len(t.descriptors))
	for _, idx := range t.topoOrder {
		d := t.descriptors[idx]
		innerID := cx.InnerJobIDs[idx]

		j := &model.Job{
			ID:       innerID,
			Kind:     d.Kind,
			Name:     d.Name,
			ParentID: job.ParentID,
			Sterile:  d.Sterile,
			Read:     model.NewLDOIDSet(),
			Write:    model.NewLDOIDSet(),
			Before:   model.NewJobIDSet(),
			After:    model.NewJobIDSet(),
		}
		for _, slot := range d.Read {
			j.Read.Add(cx.LDOSlots[slot])
		}
		for _, slot := range d.Write {
			j.Write.Add(cx.LDOSlots[slot])
		}
		for _, b := range d.Before {
			j.Before.Add(cx.InnerJobIDs[b])
		}
		for _, a := range d.After {
			j.After.Add(cx.InnerJobIDs[a])
		}
		if d.ParamSlot >= 0 && d.ParamSlot < len(cx.Parameters) {
			j.Params = cx.Parameters[d.ParamSlot]
		}
		if d.RegionSlot >= 0 && d.RegionSlot < len(cx.RegionSlots) {
			j.Region = cx.RegionSlots[d.RegionSlot]
		}
		inner[idx] = j
	}

	cx.Expanded = true
	return inner, nil
}
