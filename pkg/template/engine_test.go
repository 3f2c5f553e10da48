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

package template

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusctl/controller/pkg/model"
)

type seqGen struct{ n int64 }

func (g *seqGen) AllocGeneration() model.TemplateGenerationID {
	g.n++
	return model.TemplateGenerationID(g.n)
}

// detectAndFinalize builds a two-job template: descriptor 0 writes
// slot 0, descriptor 1 reads slot 0 and depends on descriptor 0.
func detectAndFinalize(t *testing.T, e *Engine, name string) {
	t.Helper()
	require.NoError(t, e.DetectNewTemplate(name))
	require.NoError(t, e.AddJobToTemplate(name, model.TemplateJobDescriptor{
		Kind:      model.JobCompute,
		Name:      "produce",
		Write:     []int{0},
		ParamSlot: -1,
		RegionSlot: -1,
	}))
	require.NoError(t, e.AddJobToTemplate(name, model.TemplateJobDescriptor{
		Kind:       model.JobCompute,
		Name:       "consume",
		Read:       []int{0},
		Before:     []int{0},
		ParamSlot:  -1,
		RegionSlot: -1,
	}))
	require.NoError(t, e.FinalizeTemplate(name))
}

func TestDetectAddFinalizeLifecycle(t *testing.T) {
	e := New(&seqGen{})
	detectAndFinalize(t, e, "stencil")

	gen, descs, ok := e.LookupFinalized("stencil")
	require.True(t, ok)
	require.Equal(t, model.TemplateGenerationID(1), gen)
	require.Len(t, descs, 2)
}

func TestDetectAlreadyFinalizedIsError(t *testing.T) {
	e := New(&seqGen{})
	detectAndFinalize(t, e, "stencil")
	err := e.DetectNewTemplate("stencil")
	require.Error(t, err)
}

func TestRedetectDetectingDiscardsPriorDescriptors(t *testing.T) {
	e := New(&seqGen{})
	require.NoError(t, e.DetectNewTemplate("partial"))
	require.NoError(t, e.AddJobToTemplate("partial", model.TemplateJobDescriptor{Kind: model.JobCompute, ParamSlot: -1, RegionSlot: -1}))

	require.NoError(t, e.DetectNewTemplate("partial"))
	require.NoError(t, e.FinalizeTemplate("partial"))

	_, descs, ok := e.LookupFinalized("partial")
	require.True(t, ok)
	require.Len(t, descs, 0, "re-detect must discard the single descriptor added before restart")
}

func TestAddJobToTemplateRequiresDetectingState(t *testing.T) {
	e := New(&seqGen{})
	err := e.AddJobToTemplate("nonexistent", model.TemplateJobDescriptor{})
	require.Error(t, err)
}

func TestFinalizeRejectsCycle(t *testing.T) {
	e := New(&seqGen{})
	require.NoError(t, e.DetectNewTemplate("cyclic"))
	require.NoError(t, e.AddJobToTemplate("cyclic", model.TemplateJobDescriptor{Before: []int{1}, ParamSlot: -1, RegionSlot: -1}))
	require.NoError(t, e.AddJobToTemplate("cyclic", model.TemplateJobDescriptor{Before: []int{0}, ParamSlot: -1, RegionSlot: -1}))
	err := e.FinalizeTemplate("cyclic")
	require.Error(t, err)
}

func TestCleanPartiallyFilledTemplateReturnsToAbsent(t *testing.T) {
	e := New(&seqGen{})
	require.NoError(t, e.DetectNewTemplate("scratch"))
	e.CleanPartiallyFilledTemplate("scratch")
	require.Equal(t, stateAbsent, e.stateOf("scratch"))
	// absent template can be detected fresh without error.
	require.NoError(t, e.DetectNewTemplate("scratch"))
}

func TestInstantiateUnknownTemplateIsError(t *testing.T) {
	e := New(&seqGen{})
	_, err := e.InstantiateTemplate("missing", nil, nil, nil, nil, nil, 0, 1)
	require.Error(t, err)
}

func TestInstantiateInnerIDCountMismatchIsError(t *testing.T) {
	e := New(&seqGen{})
	detectAndFinalize(t, e, "stencil")
	_, err := e.InstantiateTemplate("stencil", []model.JobID{10}, nil, nil, nil, nil, 0, 100)
	require.Error(t, err, "template has two descriptors, only one inner id supplied")
}

func TestInstantiateThenExpandWiresInnerJobs(t *testing.T) {
	e := New(&seqGen{})
	detectAndFinalize(t, e, "stencil")

	innerIDs := []model.JobID{10, 11}
	ldoSlots := []model.LDOID{500}
	job, err := e.InstantiateTemplate("stencil", innerIDs, nil, ldoSlots, nil, nil, 1, 100)
	require.NoError(t, err)
	require.Equal(t, model.JobComplex, job.Kind)
	require.False(t, job.Complex.Expanded)

	inner, err := e.Expand(job)
	require.NoError(t, err)
	require.Len(t, inner, 2)
	require.True(t, job.Complex.Expanded)

	produce := inner[0]
	consume := inner[1]
	require.Equal(t, model.JobID(10), produce.ID)
	require.Equal(t, model.JobID(11), consume.ID)
	require.True(t, produce.Write.Has(500))
	require.True(t, consume.Read.Has(500))
	require.True(t, consume.Before.Has(10), "consume depends on produce via the template's before edge")
}

func TestExpandIsIdempotent(t *testing.T) {
	e := New(&seqGen{})
	detectAndFinalize(t, e, "stencil")
	job, err := e.InstantiateTemplate("stencil", []model.JobID{10, 11}, nil, []model.LDOID{500}, nil, nil, 1, 100)
	require.NoError(t, err)

	_, err = e.Expand(job)
	require.NoError(t, err)
	inner, err := e.Expand(job)
	require.NoError(t, err)
	require.Nil(t, inner, "expanding an already-expanded complex job is a no-op")
}

func TestExpandRejectsNonComplexJob(t *testing.T) {
	e := New(&seqGen{})
	_, err := e.Expand(&model.Job{Kind: model.JobCompute})
	require.Error(t, err)
}

func TestLookupFinalizedUnknownNameIsNotOK(t *testing.T) {
	e := New(&seqGen{})
	_, _, ok := e.LookupFinalized("never-seen")
	require.False(t, ok)
}
