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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusctl/controller/pkg/model"
)

func TestCreateThenCompleteCreate(t *testing.T) {
	d := New()
	phys := d.AllocPhysicalID(1)
	pdi := d.Create(10, 1, phys, 1)
	require.Equal(t, model.PDICreating, pdi.State)
	require.True(t, d.CompleteCreate(10, phys))
	got, ok := d.Get(10, phys)
	require.True(t, ok)
	require.Equal(t, model.PDIValid, got.State)
}

func TestTransferCycle(t *testing.T) {
	d := New()
	phys := d.AllocPhysicalID(1)
	d.Create(10, 1, phys, 1)
	d.CompleteCreate(10, phys)

	require.True(t, d.BeginTransfer(10, phys))
	got, _ := d.Get(10, phys)
	require.Equal(t, model.PDIInTransfer, got.State)

	require.True(t, d.EndTransfer(10, phys))
	got, _ = d.Get(10, phys)
	require.Equal(t, model.PDIValid, got.State)
}

func TestCompleteWriteAdvancesVersion(t *testing.T) {
	d := New()
	phys := d.AllocPhysicalID(1)
	d.Create(10, 1, phys, 1)
	d.CompleteCreate(10, phys)

	require.True(t, d.CompleteWrite(10, phys, 2))
	got, _ := d.Get(10, phys)
	require.Equal(t, model.Version(2), got.Version)
	require.Equal(t, model.PDIValid, got.State)
}

func TestCompleteWriteRefusesBackwardsVersion(t *testing.T) {
	d := New()
	phys := d.AllocPhysicalID(1)
	d.Create(10, 1, phys, 5)
	d.CompleteCreate(10, phys)
	require.False(t, d.CompleteWrite(10, phys, 3))
	got, _ := d.Get(10, phys)
	require.Equal(t, model.Version(5), got.Version)
}

func TestRemoveWorkerClearsItsPDIsOnly(t *testing.T) {
	d := New()
	p1 := d.AllocPhysicalID(1)
	p2 := d.AllocPhysicalID(2)
	d.Create(10, 1, p1, 1)
	d.Create(10, 2, p2, 1)

	d.RemoveWorker(1)

	_, ok := d.Get(10, p1)
	require.False(t, ok)
	_, ok = d.Get(10, p2)
	require.True(t, ok)
}

func TestObsoleteAtWorkerExcludesPinned(t *testing.T) {
	d := New()
	pOld := d.AllocPhysicalID(1)
	pNew := d.AllocPhysicalID(1)
	d.Create(10, 1, pOld, 1)
	d.CompleteCreate(10, pOld)
	d.Create(10, 1, pNew, 3)
	d.CompleteCreate(10, pNew)

	obsolete := d.ObsoleteAtWorker(1, 10, 3)
	require.Len(t, obsolete, 1)
	require.Equal(t, pOld, obsolete[0].PhysicalID)

	d.Pin(pOld)
	obsolete = d.ObsoleteAtWorker(1, 10, 3)
	require.Len(t, obsolete, 0)

	d.Unpin(pOld)
	obsolete = d.ObsoleteAtWorker(1, 10, 3)
	require.Len(t, obsolete, 1)
}

func TestSelectPrefersLocalOverRemoteAtEqualVersion(t *testing.T) {
	d := New()
	pLocal := d.AllocPhysicalID(1)
	pRemote := d.AllocPhysicalID(2)
	d.Create(10, 1, pLocal, 2)
	d.CompleteCreate(10, pLocal)
	d.Create(10, 2, pRemote, 2)
	d.CompleteCreate(10, pRemote)

	sel := d.Select(1, 10, 2)
	require.Equal(t, SelectionLocal, sel.Kind)
	require.Equal(t, pLocal, sel.Local.PhysicalID)
}

func TestSelectRemoteWhenNoLocalCopy(t *testing.T) {
	d := New()
	pRemote := d.AllocPhysicalID(2)
	d.Create(10, 2, pRemote, 2)
	d.CompleteCreate(10, pRemote)

	sel := d.Select(1, 10, 2)
	require.Equal(t, SelectionRemoteCopy, sel.Kind)
	require.Equal(t, pRemote, sel.Source.PhysicalID)
	require.True(t, sel.NeedsCreate)
}

func TestSelectRemoteDestinationAlreadyExistsNoCreateNeeded(t *testing.T) {
	d := New()
	pRemote := d.AllocPhysicalID(2)
	d.Create(10, 2, pRemote, 2)
	d.CompleteCreate(10, pRemote)
	pLocalStale := d.AllocPhysicalID(1)
	d.Create(10, 1, pLocalStale, 1) // stale version on the reading worker
	d.CompleteCreate(10, pLocalStale)

	sel := d.Select(1, 10, 2)
	require.Equal(t, SelectionRemoteCopy, sel.Kind)
	require.False(t, sel.NeedsCreate)
}

func TestSelectEscalatesWhenNoWorkerHasExactVersion(t *testing.T) {
	d := New()
	sel := d.Select(1, 10, 7)
	require.Equal(t, SelectionRewind, sel.Kind)
}
