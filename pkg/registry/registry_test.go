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

package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	cerrors "github.com/nimbusctl/controller/pkg/errors"
	"github.com/nimbusctl/controller/pkg/model"
)

func regionAt(min, max int64) model.Region {
	return model.NewRegion([]int64{min}, []int64{max})
}

func TestDefineDataUnknownPartition(t *testing.T) {
	r := New()
	err := r.DefineData("u", 1, 9, nil, 0, regionAt(0, 10), nil)
	require.True(t, cerrors.ErrUnknownPartition.Equal(err))
}

func TestDefineDataDuplicate(t *testing.T) {
	r := New()
	r.DefinePartition(1, regionAt(0, 100))
	require.NoError(t, r.DefineData("a", 1, 1, nil, 0, regionAt(0, 10), nil))
	err := r.DefineData("a-again", 1, 1, nil, 0, regionAt(0, 10), nil)
	require.True(t, cerrors.ErrLDOAlreadyDefined.Equal(err))
}

func TestGetLDOUnknown(t *testing.T) {
	r := New()
	_, err := r.GetLDO(42)
	require.True(t, cerrors.ErrUnknownLDO.Equal(err))
}

func TestEnumerateByPartition(t *testing.T) {
	r := New()
	r.DefinePartition(1, regionAt(0, 100))
	r.DefinePartition(2, regionAt(100, 200))
	require.NoError(t, r.DefineData("a", 1, 1, nil, 0, regionAt(0, 10), nil))
	require.NoError(t, r.DefineData("b", 2, 1, nil, 0, regionAt(10, 20), nil))
	require.NoError(t, r.DefineData("c", 3, 2, nil, 0, regionAt(100, 110), nil))

	got := r.EnumerateByPartition(1)
	require.Len(t, got, 2)
	got2 := r.EnumerateByPartition(2)
	require.Len(t, got2, 1)
	require.Equal(t, model.LDOID(3), got2[0].ID)
}

func TestEnumerateByRegionIntersects(t *testing.T) {
	r := New()
	r.DefinePartition(1, regionAt(0, 100))
	require.NoError(t, r.DefineData("a", 1, 1, nil, 0, regionAt(0, 10), nil))
	require.NoError(t, r.DefineData("b", 2, 1, nil, 0, regionAt(20, 30), nil))

	got := r.EnumerateByRegion(regionAt(5, 25))
	require.Len(t, got, 2)

	got = r.EnumerateByRegion(regionAt(50, 60))
	require.Len(t, got, 0)
}
