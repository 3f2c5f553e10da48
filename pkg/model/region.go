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

// Region is an axis-aligned box in an integer lattice, stored as a
// half-open range per axis: [Min[i], Max[i]). The registry does not
// interpret whether a region denotes points, per-axis faces or cells;
// it only stores and intersects ranges.
type Region struct {
	Min []int64
	Max []int64
}

// NewRegion builds a region from parallel min/max slices. The slices
// must have equal length; callers own that invariant, and this package
// does not check it (Intersects and Contains compare only the Min
// lengths of the two regions).
func NewRegion(min, max []int64) Region {
	return Region{Min: append([]int64(nil), min...), Max: append([]int64(nil), max...)}
}

// Dims returns the number of axes.
func (r Region) Dims() int { return len(r.Min) }

// Intersects reports whether r and other overlap on every axis. Two
// regions of differing dimensionality never intersect.
func (r Region) Intersects(other Region) bool {
	if r.Dims() != other.Dims() {
		return false
	}
	for i := range r.Min {
		if r.Min[i] >= other.Max[i] || other.Min[i] >= r.Max[i] {
			return false
		}
	}
	return true
}

// Contains reports whether other is fully enclosed by r on every axis.
func (r Region) Contains(other Region) bool {
	if r.Dims() != other.Dims() {
		return false
	}
	for i := range r.Min {
		if other.Min[i] < r.Min[i] || other.Max[i] > r.Max[i] {
			return false
		}
	}
	return true
}
