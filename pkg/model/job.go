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

// JobKind discriminates the closed set of job kinds the controller
// and workers understand. Replaces a deep-inheritance job hierarchy
// with a single tagged variant; dispatch is a switch over Kind.
type JobKind int

const (
	JobCompute JobKind = iota
	JobLocalCopy
	JobRemoteCopySend
	JobRemoteCopyReceive
	JobCreate
	JobCombine
	JobComplex
	JobMain
	JobFinish
	JobSaveData
	JobLoadData
)

// String renders the kind for logging.
func (k JobKind) String() string {
	switch k {
	case JobCompute:
		return "COMPUTE"
	case JobLocalCopy:
		return "LOCAL_COPY"
	case JobRemoteCopySend:
		return "REMOTE_COPY_SEND"
	case JobRemoteCopyReceive:
		return "REMOTE_COPY_RECEIVE"
	case JobCreate:
		return "CREATE"
	case JobCombine:
		return "COMBINE"
	case JobComplex:
		return "COMPLEX"
	case JobMain:
		return "MAIN"
	case JobFinish:
		return "FINISH"
	case JobSaveData:
		return "SAVE_DATA"
	case JobLoadData:
		return "LOAD_DATA"
	default:
		return "UNKNOWN"
	}
}

// JobState is the lifecycle state of a job vertex in the graph.
type JobState int

const (
	JobPending JobState = iota
	JobReady
	JobAssigned
	JobRunning
	JobDone
	JobLost
)

// String renders the state for logging.
func (s JobState) String() string {
	switch s {
	case JobPending:
		return "PENDING"
	case JobReady:
		return "READY"
	case JobAssigned:
		return "ASSIGNED"
	case JobRunning:
		return "RUNNING"
	case JobDone:
		return "DONE"
	case JobLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// Job is a vertex in the job graph.
type Job struct {
	ID       JobID
	Kind     JobKind
	Name     string // meaningful for COMPUTE jobs
	ParentID JobID
	Depth    JobDepth

	Read  LDOIDSet
	Write LDOIDSet

	Before JobIDSet // explicit predecessors
	After  JobIDSet // explicit successors

	Params  []byte
	Sterile bool
	Region  Region
	// Reduce marks a COMPUTE job as a declared associative-reduce
	// contributor. Nothing in the controller reads it: no COMBINE job
	// is synthesized for concurrent writers with Reduce set.
	Reduce bool

	State  JobState
	Worker WorkerID

	// ComplexJob fields, valid only when Kind == JobComplex.
	Complex *ComplexJob
}

// ComplexJob carries the data needed to expand one template
// instantiation into its inner jobs on demand, at assignment time.
type ComplexJob struct {
	TemplateName string
	Generation   TemplateGenerationID
	InnerJobIDs  []JobID
	OuterJobIDs  []JobID
	Parameters   [][]byte
	LDOSlots     []LDOID // concrete LDO id for each template LDO slot
	RegionSlots  []Region
	Expanded     bool
}

// NeedsLDO reports whether the job reads or writes ldo.
func (j *Job) NeedsLDO(ldo LDOID) bool {
	return j.Read.Has(ldo) || j.Write.Has(ldo)
}

// InputLDOs returns the union of read and write sets, each of which
// the assigner must resolve to a concrete PDI before the job can run.
func (j *Job) InputLDOs() []LDOID {
	out := make([]LDOID, 0, len(j.Read)+len(j.Write))
	seen := make(map[LDOID]struct{}, len(j.Read)+len(j.Write))
	for id := range j.Read {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for id := range j.Write {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
