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

// Package errors defines the normalized error kinds used across the
// controller, per the error taxonomy in the design's error handling
// section: PROTOCOL, UNKNOWN_ID, TEMPLATE_STATE, VERSION_UNAVAILABLE,
// WORKER_LOST and FATAL.
package errors

import (
	"github.com/pingcap/errors"
)

// Normalized error values. Each carries an RFC-style code so callers
// can classify an error without string matching.
var (
	ErrUnknownJob = errors.Normalize(
		"reference to unknown job %d",
		errors.RFCCodeText("CTRL:ErrUnknownJob"),
	)
	ErrUnknownLDO = errors.Normalize(
		"reference to unknown logical data object %d",
		errors.RFCCodeText("CTRL:ErrUnknownLDO"),
	)
	ErrUnknownPartition = errors.Normalize(
		"reference to unknown partition %d",
		errors.RFCCodeText("CTRL:ErrUnknownPartition"),
	)
	ErrLDOAlreadyDefined = errors.Normalize(
		"logical data object %d is already defined",
		errors.RFCCodeText("CTRL:ErrLDOAlreadyDefined"),
	)
	ErrProtocol = errors.Normalize(
		"malformed or out-of-order message from worker %d: %s",
		errors.RFCCodeText("CTRL:ErrProtocol"),
	)
	ErrTemplateState = errors.Normalize(
		"template %q: invalid operation %s in state %s",
		errors.RFCCodeText("CTRL:ErrTemplateState"),
	)
	ErrVersionUnavailable = errors.Normalize(
		"no replica of ldo %d at version %d and no reconstruction path",
		errors.RFCCodeText("CTRL:ErrVersionUnavailable"),
	)
	ErrWorkerLost = errors.Normalize(
		"worker %d connection lost",
		errors.RFCCodeText("CTRL:ErrWorkerLost"),
	)
	ErrNoQualifiedWorker = errors.Normalize(
		"no worker qualifies to run job %d",
		errors.RFCCodeText("CTRL:ErrNoQualifiedWorker"),
	)
	ErrLineageNonMonotone = errors.Normalize(
		"lineage invariant violated: appended version %d does not exceed last version %d for ldo %d",
		errors.RFCCodeText("CTRL:ErrLineageNonMonotone"),
	)
	ErrCheckpointIncomplete = errors.Normalize(
		"checkpoint %d is not complete: %d saves still pending",
		errors.RFCCodeText("CTRL:ErrCheckpointIncomplete"),
	)
	ErrNoRewindPoint = errors.Normalize(
		"no checkpoint covers the ancestors of all lost jobs",
		errors.RFCCodeText("CTRL:ErrNoRewindPoint"),
	)
)

// Kind classifies a normalized error into the recovery action the
// controller should take for it.
type Kind int

const (
	// KindUnknown is the zero value; errors not produced by this
	// package, and this package's errors Classify maps to no other kind
	// (ErrNoQualifiedWorker, ErrNoRewindPoint and others), classify here
	// and are treated as FATAL by Classify.
	KindUnknown Kind = iota
	KindProtocol
	KindUnknownID
	KindTemplateState
	KindVersionUnavailable
	KindWorkerLost
	KindFatal
)

// RecoveryAction describes what the controller does in response to a
// classified error.
type RecoveryAction int

const (
	// ActionDrop silently drops the message/command; used for
	// UNKNOWN_ID and duplicate JobDone, which are idempotent-safe.
	ActionDrop RecoveryAction = iota
	// ActionCloseConnection closes the offending worker connection
	// and marks the worker LOST.
	ActionCloseConnection
	// ActionRefuse returns the failure to the caller without
	// mutating controller state (TEMPLATE_STATE).
	ActionRefuse
	// ActionRewind escalates to the checkpoint/rewind subsystem.
	ActionRewind
	// ActionAbort is an unrecoverable invariant violation; the
	// operator must intervene.
	ActionAbort
)

// Classify maps a normalized error to the Kind that produced it, by
// RFC code. Errors not produced by this package, and this package's
// errors not listed below, classify as KindUnknown (treated as fatal,
// since an unrecognized invariant violation is the safest conservative
// assumption).
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case ErrProtocol.Equal(err):
		return KindProtocol
	case ErrUnknownJob.Equal(err), ErrUnknownLDO.Equal(err), ErrUnknownPartition.Equal(err):
		return KindUnknownID
	case ErrTemplateState.Equal(err):
		return KindTemplateState
	case ErrVersionUnavailable.Equal(err):
		return KindVersionUnavailable
	case ErrWorkerLost.Equal(err):
		return KindWorkerLost
	case ErrLineageNonMonotone.Equal(err):
		return KindFatal
	default:
		return KindUnknown
	}
}

// RecoveryFor returns the recovery action prescribed for a Kind, per
// the error handling design: UNKNOWN_ID and duplicate JobDone recover
// locally; TEMPLATE_STATE and FATAL surface to caller/operator; all
// other kinds are recovered via rewind.
func RecoveryFor(k Kind) RecoveryAction {
	switch k {
	case KindUnknownID:
		return ActionDrop
	case KindProtocol:
		return ActionCloseConnection
	case KindTemplateState:
		return ActionRefuse
	case KindFatal, KindUnknown:
		return ActionAbort
	case KindVersionUnavailable, KindWorkerLost:
		return ActionRewind
	default:
		return ActionAbort
	}
}
