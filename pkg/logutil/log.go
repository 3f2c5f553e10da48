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

// Package logutil builds component-scoped zap loggers on top of the
// global pingcap/log logger, one constructor per subsystem.
package logutil

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	fieldComponent = "component"
	fieldWorkerID  = "worker_id"
	fieldJobID     = "job_id"
	fieldLDOID     = "ldo_id"
	fieldTemplate  = "template"
)

// NewControllerLogger returns the root logger for the controller event
// loop.
func NewControllerLogger() *zap.Logger {
	return log.L().With(zap.String(fieldComponent, "controller"))
}

// NewAssignerLogger returns a logger scoped to the assignment loop.
func NewAssignerLogger() *zap.Logger {
	return log.L().With(zap.String(fieldComponent, "assigner"))
}

// NewWorkerLogger returns a logger scoped to a specific worker
// connection.
func NewWorkerLogger(workerID int64) *zap.Logger {
	return log.L().With(
		zap.String(fieldComponent, "worker-conn"),
		zap.Int64(fieldWorkerID, workerID),
	)
}

// NewJobLogger returns a logger scoped to a single job, useful when
// tracing a job through graph mutation, assignment and completion.
func NewJobLogger(jobID int64) *zap.Logger {
	return log.L().With(
		zap.String(fieldComponent, "job"),
		zap.Int64(fieldJobID, jobID),
	)
}

// NewLineageLogger returns a logger scoped to lineage operations on a
// single LDO.
func NewLineageLogger(ldoID int64) *zap.Logger {
	return log.L().With(
		zap.String(fieldComponent, "lineage"),
		zap.Int64(fieldLDOID, ldoID),
	)
}

// NewTemplateLogger returns a logger scoped to one named template.
func NewTemplateLogger(name string) *zap.Logger {
	return log.L().With(
		zap.String(fieldComponent, "template"),
		zap.String(fieldTemplate, name),
	)
}

// NewCheckpointLogger returns a logger scoped to checkpoint/rewind
// operations.
func NewCheckpointLogger() *zap.Logger {
	return log.L().With(zap.String(fieldComponent, "checkpoint"))
}

// InitGlobalLogger installs the process-wide logger the cmd entrypoints
// use before constructing anything else, so every NewXxxLogger call
// above picks it up through log.L(). level is a zap level name
// ("debug", "info", "warn", "error"); file is a path, or empty for
// stderr.
func InitGlobalLogger(level, file string) error {
	cfg := &log.Config{
		Level: level,
		File:  log.FileLogConfig{Filename: file},
	}
	logger, props, err := log.InitLogger(cfg)
	if err != nil {
		return err
	}
	log.ReplaceGlobals(logger, props)
	return nil
}
