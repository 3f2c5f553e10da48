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

package checkpoint

import (
	"context"
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nimbusctl/controller/pkg/model"
)

// CheckpointRecord is the durable row for one committed checkpoint,
// the contract §6 calls out: "Checkpoint entries and a tail of lineage
// are persisted per checkpoint id... given the persisted set,
// controller restart restores the job graph to the committed prefix
// exactly."
type CheckpointRecord struct {
	ID          int64 `gorm:"primaryKey"`
	CommittedAt time.Time
}

// TableName pins the gorm table name independent of struct renames.
func (CheckpointRecord) TableName() string { return "checkpoints" }

// LineageTailRecord is one persisted lineage entry belonging to a
// checkpoint's committed prefix: enough to reconstruct chain(L) up to
// the checkpoint boundary on restart without replaying the whole run.
type LineageTailRecord struct {
	CheckpointID int64 `gorm:"primaryKey;index:idx_ldo_version"`
	LDOID        int64 `gorm:"primaryKey;index:idx_ldo_version"`
	Version      int64 `gorm:"primaryKey;index:idx_ldo_version"`
	WriterJobID  int64
	Sterile      bool
	WorkerID     int64
	Handle       string
}

// TableName pins the gorm table name independent of struct renames.
func (LineageTailRecord) TableName() string { return "lineage_tail" }

// Store persists checkpoint entries and their lineage tail, backed by
// gorm the way the teacher's metastore client wraps a *gorm.DB per
// concern rather than hand-rolling SQL (engine/pkg/orm/client.go).
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore opens (and migrates) the checkpoint store's schema on db.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&CheckpointRecord{}, &LineageTailRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, logger: log.L().With(zap.String("component", "checkpoint-store"))}, nil
}

// Commit persists a checkpoint entry and its lineage tail in one
// transaction: either the whole committed prefix lands, or none of it
// does, so a crash mid-commit never leaves a partially-restorable
// checkpoint on restart.
func (s *Store) Commit(ctx context.Context, id model.CheckpointID, tail []LineageTailRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&CheckpointRecord{ID: int64(id), CommittedAt: committedAtFromContext(ctx)}).Error; err != nil {
			return err
		}
		for i := range tail {
			tail[i].CheckpointID = int64(id)
		}
		if len(tail) == 0 {
			return nil
		}
		return tx.CreateInBatches(tail, 200).Error
	})
}

// committedAtFromContext stamps the commit time; pulled out as a
// function (rather than called inline) only so a future caller that
// wants a fixed clock for deterministic replay tests can override it.
func committedAtFromContext(_ context.Context) time.Time {
	return time.Now()
}

// Latest returns the most recently committed checkpoint id, or
// (0, false) if the store is empty (a fresh run).
func (s *Store) Latest(ctx context.Context) (model.CheckpointID, bool, error) {
	var rec CheckpointRecord
	err := s.db.WithContext(ctx).Order("id desc").First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return model.CheckpointID(rec.ID), true, nil
}

// LineageTail returns every persisted lineage entry committed at or
// before id, the set a restart replays into the lineage ledger to
// restore chain(L) for every live LDO.
func (s *Store) LineageTail(ctx context.Context, id model.CheckpointID) ([]LineageTailRecord, error) {
	var out []LineageTailRecord
	if err := s.db.WithContext(ctx).
		Where("checkpoint_id <= ?", int64(id)).
		Order("ldo_id, version").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
