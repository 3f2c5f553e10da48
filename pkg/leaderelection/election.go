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

// Package leaderelection decides which controller process owns the
// single event loop of §5, using the same etcd campaign pattern as
// engine/servermaster/cluster.EtcdSession: a lease-backed session plus
// concurrency.Election, Campaign blocking until this process wins or
// the context is cancelled, with the won context tied to the session
// so a lost lease (network partition, process hang) tears down the
// caller's run loop instead of silently leaving two controllers live.
package leaderelection

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// Config mirrors engine/servermaster/cluster.EtcdElectionConfig: the
// campaign key prefix every candidate contends on, and the session TTL
// that bounds how long a dead leader's lease lingers before a standby
// can take over.
type Config struct {
	// Prefix is the etcd key prefix campaigners race on, e.g.
	// "/nimbusctl/controller/leader".
	Prefix string
	// SessionTTL is the lease TTL in seconds backing the campaign
	// session; defaultSessionTTL is used if zero.
	SessionTTL int
}

const defaultSessionTTL = 5 // seconds, matches engine/servermaster/cluster's defaultSessionTTL

// Campaigner runs leader campaigns for one etcd client, handing back a
// fresh session and Election on every call so a lost lease can be
// recovered by campaigning again rather than reusing broken state.
type Campaigner struct {
	client *clientv3.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Campaigner over client. client is owned by the caller;
// Campaigner never closes it.
func New(client *clientv3.Client, cfg Config) *Campaigner {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	return &Campaigner{
		client: client,
		cfg:    cfg,
		logger: log.L().With(zap.String("component", "leaderelection")),
	}
}

// Campaign blocks until member wins the election or ctx is cancelled.
// On success it returns a context that is cancelled the moment the
// underlying etcd session ends (lease expiry, revoke, or resign), and a
// resign function the caller must invoke to voluntarily step down and
// release the session's resources.
func (c *Campaigner) Campaign(ctx context.Context, member string) (context.Context, context.CancelFunc, error) {
	session, err := concurrency.NewSession(c.client, concurrency.WithTTL(c.cfg.SessionTTL))
	if err != nil {
		return nil, nil, errors.Trace(err)
	}

	election := concurrency.NewElection(session, c.cfg.Prefix)
	c.logger.Info("campaigning for controller leadership", zap.String("member", member))
	if err := election.Campaign(ctx, member); err != nil {
		_ = session.Close()
		return nil, nil, errors.Trace(err)
	}
	c.logger.Info("won controller leadership", zap.String("member", member))

	leaderCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-session.Done():
			c.logger.Warn("leader session ended, stepping down", zap.String("member", member))
			cancel()
		case <-leaderCtx.Done():
		}
	}()

	resign := func() {
		cancel()
		resignCtx, resignCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer resignCancel()
		if err := election.Resign(resignCtx); err != nil {
			c.logger.Warn("resign failed", zap.Error(err))
		}
		_ = session.Close()
	}
	return leaderCtx, resign, nil
}
