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

// Package config defines the controller and worker process
// configuration, loaded from TOML and overridable by flags, the same
// layering engine/pkg/cmd/executor uses: GetDefaultConfig, an optional
// --config file decoded strictly, then any flag the user actually set
// on the command line wins over the file.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// EtcdConfig configures the leader-election campaign.
type EtcdConfig struct {
	Endpoints      []string `toml:"endpoints"`
	ElectionPrefix string   `toml:"election-prefix"`
	SessionTTL     int      `toml:"session-ttl"`
}

// CheckpointConfig selects and configures the checkpoint store's gorm
// driver. Driver is "mysql" for a production run and "sqlite" for a
// single-process/embedded run (tests, local development), matching the
// pair of drivers pkg/checkpoint/store.go is built against.
type CheckpointConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// Config is the single settings object each process (`cmd/controller`,
// `cmd/worker`) loads once at startup.
type Config struct {
	Name       string `toml:"name"`
	ListenAddr string `toml:"listen-addr"`

	MetricsAddr string `toml:"metrics-addr"`

	LogLevel string `toml:"log-level"`
	LogFile  string `toml:"log-file"`

	Etcd       EtcdConfig       `toml:"etcd"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`

	// PoolSize bounds the controller's template-expansion worker pool
	// (pkg/controller's workPool), §5's "bounded pool" for work handed
	// off the single event-loop goroutine.
	PoolSize int64 `toml:"pool-size"`

	// ControllerAddr is the address cmd/worker dials; unused by
	// cmd/controller.
	ControllerAddr string `toml:"controller-addr"`

	// WorkerID is the fixed id a worker process presents in its
	// Handshake; unused by cmd/controller. A worker connection has to
	// be identified before its first message is dispatched (the router
	// keys mailboxes and outboxes by worker id), so unlike the
	// single-process test harness, a real TCP worker cannot wait for
	// the controller to allocate and echo an id back - there is no
	// wire message for that (§1: message semantics only, no protocol
	// additions beyond §6's list) - so it must arrive already assigned.
	WorkerID int64 `toml:"worker-id"`
}

// Default returns a Config with the same baseline values
// engine/pkg/cmd/executor.newOptions seeds before any file or flag is
// applied.
func Default() *Config {
	return &Config{
		Name:        "controller",
		ListenAddr:  "0.0.0.0:9320",
		MetricsAddr: "0.0.0.0:9321",
		LogLevel:    "info",
		Etcd: EtcdConfig{
			ElectionPrefix: "/nimbusctl/controller/leader",
			SessionTTL:     5,
		},
		Checkpoint: CheckpointConfig{
			Driver: "sqlite",
			DSN:    "nimbusctl-checkpoint.db",
		},
		PoolSize: 32,
	}
}

// StrictDecodeFile decodes the TOML file at path into cfg, mirroring
// tiflow's pkg/cmd/util.StrictDecodeFile: any key present in the file
// but absent from cfg's fields is an error, catching typos in a config
// file a lenient decode would silently ignore.
func StrictDecodeFile(path, component string, cfg *Config) error {
	metaData, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Annotatef(err, "decode %s config file %s", component, path)
	}
	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		return errors.Errorf("%s config file %s contains unknown fields: %v", component, path, undecoded)
	}
	return nil
}

// Adjust fills in defaults for anything the file/flags left zero and
// validates the rest, the role engine/executor.Config.Adjust plays
// just before a server is constructed from it.
func (c *Config) Adjust() error {
	def := Default()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = def.MetricsAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.PoolSize <= 0 {
		c.PoolSize = def.PoolSize
	}
	if c.Checkpoint.Driver == "" {
		c.Checkpoint.Driver = def.Checkpoint.Driver
	}
	if c.Checkpoint.DSN == "" {
		c.Checkpoint.DSN = def.Checkpoint.DSN
	}
	switch c.Checkpoint.Driver {
	case "mysql", "sqlite":
	default:
		return errors.Errorf("checkpoint.driver must be \"mysql\" or \"sqlite\", got %q", c.Checkpoint.Driver)
	}
	if c.Checkpoint.Driver == "mysql" && len(c.Etcd.Endpoints) == 0 {
		// A production (mysql-backed) run is expected to run with HA
		// leader election; a sqlite-backed dev run is not.
		return errors.Errorf("etcd.endpoints is required when checkpoint.driver is \"mysql\"")
	}
	if c.Etcd.ElectionPrefix == "" {
		c.Etcd.ElectionPrefix = def.Etcd.ElectionPrefix
	}
	if c.Etcd.SessionTTL <= 0 {
		c.Etcd.SessionTTL = def.Etcd.SessionTTL
	}
	return nil
}
