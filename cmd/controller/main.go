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

// Command controller runs the single event-loop controller process
// described in §5, wiring configuration, logging, metrics, leader
// election and the checkpoint store around pkg/controller. The command
// layering (a cobra root, a "run" subcommand, TOML file plus pflag
// overrides) mirrors engine/pkg/cmd/executor.NewCmdExecutor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/glebarez/sqlite"

	"github.com/nimbusctl/controller/pkg/checkpoint"
	cfgpkg "github.com/nimbusctl/controller/pkg/config"
	"github.com/nimbusctl/controller/pkg/controller"
	"github.com/nimbusctl/controller/pkg/leaderelection"
	"github.com/nimbusctl/controller/pkg/logutil"
	"github.com/nimbusctl/controller/pkg/metrics"
	"github.com/nimbusctl/controller/pkg/model"
	"github.com/nimbusctl/controller/pkg/router"
	"github.com/nimbusctl/controller/pkg/transport"
)

// tickInterval paces the event loop's Tick calls; §5 describes a
// controller that drains its ready frontier whenever there's work, not
// one polled on a fixed schedule, but a real process still needs a
// heartbeat to notice work queued by handlers between ticks.
const tickInterval = 20 * time.Millisecond

// version is overwritten at build time via -ldflags; a bare literal
// here is the fallback for a plain `go build`.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		if code, ok := errors.Cause(err).(exitCode); ok {
			return int(code)
		}
		return 1
	}
	return 0
}

// exitCode lets run() propagate an explicit non-zero status (a fatal
// Tick error) through cobra's plain error return.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", e) }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "controller",
		Short: "Run the dataflow controller",
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the controller version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("nimbusctl-controller", version)
			return nil
		},
	}
}

type options struct {
	cfg        *cfgpkg.Config
	configFile string
}

func newOptions() *options {
	return &options{cfg: cfgpkg.Default()}
}

func (o *options) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.configFile, "config", "", "path to a TOML configuration file")
	cmd.Flags().StringVar(&o.cfg.Name, "name", o.cfg.Name, "human readable name for this controller instance")
	cmd.Flags().StringVar(&o.cfg.ListenAddr, "listen-addr", o.cfg.ListenAddr, "address workers dial to connect")
	cmd.Flags().StringVar(&o.cfg.MetricsAddr, "metrics-addr", o.cfg.MetricsAddr, "address to serve /metrics on")
	cmd.Flags().StringVar(&o.cfg.LogLevel, "log-level", o.cfg.LogLevel, "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&o.cfg.LogFile, "log-file", o.cfg.LogFile, "log file path, empty for stderr")
	cmd.Flags().StringVar(&o.cfg.Checkpoint.Driver, "checkpoint-driver", o.cfg.Checkpoint.Driver, "checkpoint store driver: mysql|sqlite")
	cmd.Flags().StringVar(&o.cfg.Checkpoint.DSN, "checkpoint-dsn", o.cfg.Checkpoint.DSN, "checkpoint store DSN")
	cmd.Flags().StringSliceVar(&o.cfg.Etcd.Endpoints, "etcd-endpoints", o.cfg.Etcd.Endpoints, "etcd endpoints for leader election; empty runs single-instance with no HA")
	cmd.Flags().StringVar(&o.cfg.Etcd.ElectionPrefix, "election-prefix", o.cfg.Etcd.ElectionPrefix, "etcd key prefix for the leader campaign")
	cmd.Flags().Int64Var(&o.cfg.PoolSize, "pool-size", o.cfg.PoolSize, "bounded worker-pool size for template expansion")
}

func (o *options) complete(cmd *cobra.Command) error {
	cfg := cfgpkg.Default()
	if o.configFile != "" {
		if err := cfgpkg.StrictDecodeFile(o.configFile, "controller", cfg); err != nil {
			return err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "name":
			cfg.Name = o.cfg.Name
		case "listen-addr":
			cfg.ListenAddr = o.cfg.ListenAddr
		case "metrics-addr":
			cfg.MetricsAddr = o.cfg.MetricsAddr
		case "log-level":
			cfg.LogLevel = o.cfg.LogLevel
		case "log-file":
			cfg.LogFile = o.cfg.LogFile
		case "checkpoint-driver":
			cfg.Checkpoint.Driver = o.cfg.Checkpoint.Driver
		case "checkpoint-dsn":
			cfg.Checkpoint.DSN = o.cfg.Checkpoint.DSN
		case "etcd-endpoints":
			cfg.Etcd.Endpoints = o.cfg.Etcd.Endpoints
		case "election-prefix":
			cfg.Etcd.ElectionPrefix = o.cfg.Etcd.ElectionPrefix
		case "pool-size":
			cfg.PoolSize = o.cfg.PoolSize
		case "config":
			// handled above
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})
	if err := cfg.Adjust(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func newRunCmd() *cobra.Command {
	o := newOptions()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller event loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return runController(o.cfg)
		},
	}
	o.addFlags(cmd)
	return cmd
}

// app bundles the wiring runController needs to hold onto across
// goroutines: one TCP connection per worker, looked up by id both to
// send outbound commands and to notice a connection drop.
type app struct {
	cfg    *cfgpkg.Config
	ctrl   *controller.Controller
	router *router.Router
	logger *zap.Logger
	m      *metrics.ControllerMetrics

	mu    sync.Mutex
	conns map[model.WorkerID]*transport.Conn
}

func runController(cfg *cfgpkg.Config) error {
	if err := logutil.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return errors.Trace(err)
	}
	logger := logutil.NewControllerLogger()
	logger.Info("starting controller", zap.String("name", cfg.Name), zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
		cancel()
	}()

	registry := prometheus.NewRegistry()
	factory := metrics.NewFactory(registry)
	m := metrics.NewControllerMetrics(factory)
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(registry)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()
	defer metricsSrv.Close()

	if len(cfg.Etcd.Endpoints) > 0 {
		leaderCtx, resign, err := campaignForLeadership(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer resign()
		ctx = leaderCtx
	}

	db, err := openCheckpointDB(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	store, err := checkpoint.NewStore(db)
	if err != nil {
		return errors.Trace(err)
	}

	a := &app{cfg: cfg, logger: logger, m: m, conns: make(map[model.WorkerID]*transport.Conn)}
	a.router = router.New(a.send, a.onProtocolError)
	a.ctrl = controller.New(a.router, store, cfg.PoolSize)

	ln, err := transport.Listen(cfg.ListenAddr)
	if err != nil {
		return errors.Trace(err)
	}
	defer ln.Close()
	logger.Info("listening for workers", zap.Stringer("addr", ln.Addr()))

	go func() {
		if err := ln.Serve(a.handleConn); err != nil {
			logger.Info("listener stopped", zap.Error(err))
		}
	}()

	return a.runTickLoop(ctx)
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}

func campaignForLeadership(ctx context.Context, cfg *cfgpkg.Config, logger *zap.Logger) (context.Context, context.CancelFunc, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	campaigner := leaderelection.New(client, leaderelection.Config{
		Prefix:     cfg.Etcd.ElectionPrefix,
		SessionTTL: cfg.Etcd.SessionTTL,
	})
	leaderCtx, resign, err := campaigner.Campaign(ctx, cfg.Name)
	if err != nil {
		client.Close()
		return nil, nil, errors.Trace(err)
	}
	logger.Info("acquired controller leadership")
	return leaderCtx, func() {
		resign()
		client.Close()
	}, nil
}

// openCheckpointDB opens the gorm connection the checkpoint store runs
// on. mysql is the production path (§6 "Persisted state"); sqlite
// backs single-process/dev runs, matching pkg/checkpoint/store_test.go.
func openCheckpointDB(cfg *cfgpkg.Config) (*gorm.DB, error) {
	switch cfg.Checkpoint.Driver {
	case "mysql":
		return gorm.Open(mysql.Open(cfg.Checkpoint.DSN), &gorm.Config{})
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.Checkpoint.DSN), &gorm.Config{})
	default:
		return nil, errors.Errorf("unknown checkpoint driver %q", cfg.Checkpoint.Driver)
	}
}

func (a *app) send(ctx context.Context, worker model.WorkerID, msg router.Message) error {
	a.mu.Lock()
	conn, ok := a.conns[worker]
	a.mu.Unlock()
	if !ok {
		return errors.Errorf("no connection for worker %d", worker)
	}
	a.m.CommandsSent.WithLabelValues(msg.Kind.String()).Inc()
	return conn.Send(ctx, worker, msg)
}

func (a *app) onProtocolError(worker model.WorkerID, err error) {
	a.logger.Warn("worker reported protocol error", zap.Int64("worker", int64(worker)), zap.Error(err))
	a.dropConn(worker)
}

func (a *app) dropConn(worker model.WorkerID) {
	a.mu.Lock()
	conn, ok := a.conns[worker]
	delete(a.conns, worker)
	a.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// handleConn services one worker connection end to end: its first
// message must be a Handshake carrying the worker's configured id
// (config.WorkerID on the far end), after which every further message
// is stamped with that id and handed to the router.
func (a *app) handleConn(conn *transport.Conn) {
	ctx := context.Background()
	first, err := conn.Recv()
	if err != nil {
		conn.Close()
		return
	}
	if first.Kind != router.KindHandshake {
		a.logger.Warn("first message on connection was not a handshake", zap.Stringer("kind", first.Kind))
		conn.Close()
		return
	}
	hs, ok := first.Body.(router.Handshake)
	if !ok || hs.Worker == 0 {
		a.logger.Warn("handshake missing a worker id")
		conn.Close()
		return
	}
	worker := hs.Worker

	a.mu.Lock()
	a.conns[worker] = conn
	a.mu.Unlock()

	first.Worker = worker
	a.router.Dispatch(ctx, first)

	for {
		msg, err := conn.Recv()
		if err != nil {
			a.logger.Info("worker connection closed", zap.Int64("worker", int64(worker)), zap.Error(err))
			a.dropConn(worker)
			a.m.RewindTotal.Inc()
			if err := a.ctrl.OnWorkerLost(ctx, worker); err != nil {
				a.logger.Error("rewind recovery for lost worker failed", zap.Int64("worker", int64(worker)), zap.Error(err))
			}
			return
		}
		msg.Worker = worker
		a.router.Dispatch(ctx, msg)
	}
}

func (a *app) runTickLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.terminateWorkers(0)
			return nil
		case <-ticker.C:
			a.m.QueueDepth.Set(float64(a.ctrl.FrontierDepth()))
			if err := a.ctrl.Tick(context.Background()); err != nil {
				a.logger.Error("tick failed, terminating run", zap.Error(err))
				a.terminateWorkers(1)
				return exitCode(1)
			}
		}
	}
}

// terminateWorkers sends every connected worker a Terminate command
// carrying status, the §6 "Exit codes" contract: "0 normal termination
// via TERMINATE command; non-zero propagates the exit status carried
// by TERMINATE."
func (a *app) terminateWorkers(status int) {
	a.mu.Lock()
	workers := make([]model.WorkerID, 0, len(a.conns))
	for w := range a.conns {
		workers = append(workers, w)
	}
	a.mu.Unlock()

	msg := router.Message{Kind: router.KindControllerTerminate, Body: router.ControllerTerminate{ExitStatus: status}}
	for _, w := range workers {
		if err := a.send(context.Background(), w, msg); err != nil {
			a.logger.Warn("failed to deliver terminate", zap.Int64("worker", int64(w)), zap.Error(err))
		}
	}
}
