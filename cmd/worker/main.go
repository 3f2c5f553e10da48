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

// Command worker connects to a controller and executes the commands it
// receives. The numeric simulation kernels a real job would run are
// out of scope (§1: "opaque compute jobs"); this process supplies the
// generic scaffolding around that opaque boundary - handshake,
// dispatch, and completion reporting - the same role engine/executor
// plays around its (also pluggable) worker implementations. It does
// not instantiate worker-side execution templates: the runtime's
// templates map is never filled and pkg/worker/exectemplate is not
// driven from here.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	cfgpkg "github.com/nimbusctl/controller/pkg/config"
	"github.com/nimbusctl/controller/pkg/logutil"
	"github.com/nimbusctl/controller/pkg/metrics"
	"github.com/nimbusctl/controller/pkg/model"
	"github.com/nimbusctl/controller/pkg/router"
	"github.com/nimbusctl/controller/pkg/transport"
	"github.com/nimbusctl/controller/pkg/worker/exectemplate"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	code := 0
	cmd := newRootCmd(&code)
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return code
}

func newRootCmd(exitStatus *int) *cobra.Command {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Run a dataflow worker",
	}
	root.AddCommand(newRunCmd(exitStatus), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the worker version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("nimbusctl-worker", version)
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
	cmd.Flags().StringVar(&o.cfg.ControllerAddr, "controller-addr", "127.0.0.1:9320", "controller address to dial")
	cmd.Flags().Int64Var(&o.cfg.WorkerID, "worker-id", o.cfg.WorkerID, "this worker's fixed id")
	cmd.Flags().StringVar(&o.cfg.MetricsAddr, "metrics-addr", "0.0.0.0:9322", "address to serve /metrics on")
	cmd.Flags().StringVar(&o.cfg.LogLevel, "log-level", o.cfg.LogLevel, "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&o.cfg.LogFile, "log-file", o.cfg.LogFile, "log file path, empty for stderr")
}

func (o *options) complete(cmd *cobra.Command) error {
	cfg := cfgpkg.Default()
	cfg.Checkpoint.Driver = "" // unused on the worker side; Adjust would otherwise demand etcd endpoints for "mysql"
	cfg.ControllerAddr = cmd.Flags().Lookup("controller-addr").DefValue
	cfg.MetricsAddr = cmd.Flags().Lookup("metrics-addr").DefValue
	if o.configFile != "" {
		if err := cfgpkg.StrictDecodeFile(o.configFile, "worker", cfg); err != nil {
			return err
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "controller-addr":
			cfg.ControllerAddr = o.cfg.ControllerAddr
		case "worker-id":
			cfg.WorkerID = o.cfg.WorkerID
		case "metrics-addr":
			cfg.MetricsAddr = o.cfg.MetricsAddr
		case "log-level":
			cfg.LogLevel = o.cfg.LogLevel
		case "log-file":
			cfg.LogFile = o.cfg.LogFile
		case "config":
		default:
			panic("unknown flag " + flag.Name)
		}
	})
	if cfg.WorkerID == 0 {
		return errors.New("--worker-id (or config worker-id) is required")
	}
	o.cfg = cfg
	return nil
}

func newRunCmd(exitStatus *int) *cobra.Command {
	o := newOptions()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a controller and execute commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			status, err := runWorker(o.cfg)
			*exitStatus = status
			return err
		},
	}
	o.addFlags(cmd)
	return cmd
}

// runtime holds the worker's local template bookkeeping and the
// connection back to the controller.
type runtime struct {
	conn   *transport.Conn
	worker model.WorkerID
	logger *zap.Logger

	mu        sync.Mutex
	templates map[string]*exectemplate.Template

	commandsHandled *prometheus.CounterVec
}

func runWorker(cfg *cfgpkg.Config) (int, error) {
	if err := logutil.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return 1, errors.Trace(err)
	}
	logger := logutil.NewWorkerLogger(cfg.WorkerID)
	logger.Info("starting worker", zap.String("version", version), zap.String("controller", cfg.ControllerAddr))

	registry := prometheus.NewRegistry()
	factory := metrics.NewFactory(registry)
	commandsHandled := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nimbusctl",
		Subsystem: "worker",
		Name:      "commands_handled_total",
		Help:      "Commands received from the controller, by kind.",
	}, []string{"kind"})
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(registry)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server exited", zap.Error(err))
		}
	}()
	defer metricsSrv.Close()

	conn, err := transport.Dial(cfg.ControllerAddr)
	if err != nil {
		return 1, errors.Trace(err)
	}
	defer conn.Close()

	rt := &runtime{
		conn:            conn,
		worker:          model.WorkerID(cfg.WorkerID),
		logger:          logger,
		templates:       make(map[string]*exectemplate.Template),
		commandsHandled: commandsHandled,
	}

	if err := conn.Send(context.Background(), rt.worker, router.Message{
		Kind: router.KindHandshake,
		Body: router.Handshake{Worker: rt.worker},
	}); err != nil {
		return 1, errors.Trace(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		logger.Info("received signal, closing connection")
		conn.Close()
	}()

	return rt.serve()
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return mux
}

// serve reads commands until the connection closes or a Terminate
// command arrives, at which point it returns the exit status
// ControllerTerminate carried, per §6.
func (rt *runtime) serve() (int, error) {
	for {
		msg, err := rt.conn.Recv()
		if err != nil {
			rt.logger.Info("connection to controller closed", zap.Error(err))
			return 1, nil
		}
		if status, done := rt.handle(msg); done {
			return status, nil
		}
	}
}

// handle executes one inbound command and reports completion back to
// the controller. The second return value is true once a
// ControllerTerminate has been processed.
func (rt *runtime) handle(msg router.Message) (int, bool) {
	ctx := context.Background()
	rt.commandsHandled.WithLabelValues(msg.Kind.String()).Inc()
	switch msg.Kind {
	case router.KindExecute:
		body := msg.Body.(router.Execute)
		rt.runOpaqueJob(body.JobID, body.Name)
		rt.reportDone(ctx, body.JobID)

	case router.KindCreate:
		body := msg.Body.(router.Create)
		rt.logger.Debug("allocating physical replica", zap.Int64("ldo", int64(body.LDO)), zap.Int64("phys", int64(body.Phys)))
		rt.reportDone(ctx, body.JobID)

	case router.KindLocalCopy:
		body := msg.Body.(router.LocalCopy)
		rt.reportDone(ctx, body.JobID)

	case router.KindRemoteCopySend:
		body := msg.Body.(router.RemoteCopySend)
		rt.reportDone(ctx, body.JobID)

	case router.KindRemoteCopyReceive:
		body := msg.Body.(router.RemoteCopyReceive)
		rt.reportDone(ctx, body.JobID)

	case router.KindMegaRCR:
		body := msg.Body.(router.MegaRCR)
		for _, jobID := range body.Receives {
			rt.reportDone(ctx, jobID)
		}

	case router.KindSaveData:
		body := msg.Body.(router.SaveData)
		handle := fmt.Sprintf("save-%d-%d", body.Checkpoint, body.Phys)
		if err := rt.conn.Send(ctx, rt.worker, router.Message{
			Kind: router.KindSaveDataDone,
			Body: router.SaveDataDone{JobID: body.JobID, Handle: handle},
		}); err != nil {
			rt.logger.Warn("failed to report save-data completion", zap.Error(err))
		}

	case router.KindLoadData:
		body := msg.Body.(router.LoadData)
		rt.logger.Info("reconstructing replica from checkpoint handle", zap.String("handle", body.Handle), zap.Int64("ldo", int64(body.LDO)))
		rt.reportDone(ctx, body.JobID)

	case router.KindControllerTerminate:
		body := msg.Body.(router.ControllerTerminate)
		rt.logger.Info("received terminate", zap.Int("status", body.ExitStatus))
		return body.ExitStatus, true

	default:
		rt.logger.Warn("unexpected message kind from controller", zap.Stringer("kind", msg.Kind))
	}
	return 0, false
}

// runOpaqueJob stands in for the numeric simulation kernel a real
// COMPUTE job would run.
func (rt *runtime) runOpaqueJob(jobID model.JobID, name string) {
	rt.logger.Debug("running compute job", zap.Int64("job", int64(jobID)), zap.String("name", name))
}

func (rt *runtime) reportDone(ctx context.Context, jobID model.JobID) {
	if err := rt.conn.Send(ctx, rt.worker, router.Message{
		Kind: router.KindJobDone,
		Body: router.JobDone{JobID: jobID},
	}); err != nil {
		rt.logger.Warn("failed to report job completion", zap.Int64("job", int64(jobID)), zap.Error(err))
	}
}
