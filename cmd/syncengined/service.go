package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maxdata-sh/max-sub001/internal/config"
	"github.com/maxdata-sh/max-sub001/internal/daemonlog"
	"github.com/maxdata-sh/max-sub001/internal/executor"
	"github.com/maxdata-sh/max-sub001/internal/flowcontrol"
	"github.com/maxdata-sh/max-sub001/internal/lockfile"
	"github.com/maxdata-sh/max-sub001/internal/memengine"
	"github.com/maxdata-sh/max-sub001/internal/registry"
	"github.com/maxdata-sh/max-sub001/internal/rpcwire"
	"github.com/maxdata-sh/max-sub001/internal/runner"
	"github.com/maxdata-sh/max-sub001/internal/syncmeta"
	syncmetasqlite "github.com/maxdata-sh/max-sub001/internal/syncmeta/sqlite"
	"github.com/maxdata-sh/max-sub001/internal/taskstore"
	taskstoresqlite "github.com/maxdata-sh/max-sub001/internal/taskstore/sqlite"
	"github.com/maxdata-sh/max-sub001/pkg/engine"
	"golang.org/x/time/rate"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// service bundles every collaborator the daemon wires together: the
// Task Store, Sync Meta Store, Execution Registry, Task Runner and Sync
// Executor, plus the RPC server exposing them over the federation
// boundary (§4.5, §4.8).
type service struct {
	cfg      config.Config
	log      *slog.Logger
	lock     *lockfile.Lock
	tasks    taskstore.Store
	meta     syncmeta.Store
	eng      engine.Engine
	reg      *registry.Registry
	exec     *executor.Executor
	rpc      *rpcwire.Server
	logClose func() error

	runCtx context.Context // daemon lifetime; set by run(), outlives any one RPC connection
}

// newService wires a fresh daemon instance from cfg. Callers must call
// close() when done, even on error paths that leave partial state.
func newService(ctx context.Context, cfg config.Config) (*service, error) {
	logger, rotator := daemonlog.New(daemonlog.Options{
		FilePath: cfg.LogPath,
		JSON:     cfg.LogJSON,
		Level:    cfg.LogLevel,
	})

	lock, err := lockfile.Acquire(cfg.LockPath, cfg.DBPath, Version)
	if err != nil {
		if rotator != nil {
			_ = rotator.Close()
		}
		return nil, fmt.Errorf("syncengined: acquire lock: %w", err)
	}

	tasks, err := taskstoresqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		_ = lock.Close()
		if rotator != nil {
			_ = rotator.Close()
		}
		return nil, fmt.Errorf("syncengined: open task store: %w", err)
	}

	meta, err := syncmetasqlite.Open(ctx, cfg.SyncMetaDBPath)
	if err != nil {
		_ = tasks.Close()
		_ = lock.Close()
		if rotator != nil {
			_ = rotator.Close()
		}
		return nil, fmt.Errorf("syncengined: open sync meta store: %w", err)
	}

	var flow flowcontrol.Controller = flowcontrol.NoOp{}
	if cfg.FlowControl.Enabled {
		flow = flowcontrol.NewTokenBucket(
			rate.Limit(cfg.FlowControl.RequestsPerSecond),
			cfg.FlowControl.Burst,
		)
	}

	eng := memengine.New()
	reg := registry.New(nil, nil, nil, flow)

	r := runner.New(reg, eng, meta)
	ex := executor.New(r, tasks, executor.Options{Workers: cfg.Workers})

	rpc := rpcwire.NewServer(cfg.SocketPath)

	s := &service{
		cfg:   cfg,
		log:   logger,
		lock:  lock,
		tasks: tasks,
		meta:  meta,
		eng:   eng,
		reg:   reg,
		exec:  ex,
		rpc:   rpc,
	}
	if rotator != nil {
		s.logClose = rotator.Close
	}
	s.registerHandlers()
	return s, nil
}

func (s *service) close() {
	_ = s.rpc.Stop()
	_ = s.tasks.Close()
	_ = s.meta.Close()
	_ = s.lock.Close()
	if s.logClose != nil {
		_ = s.logClose()
	}
}

// run starts the RPC server and blocks until ctx is cancelled. ctx also
// becomes the lifetime context for every sync started over RPC, so a sync
// keeps running after the connection that started it closes, and stops
// only when the daemon itself shuts down.
func (s *service) run(ctx context.Context) error {
	s.runCtx = ctx
	errCh := make(chan error, 1)
	go func() { errCh <- s.rpc.Start(ctx) }()

	select {
	case <-s.rpc.WaitReady():
		s.log.Info("syncengined ready", "socket", s.cfg.SocketPath, "workers", s.cfg.Workers)
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("syncengined: rpc server did not become ready")
	}

	select {
	case <-ctx.Done():
		return s.rpc.Stop()
	case err := <-errCh:
		return err
	}
}
