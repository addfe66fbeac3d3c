// Package server composes the spanfs process: leaves, federation engine,
// decorator stack, optional metrics listener, and the FUSE mount.
//
// Decorator order, innermost first:
//
//	federation -> call log (optional) -> lock -> guard -> metrics (optional)
//
// The lock sits inside the guard so a panic raised with the lock held
// unwinds through the lock's deferred unlock before being translated; the
// call log sits between the federation and the lock so it records the
// serialized operation stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/spanfs/internal/logger"
	fuseadapter "github.com/marmos91/spanfs/pkg/adapter/fuse"
	"github.com/marmos91/spanfs/pkg/config"
	"github.com/marmos91/spanfs/pkg/federation"
	"github.com/marmos91/spanfs/pkg/federation/guard"
	"github.com/marmos91/spanfs/pkg/federation/locked"
	"github.com/marmos91/spanfs/pkg/leaf"
	"github.com/marmos91/spanfs/pkg/leaf/logging"
	"github.com/marmos91/spanfs/pkg/metrics"
)

// Server owns the mounted federation and its auxiliary listeners.
type Server struct {
	cfg *config.Config

	fsys    leaf.FileSystem
	callLog *logging.FileSystem

	fuseServer *gofuse.Server
	metricsSrv *http.Server
}

// New builds the full stack from configuration. Nothing is mounted yet;
// call Serve.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	leaves, err := config.CreateLeaves(ctx, cfg.Leaves)
	if err != nil {
		return nil, err
	}

	engine, err := federation.New(uint32(os.Getuid()), uint32(os.Getgid()), leaves)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg}

	var stack leaf.FileSystem = engine
	if cfg.Logging.CallLog != "" {
		callLog, err := logging.NewFile(stack, cfg.Logging.CallLog)
		if err != nil {
			return nil, err
		}
		s.callLog = callLog
		stack = callLog
	}
	stack = locked.New(stack)
	stack = guard.New(stack)
	if cfg.Metrics.Enabled {
		stack = metrics.New(stack)
	}

	s.fsys = stack
	return s, nil
}

// FileSystem returns the fully decorated stack, mainly for tests.
func (s *Server) FileSystem() leaf.FileSystem { return s.fsys }

// Serve mounts the federation and blocks until the context is cancelled or
// the kernel unmounts the filesystem. Cancellation triggers a lazy unmount
// and waits for the FUSE loop to drain.
func (s *Server) Serve(ctx context.Context) error {
	fuseServer, err := fuseadapter.Mount(fuseadapter.Options{
		Mountpoint: s.cfg.Mount.Mountpoint,
		FileSystem: s.fsys,
		FSName:     s.cfg.Mount.FSName,
		AllowOther: s.cfg.Mount.AllowOther,
		Debug:      s.cfg.Mount.Debug,
	})
	if err != nil {
		return err
	}
	s.fuseServer = fuseServer

	if s.cfg.Metrics.Enabled {
		s.metricsSrv = metrics.Serve(s.cfg.Metrics.Listen)
	}

	done := make(chan struct{})
	go func() {
		fuseServer.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if err := fuseServer.Unmount(); err != nil {
			logger.Warn("unmount failed (still in use?): %v", err)
		}
		<-done
	case <-done:
		// Unmounted externally (fusermount -u or kernel teardown).
	}

	s.shutdownAuxiliary()
	return nil
}

// shutdownAuxiliary stops the metrics listener and closes the call log.
func (s *Server) shutdownAuxiliary() {
	if s.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown: %v", err)
		}
	}
	if s.callLog != nil {
		if err := s.callLog.Close(); err != nil {
			logger.Warn("closing call log: %v", err)
		}
	}
}

// Mountpoint returns the configured mountpoint.
func (s *Server) Mountpoint() string {
	return s.cfg.Mount.Mountpoint
}

// String describes the server for diagnostics.
func (s *Server) String() string {
	return fmt.Sprintf("spanfs: %d leaves at %s", len(s.cfg.Leaves), s.cfg.Mount.Mountpoint)
}
