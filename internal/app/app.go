// Package app implements the application layer for hotswap.
package app

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"go.trai.ch/hotswap/internal/adapters/config"
	"go.trai.ch/hotswap/internal/adapters/fs"
	"go.trai.ch/hotswap/internal/adapters/transport"
	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/hotswap/internal/engine/orchestrator"
	"go.trai.ch/zerr"
)

// App ties the configuration, the build orchestrator and the hot-reload
// transport together behind the CLI.
type App struct {
	loader    *config.Loader
	orch      *orchestrator.Orchestrator
	transport *transport.Server
	differ    *fs.Differ
	logger    ports.Logger

	// Input carries interactive serve commands; defaults to stdin.
	Input io.Reader
}

// New creates a new App instance.
func New(loader *config.Loader, orch *orchestrator.Orchestrator, server *transport.Server, differ *fs.Differ, logger ports.Logger) *App {
	return &App{
		loader:    loader,
		orch:      orch,
		transport: server,
		differ:    differ,
		logger:    logger,
		Input:     os.Stdin,
	}
}

// Build runs a single full build of every configured role and exits.
func (a *App) Build(ctx context.Context, dir string) error {
	cfg, err := a.loader.Load(dir)
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}
	if err := a.orch.BuildOnce(ctx, cfg, orchestrator.Trigger{Full: true}); err != nil {
		a.logger.Error(err)
		return domain.ErrBuildExecutionFailed
	}
	return nil
}

// Serve runs the development loop: the hot-reload endpoint, the build
// orchestrator, and an interactive command reader. It returns when the
// context is canceled or the operator quits.
func (a *App) Serve(ctx context.Context, dir string) error {
	cfg, err := a.loader.Load(dir)
	if err != nil {
		return zerr.Wrap(err, "failed to load configuration")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := a.orch.Run(ctx, cfg)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.transport.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	group.Go(func() error {
		a.logger.Info("hot-reload endpoint listening on " + cfg.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return zerr.Wrap(err, "hot-reload endpoint failed")
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	// The baseline snapshot the next rebuild command diffs against.
	workspace := cfg.Requests[0].WorkingDir
	snapshot, err := a.differ.Snapshot(workspace, sourceIgnores)
	if err != nil {
		a.logger.Warn("failed to snapshot workspace sources: " + err.Error())
	}

	// Not part of the group: a blocked stdin read must not hold up
	// shutdown.
	go a.commandLoop(ctx, cancel, workspace, snapshot)

	// First cycle builds whatever baseline is missing.
	a.orch.Trigger(orchestrator.Trigger{})

	return group.Wait()
}

// sourceIgnores keeps build output out of source snapshots.
var sourceIgnores = []string{"target"}

// commandLoop reads single-letter operator commands: r rebuilds with the
// changed paths since the last snapshot, R forces a full rebuild, q quits.
func (a *App) commandLoop(ctx context.Context, quit context.CancelFunc, workspace string, snapshot fs.Snapshot) {
	scanner := bufio.NewScanner(a.Input)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "r":
			var changed []string
			changed, snapshot = a.changedSince(workspace, snapshot)
			a.orch.Trigger(orchestrator.Trigger{Changed: changed})
		case "R":
			_, snapshot = a.changedSince(workspace, snapshot)
			a.orch.Trigger(orchestrator.Trigger{Full: true})
		case "q":
			quit()
			return
		case "":
		default:
			a.logger.Info("commands: r rebuild, R full rebuild, q quit")
		}
	}
}

// changedSince diffs the workspace against the previous snapshot. An empty
// change set still triggers a rebuild of the top-level crate; the paths
// only steer the fat-versus-thin decision.
func (a *App) changedSince(workspace string, previous fs.Snapshot) ([]string, fs.Snapshot) {
	current, err := a.differ.Snapshot(workspace, sourceIgnores)
	if err != nil {
		a.logger.Warn("failed to snapshot workspace sources: " + err.Error())
		return nil, previous
	}
	return a.differ.Diff(previous, current), current
}
