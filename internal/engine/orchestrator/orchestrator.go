// Package orchestrator owns the build loop: it serializes triggers,
// picks the fat or thin strategy per role, and pushes finished jump
// tables out over the transport.
package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/hotswap/internal/engine/jumptable"
	"go.trai.ch/hotswap/internal/engine/thin"
	"go.trai.ch/zerr"
)

// FatBuilder produces a fresh baseline session.
type FatBuilder interface {
	Build(ctx context.Context, req *domain.BuildRequest) (*domain.Session, error)
}

// ThinBuilder produces a patch module against an existing session.
type ThinBuilder interface {
	Build(ctx context.Context, req *domain.BuildRequest, session *domain.Session, aslr uint64, aslrKnown bool, changed []string) (*thin.Result, error)
}

// Trigger is one request to rebuild.
type Trigger struct {
	// Full forces a fat rebuild even when a baseline exists.
	Full bool
	// Changed are the paths whose modification caused the trigger; empty
	// means rebuild the top-level crate unconditionally.
	Changed []string
}

// Orchestrator runs builds one at a time. Triggers arriving while a build
// is in flight coalesce into at most one pending trigger: a full request
// wins over thin, and change sets merge.
type Orchestrator struct {
	fat       FatBuilder
	thin      ThinBuilder
	store     ports.CacheStore
	transport ports.Transport
	logger    ports.Logger

	mu       sync.Mutex
	pending  *Trigger
	wake     chan struct{}
	sessions map[domain.Role]*domain.Session
}

// New creates an orchestrator. The project configuration is passed to
// Run so a single wired instance can serve whatever manifest the command
// line resolved.
func New(fat FatBuilder, thin ThinBuilder, store ports.CacheStore, transport ports.Transport, logger ports.Logger) *Orchestrator {
	return &Orchestrator{
		fat:       fat,
		thin:      thin,
		store:     store,
		transport: transport,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		sessions:  make(map[domain.Role]*domain.Session),
	}
}

// Trigger queues a rebuild. Safe to call from any goroutine.
func (o *Orchestrator) Trigger(t Trigger) {
	o.mu.Lock()
	if o.pending == nil {
		o.pending = &Trigger{Full: t.Full, Changed: append([]string{}, t.Changed...)}
	} else {
		o.pending.Full = o.pending.Full || t.Full
		o.pending.Changed = append(o.pending.Changed, t.Changed...)
	}
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Session returns the current session of a role.
func (o *Orchestrator) Session(role domain.Role) *domain.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[role]
}

// Run processes triggers until the context ends. Build failures are
// reported through the logger; only cancellation stops the loop.
func (o *Orchestrator) Run(ctx context.Context, cfg *domain.Config) error {
	for _, req := range cfg.Requests {
		o.restore(req)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.wake:
		}

		t := o.take()
		if t == nil {
			continue
		}
		o.cycle(ctx, cfg, *t)
	}
}

// BuildOnce runs a single trigger synchronously, used for one-shot builds
// outside the serve loop.
func (o *Orchestrator) BuildOnce(ctx context.Context, cfg *domain.Config, t Trigger) error {
	var errs error
	for _, req := range cfg.Requests {
		if err := o.buildRole(ctx, req, t); err != nil {
			errs = errors.Join(errs, zerr.With(err, "role", string(req.Role)))
		}
	}
	return errs
}

func (o *Orchestrator) take() *Trigger {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.pending
	o.pending = nil
	if t != nil {
		t.Changed = dedupe(t.Changed)
	}
	return t
}

func (o *Orchestrator) cycle(ctx context.Context, cfg *domain.Config, t Trigger) {
	for _, req := range cfg.Requests {
		err := o.buildRole(ctx, req, t)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrNoAslrReference):
			// Only the serve loop may defer: a later handshake brings a
			// fresh trigger, so nothing is lost.
			o.logger.Warn("no instance connected yet, patch deferred until one reports its base address")
		default:
			o.logger.Error(zerr.With(err, "role", string(req.Role)))
		}
	}
}

func (o *Orchestrator) buildRole(ctx context.Context, req *domain.BuildRequest, t Trigger) error {
	session := o.Session(req.Role)
	if t.Full || session == nil || !session.FatBuilt {
		return o.fullBuild(ctx, req)
	}

	err := o.patchBuild(ctx, req, session, t.Changed)
	switch {
	case errors.Is(err, domain.ErrDependencyChanged):
		// A strategy decision, not a failure.
		o.logger.Info("change set reaches beyond " + req.Package + ", rebuilding the baseline")
		return o.fullBuild(ctx, req)
	case errors.Is(err, domain.ErrNoModuleCache):
		return o.fullBuild(ctx, req)
	}
	return err
}

// fullBuild replaces the role's baseline wholesale. Accumulated patch
// state and the persisted cache describe a binary that is about to stop
// existing, so both are dropped before the build starts.
func (o *Orchestrator) fullBuild(ctx context.Context, req *domain.BuildRequest) error {
	o.transport.Reset()
	if err := o.store.Delete(req.BinaryName()); err != nil {
		o.logger.Warn("failed to clear cache store: " + err.Error())
	}

	session, err := o.fat.Build(ctx, req)
	if err != nil {
		return zerr.With(err, "stage", "fat")
	}

	if err := o.store.Put(session.Cache); err != nil {
		o.logger.Warn("failed to persist module cache: " + err.Error())
	}
	o.setSession(req.Role, session)
	return nil
}

func (o *Orchestrator) patchBuild(ctx context.Context, req *domain.BuildRequest, session *domain.Session, changed []string) error {
	aslr, known := o.transport.Reference()

	result, err := o.thin.Build(ctx, req, session, aslr, known, changed)
	if err != nil {
		return zerr.With(err, "stage", "thin")
	}

	table, err := jumptable.Create(session.Cache, result.Symbols, jumptable.Options{
		Module: result.Module,
		Crate:  crateName(req.Package),
	})
	if err != nil {
		return zerr.With(err, "stage", "jumptable")
	}

	if err := o.transport.Broadcast(ctx, table); err != nil {
		return zerr.With(err, "stage", "broadcast")
	}
	return nil
}

// restore warms a role's session from the persisted cache and the on-disk
// invocation records, so a restarted engine can thin-build immediately as
// long as the bundled baseline still exists.
func (o *Orchestrator) restore(req *domain.BuildRequest) {
	cache, err := o.store.Get(req.BinaryName())
	if err != nil || cache == nil {
		return
	}
	records := req.Records()
	compile, err := domain.LoadCompileRecord(records.CompileFile)
	if err != nil {
		return
	}
	linkArgs, err := domain.LoadLinkArgs(records.LinkArgsFile)
	if err != nil {
		return
	}
	binary := filepath.Join(req.BundleDir, req.BinaryName())
	if _, err := os.Stat(binary); err != nil {
		return
	}

	o.setSession(req.Role, &domain.Session{
		FatBuilt: true,
		Cache:    cache,
		Compile:  compile,
		LinkArgs: linkArgs,
		Binary:   binary,
	})
	o.logger.Info("restored baseline for " + req.BinaryName())
}

func (o *Orchestrator) setSession(role domain.Role, session *domain.Session) {
	o.mu.Lock()
	o.sessions[role] = session
	o.mu.Unlock()
}

// crateName maps a cargo package name onto the crate name rustc mangles
// symbols with.
func crateName(pkg string) string {
	return strings.ReplaceAll(pkg, "-", "_")
}

func dedupe(paths []string) []string {
	if len(paths) < 2 {
		return paths
	}
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
