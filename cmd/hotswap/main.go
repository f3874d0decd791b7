// Package main is the entry point for the hotswap build engine.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/grindlemire/graft"
	"go.trai.ch/hotswap/cmd/hotswap/commands"
	"go.trai.ch/hotswap/internal/app"
	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/recorder"
	_ "go.trai.ch/hotswap/internal/wiring"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 0. Context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// When cargo starts this binary as its compiler wrapper or its
	// linker, record the invocation and get out of the way before any
	// application wiring happens.
	if recorder.Detect(os.Args, os.Getenv) != recorder.RoleNone {
		return recorder.Run(ctx, os.Args, os.Getenv, os.Stdout, os.Stderr)
	}

	// 1. Initialize application components
	components, _, err := graft.ExecuteFor[*app.Components](ctx)
	if err != nil {
		// Logger is not available yet if initialization failed
		// Write directly to stderr
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		return 1
	}

	// 2. Interface - CLI
	cli := commands.New(components.App)

	// 3. Execution
	if err := cli.Execute(ctx); err != nil {
		if errors.Is(err, domain.ErrBuildExecutionFailed) {
			// Already reported through the logger.
			return 1
		}
		components.Logger.Error(err)
		return 1
	}
	return 0
}
