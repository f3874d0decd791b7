// Package shell provides the toolchain executor adapter.
package shell

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/zerr"
)

// Executor implements ports.Executor using os/exec.
//
// Toolchain processes (cargo, rustc, the platform linker, nm) are run to
// completion with their output captured. The caller decides how to surface
// stderr; the executor only attaches the exit code.
type Executor struct {
	logger ports.Logger
}

// NewExecutor creates a new Executor.
func NewExecutor(logger ports.Logger) *Executor {
	return &Executor{
		logger: logger,
	}
}

// Run executes the invocation and waits for it to finish.
//
// The environment is the invocation's Env on top of os.Environ() when
// InheritEnv is set, or Env alone otherwise. A non-zero exit returns the
// captured result alongside an error carrying the exit code, so callers can
// inspect stderr without re-running the command.
func (e *Executor) Run(ctx context.Context, inv domain.Invocation) (*domain.ExecResult, error) {
	if inv.Program == "" {
		return nil, zerr.New("invocation has no program")
	}
	e.logger.Info("exec " + inv.Program)

	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...) //nolint:gosec // toolchain command
	if inv.Dir != "" {
		cmd.Dir = inv.Dir
	}
	cmd.Env = resolveEnvironment(inv)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			// The process never started.
			return nil, zerr.With(zerr.Wrap(err, "command failed to start"), "program", inv.Program)
		}
	}

	result := &domain.ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}

	if err != nil {
		if ctx.Err() != nil {
			return result, zerr.Wrap(ctx.Err(), "command canceled")
		}
		return result, zerr.With(zerr.With(zerr.Wrap(err, "command failed"),
			"program", inv.Program),
			"exit_code", result.ExitCode,
		)
	}

	return result, nil
}

// resolveEnvironment builds the child environment. Invocation entries win
// over inherited ones because exec uses the last occurrence of a key.
func resolveEnvironment(inv domain.Invocation) []string {
	if !inv.InheritEnv {
		return inv.Env
	}
	base := os.Environ()
	env := make([]string, 0, len(base)+len(inv.Env))
	env = append(env, base...)
	env = append(env, inv.Env...)
	return env
}
