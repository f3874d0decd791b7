// Package recorder implements the toolchain substitute the engine injects
// into cargo builds.
//
// The hotswap binary is passed to cargo twice: as RUSTC_WRAPPER, which makes
// cargo run it in front of every compiler invocation, and as -Clinker, which
// makes rustc run it instead of the platform linker. In the compiler role it
// records the invocation and forwards to the real compiler, preserving the
// exit code. In the linker role it records the argv and exits successfully
// without linking; the engine performs the actual link later with rewritten
// arguments.
package recorder

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.trai.ch/hotswap/internal/core/domain"
)

// Role is what the current process invocation was substituted for.
type Role int

const (
	// RoleNone means the process was started by a user, not by cargo.
	RoleNone Role = iota
	// RoleCompiler means the process fronts a rustc invocation.
	RoleCompiler
	// RoleLinker means the process was invoked as the linker.
	RoleLinker
)

// Detect decides the role of the current invocation from its argv and
// environment. Cargo invokes the wrapper as "<self> <rustc> <args...>", so a
// second argument naming a compiler marks the compiler role. Everything else
// with the record destinations in the environment is a link invocation.
func Detect(argv []string, getenv func(string) string) Role {
	if getenv(domain.EnvCompileFile) == "" && getenv(domain.EnvLinkArgsFile) == "" {
		return RoleNone
	}
	if len(argv) >= 2 {
		base := filepath.Base(argv[1])
		base = strings.TrimSuffix(base, ".exe")
		if base == "rustc" || strings.HasPrefix(base, "rustc-") {
			return RoleCompiler
		}
	}
	if getenv(domain.EnvLinkArgsFile) != "" {
		return RoleLinker
	}
	return RoleNone
}

// Run performs the detected role and returns the process exit code.
func Run(ctx context.Context, argv []string, getenv func(string) string, stdout, stderr io.Writer) int {
	switch Detect(argv, getenv) {
	case RoleCompiler:
		return runCompiler(ctx, argv, getenv, stdout, stderr)
	case RoleLinker:
		return runLinker(argv, getenv, stderr)
	default:
		return 0
	}
}

// runCompiler records the invocation and forwards it to the real compiler.
// Recording happens before forwarding: a crashed compile still leaves a
// usable record, and cargo compiles the workspace's own crates last, so the
// record converges on the top-level crate.
func runCompiler(ctx context.Context, argv []string, getenv func(string) string, stdout, stderr io.Writer) int {
	program := argv[1]
	args := filterSelf(argv[2:], argv[0])

	dir, err := os.Getwd()
	if err != nil {
		io.WriteString(stderr, "hotswap: "+err.Error()+"\n")
		return 1
	}

	record := &domain.CompileRecord{
		Program: program,
		Args:    args,
		Env:     os.Environ(),
		Dir:     dir,
	}
	if path := getenv(domain.EnvCompileFile); path != "" {
		if err := record.Save(path); err != nil {
			io.WriteString(stderr, "hotswap: "+err.Error()+"\n")
			return 1
		}
	}

	cmd := exec.CommandContext(ctx, program, argv[2:]...) //nolint:gosec // forwarding cargo's own invocation
	cmd.Stdin = os.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		io.WriteString(stderr, "hotswap: "+err.Error()+"\n")
		return 1
	}
	return 0
}

// runLinker records the link argv and reports success without linking.
func runLinker(argv []string, getenv func(string) string, stderr io.Writer) int {
	path := getenv(domain.EnvLinkArgsFile)
	args := expandResponseFiles(argv[1:])
	if err := domain.SaveLinkArgs(path, args); err != nil {
		if errPath := getenv(domain.EnvLinkErrFile); errPath != "" {
			_ = domain.WriteFileAtomic(errPath, []byte(err.Error()), 0o644)
		}
		io.WriteString(stderr, "hotswap: "+err.Error()+"\n")
		return 1
	}
	return 0
}

// filterSelf drops bare references to the wrapper binary from the recorded
// arguments. Nested wrapper setups repeat the wrapper path in front of the
// real arguments; -Clinker=<self> is kept because replays depend on it.
func filterSelf(args []string, self string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == self {
			continue
		}
		out = append(out, a)
	}
	return out
}

// expandResponseFiles inlines @file arguments. Linkers on Windows and long
// link lines elsewhere pass the real argv through a response file, which
// would otherwise dangle once the temporary file is cleaned up.
func expandResponseFiles(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if !strings.HasPrefix(a, "@") {
			out = append(out, a)
			continue
		}
		data, err := os.ReadFile(strings.TrimPrefix(a, "@")) //nolint:gosec // response file named by the toolchain
		if err != nil {
			out = append(out, a)
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			line = strings.Trim(line, "\"")
			if line != "" {
				out = append(out, line)
			}
		}
	}
	return out
}
