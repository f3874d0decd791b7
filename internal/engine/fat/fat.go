// Package fat implements the full baseline build: a complete link that
// deliberately retains dead code, so every function that might later be
// hot-patched stays resolvable as a discrete unit.
package fat

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/hotswap/internal/adapters/archive"
	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/zerr"
)

// Engine drives fat builds.
type Engine struct {
	executor ports.Executor
	scanner  ports.SymbolScanner
	logger   ports.Logger
	tracer   ports.Tracer
	// wrapper is the hotswap binary substituted as RUSTC_WRAPPER and
	// -Clinker into the cargo build.
	wrapper string
}

// NewEngine creates a fat build engine.
func NewEngine(executor ports.Executor, scanner ports.SymbolScanner, logger ports.Logger, tracer ports.Tracer, wrapper string) *Engine {
	return &Engine{
		executor: executor,
		scanner:  scanner,
		logger:   logger,
		tracer:   tracer,
		wrapper:  wrapper,
	}
}

// Build runs the full fat pipeline and returns the fresh session state.
// Nothing of the previous session is reused; the caller replaces its session
// wholesale on success.
func (e *Engine) Build(ctx context.Context, req *domain.BuildRequest) (*domain.Session, error) {
	_, span := e.tracer.Start(ctx, "build.fat."+string(req.Role))
	defer span.End()

	session, err := e.build(ctx, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return session, nil
}

func (e *Engine) build(ctx context.Context, req *domain.BuildRequest) (*domain.Session, error) {
	if req.Triple.Flavor() == domain.FlavorUnsupported {
		return nil, zerr.With(domain.ErrUnsupportedLinker, "triple", req.Triple.String())
	}

	// Cached objects would not reflect the injected flags.
	if err := e.cleanFingerprints(req); err != nil {
		return nil, err
	}

	if err := e.runCargo(ctx, req); err != nil {
		return nil, err
	}

	records := req.Records()
	compile, err := domain.LoadCompileRecord(records.CompileFile)
	if err != nil {
		return nil, err
	}
	linkArgs, err := domain.LoadLinkArgs(records.LinkArgsFile)
	if err != nil {
		return nil, err
	}

	fatArchive, replaced, err := e.mergeRlibs(req, linkArgs)
	if err != nil {
		return nil, err
	}

	argv, output, err := rewriteLinkArgs(req, linkArgs, fatArchive, replaced)
	if err != nil {
		return nil, err
	}

	if err := checkRecordedInputs(argv, replaced); err != nil {
		return nil, err
	}

	if err := e.link(ctx, req, argv); err != nil {
		return nil, err
	}

	syms, err := e.scanner.Defined(ctx, output)
	if err != nil {
		return nil, err
	}
	cache := domain.NewModuleCache(req.BinaryName(), syms)
	if cache.Reference == 0 && !req.Triple.IsWasm() {
		return nil, zerr.With(zerr.New("baseline has no main symbol to anchor relocation"), "binary", output)
	}

	bundled, err := bundle(req, output)
	if err != nil {
		return nil, err
	}

	e.logger.Info("fat build complete: " + bundled)
	return &domain.Session{
		FatBuilt: true,
		Cache:    cache,
		Compile:  compile,
		LinkArgs: linkArgs,
		Binary:   bundled,
	}, nil
}

// cleanFingerprints removes cargo's cached fingerprints for the top-level
// package so the next build recompiles and relinks it.
func (e *Engine) cleanFingerprints(req *domain.BuildRequest) error {
	dir := req.FingerprintDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return zerr.Wrap(err, "failed to read fingerprint directory")
	}

	prefix := strings.ReplaceAll(req.Package, "-", "_") + "-"
	for _, entry := range entries {
		name := strings.ReplaceAll(entry.Name(), "-", "_")
		if !strings.HasPrefix(name, prefix) && entry.Name() != req.Package {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return zerr.Wrap(err, "failed to invalidate fingerprint")
		}
	}
	return nil
}

// runCargo performs the compile with the recorder substituted for both the
// compiler wrapper and the linker.
func (e *Engine) runCargo(ctx context.Context, req *domain.BuildRequest) error {
	records := req.Records()

	args := []string{"build", "--package", req.Package, "--profile", req.Profile, "--target", req.Triple.String()}
	if req.Lib {
		args = append(args, "--lib")
	} else if req.Bin != "" {
		args = append(args, "--bin", req.Bin)
	}
	if req.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	if len(req.Features) > 0 {
		args = append(args, "--features", strings.Join(req.Features, ","))
	}

	flags := append([]string{}, req.RustFlags...)
	flags = append(flags, "-Clink-dead-code", "-Csave-temps", "-Clinker="+e.wrapper)
	if req.Triple.IsWasm() {
		flags = append(flags,
			"-Crelocation-model=pic",
			"-Clink-arg=--no-gc-sections",
			"-Clink-arg=--emit-relocs",
			"-Clink-arg=--export-table",
		)
	}

	result, err := e.executor.Run(ctx, domain.Invocation{
		Program: "cargo",
		Args:    args,
		Dir:     req.WorkingDir,
		Env: []string{
			"RUSTC_WRAPPER=" + e.wrapper,
			"RUSTFLAGS=" + strings.Join(flags, " "),
			domain.EnvCompileFile + "=" + records.CompileFile,
			domain.EnvLinkArgsFile + "=" + records.LinkArgsFile,
			domain.EnvLinkErrFile + "=" + records.LinkErrFile,
			domain.EnvLinkTriple + "=" + req.Triple.String(),
		},
		InheritEnv: true,
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, "cargo build failed"), "stderr", stderrTail(result))
	}
	return nil
}

// mergeRlibs unpacks every workspace rlib named by the recorded link argv
// and merges their codegen objects into one archive, so the final link sees
// every object as a discrete unit. The merged archive is cached under a
// fingerprint of the rlib set. Rlibs that carry no codegen objects stay on
// the link line verbatim, as do compiler-provided rlibs outside the target
// directory.
func (e *Engine) mergeRlibs(req *domain.BuildRequest, linkArgs []string) (string, map[string]bool, error) {
	replaced := make(map[string]bool)

	var rlibs []string
	for _, arg := range linkArgs {
		if strings.HasSuffix(arg, ".rlib") && strings.HasPrefix(arg, req.TargetDir) {
			rlibs = append(rlibs, arg)
		}
	}
	if len(rlibs) == 0 {
		return "", replaced, nil
	}

	fatPath := filepath.Join(req.TargetDir, "hotswap", fmt.Sprintf("fat-%s.a", fingerprint(rlibs)))
	if _, err := os.Stat(fatPath); err == nil {
		// Same rlib set as a previous build: every rlib with codegen
		// objects is already merged.
		for _, rlib := range rlibs {
			hasObjects, err := rlibHasObjects(rlib)
			if err != nil {
				return "", nil, err
			}
			if hasObjects {
				replaced[rlib] = true
			}
		}
		e.logger.Info("reusing merged archive " + fatPath)
		return fatPath, replaced, nil
	}

	var merged []archive.Member
	for _, rlib := range rlibs {
		members, err := archive.Read(rlib)
		if err != nil {
			return "", nil, zerr.With(domain.ErrRecordDiverged, "rlib", rlib)
		}
		count := 0
		for _, m := range members {
			if !isCodegenObject(m) {
				continue
			}
			merged = append(merged, m)
			count++
		}
		if count > 0 {
			replaced[rlib] = true
		}
	}

	if err := archive.Write(fatPath, merged); err != nil {
		return "", nil, err
	}
	return fatPath, replaced, nil
}

// isCodegenObject reports whether an archive member is a relocatable
// codegen unit. Metadata members and empty placeholders are dropped.
func isCodegenObject(m archive.Member) bool {
	if len(m.Data) == 0 || strings.HasSuffix(m.Name, ".rmeta") {
		return false
	}
	return strings.HasSuffix(m.Name, ".rcgu.o") ||
		strings.HasSuffix(m.Name, ".o") ||
		strings.HasSuffix(m.Name, ".obj")
}

func rlibHasObjects(path string) (bool, error) {
	members, err := archive.Read(path)
	if err != nil {
		return false, zerr.With(domain.ErrRecordDiverged, "rlib", path)
	}
	for _, m := range members {
		if isCodegenObject(m) {
			return true, nil
		}
	}
	return false, nil
}

// fingerprint hashes the identity of the rlib set: path, size and mtime of
// every member, order-sensitive because the recorded argv is ordered.
func fingerprint(rlibs []string) string {
	h := xxhash.New()
	for _, rlib := range rlibs {
		_, _ = h.WriteString(rlib)
		if info, err := os.Stat(rlib); err == nil {
			fmt.Fprintf(h, "|%d|%d", info.Size(), info.ModTime().UnixNano())
		}
		_, _ = h.WriteString("\n")
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}

// rewriteLinkArgs turns the recorded argv into the fat link argv: replaced
// rlibs are dropped, the merged archive is included whole, and dead code is
// kept. Returns the rewritten argv and the output path.
func rewriteLinkArgs(req *domain.BuildRequest, recorded []string, fatArchive string, replaced map[string]bool) ([]string, string, error) {
	var argv []string
	var output string

	for i := 0; i < len(recorded); i++ {
		arg := recorded[i]
		if replaced[arg] {
			continue
		}
		if arg == "-o" && i+1 < len(recorded) {
			output = recorded[i+1]
		}
		if strings.HasPrefix(arg, "/OUT:") {
			output = strings.TrimPrefix(arg, "/OUT:")
		}
		argv = append(argv, arg)
	}
	if output == "" {
		return nil, "", zerr.With(zerr.New("recorded link args name no output"), "role", string(req.Role))
	}

	if fatArchive != "" {
		switch req.Triple.Flavor() {
		case domain.FlavorGnu:
			argv = append(argv, "-Wl,--whole-archive", fatArchive, "-Wl,--no-whole-archive", "-Wl,--export-dynamic")
		case domain.FlavorDarwin:
			argv = append(argv, "-Wl,-force_load,"+fatArchive)
		case domain.FlavorWasmLld:
			argv = append(argv, "--whole-archive", fatArchive, "--no-whole-archive")
		case domain.FlavorMsvc:
			argv = append(argv, "/WHOLEARCHIVE:"+fatArchive, "/HIGHENTROPYVA:NO")
		default:
			return nil, "", zerr.With(domain.ErrUnsupportedLinker, "triple", req.Triple.String())
		}
	}

	return argv, output, nil
}

// checkRecordedInputs verifies that every object or archive the recorded
// argv references still exists. A missing input means the capture and the
// build state have diverged, which no amount of linking can repair.
func checkRecordedInputs(argv []string, replaced map[string]bool) error {
	for _, arg := range argv {
		if !strings.HasSuffix(arg, ".o") && !strings.HasSuffix(arg, ".rlib") && !strings.HasSuffix(arg, ".a") {
			continue
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if replaced[arg] {
			continue
		}
		if _, err := os.Stat(arg); err != nil {
			return zerr.With(domain.ErrRecordDiverged, "object", arg)
		}
	}
	return nil
}

// link runs the platform linker with the rewritten argv.
func (e *Engine) link(ctx context.Context, req *domain.BuildRequest, argv []string) error {
	result, err := e.executor.Run(ctx, domain.Invocation{
		Program:    LinkerProgram(req.Triple.Flavor()),
		Args:       argv,
		Dir:        req.WorkingDir,
		InheritEnv: true,
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, "fat link failed"), "stderr", stderrTail(result))
	}
	return nil
}

// LinkerProgram is the driver binary for a linker flavor.
func LinkerProgram(flavor domain.LinkerFlavor) string {
	switch flavor {
	case domain.FlavorWasmLld:
		return "wasm-ld"
	case domain.FlavorMsvc:
		return "link.exe"
	default:
		return "cc"
	}
}

// bundle copies the freshly linked baseline into the bundle directory,
// which outlives cargo's target layout for the rest of the session.
func bundle(req *domain.BuildRequest, output string) (string, error) {
	data, err := os.ReadFile(output) //nolint:gosec // linker output owned by the build
	if err != nil {
		return "", zerr.Wrap(err, "failed to read linked baseline")
	}
	dest := filepath.Join(req.BundleDir, req.BinaryName())
	if err := domain.WriteFileAtomic(dest, data, 0o755); err != nil {
		return "", err
	}
	return dest, nil
}

func stderrTail(result *domain.ExecResult) string {
	if result == nil {
		return ""
	}
	const limit = 4096
	s := string(result.Stderr)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}
