// Package thin implements the incremental patch build: recompile only the
// top-level crate, relink it as a small loadable module against the running
// baseline, and report the patch's symbol table.
package thin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/zerr"
)

// Result is a successfully linked patch module.
type Result struct {
	// Path of the patch module on disk.
	Path string
	// Module is what the receiving instance loads: Path for native
	// targets, the published URL-relative location for wasm.
	Module string
	// Symbols is the patch module's defined symbol table.
	Symbols []domain.Symbol
}

// Engine drives thin builds.
type Engine struct {
	executor ports.Executor
	scanner  ports.SymbolScanner
	logger   ports.Logger
	tracer   ports.Tracer
	wrapper  string
}

// NewEngine creates a thin build engine.
func NewEngine(executor ports.Executor, scanner ports.SymbolScanner, logger ports.Logger, tracer ports.Tracer, wrapper string) *Engine {
	return &Engine{
		executor: executor,
		scanner:  scanner,
		logger:   logger,
		tracer:   tracer,
		wrapper:  wrapper,
	}
}

// Build produces a patch module for the session's baseline.
//
// aslrKnown reports whether an instance has completed the base-address
// handshake; wasm targets are exempt because the browser resolves module
// imports at instantiation time. changed lists the paths of this trigger's
// change set; a path outside the top-level crate directory aborts with
// domain.ErrDependencyChanged so the caller can fall back to a fat build.
func (e *Engine) Build(ctx context.Context, req *domain.BuildRequest, session *domain.Session, aslr uint64, aslrKnown bool, changed []string) (*Result, error) {
	_, span := e.tracer.Start(ctx, "build.thin."+string(req.Role))
	defer span.End()

	result, err := e.build(ctx, req, session, aslr, aslrKnown, changed)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

func (e *Engine) build(ctx context.Context, req *domain.BuildRequest, session *domain.Session, aslr uint64, aslrKnown bool, changed []string) (*Result, error) {
	if session == nil || !session.FatBuilt || session.Cache == nil || session.Compile == nil {
		return nil, domain.ErrNoModuleCache
	}
	if !req.Triple.IsWasm() && !aslrKnown {
		return nil, domain.ErrNoAslrReference
	}
	if err := checkScope(req, changed); err != nil {
		return nil, err
	}

	records := req.Records()
	if err := e.replayCompile(ctx, req, session.Compile, records); err != nil {
		return nil, err
	}

	freshArgs, err := domain.LoadLinkArgs(records.LinkArgsFile)
	if err != nil {
		return nil, err
	}

	objects := patchObjects(freshArgs)
	if len(objects) == 0 {
		return nil, zerr.With(zerr.New("replayed compile produced no objects"), "role", string(req.Role))
	}

	argv, err := e.patchLinkArgs(ctx, req, session, freshArgs, objects, aslr)
	if err != nil {
		return nil, err
	}

	patchPath := filepath.Join(req.BundleDir, patchName(req))
	argv = append(argv, outputFlag(req.Triple.Flavor(), patchPath)...)

	if err := e.link(ctx, req, argv); err != nil {
		return nil, err
	}

	// The replayed compile relinked the regular binary target too. Stale
	// copies confuse module loaders that cache by path, so drop it.
	removeStaleBinary(freshArgs)

	module := patchPath
	if req.Triple.IsWasm() {
		module, err = publish(req, patchPath)
		if err != nil {
			return nil, err
		}
	}

	syms, err := e.scanner.Defined(ctx, patchPath)
	if err != nil {
		return nil, err
	}

	e.logger.Info("thin build complete: " + patchPath)
	return &Result{Path: patchPath, Module: module, Symbols: syms}, nil
}

// checkScope rejects change sets a single-crate rebuild cannot isolate.
func checkScope(req *domain.BuildRequest, changed []string) error {
	crate := req.CrateDir + string(filepath.Separator)
	for _, path := range changed {
		if path == req.CrateDir || strings.HasPrefix(path, crate) {
			continue
		}
		return zerr.With(domain.ErrDependencyChanged, "path", path)
	}
	return nil
}

// replayCompile re-runs the recorded compiler invocation with the recorder
// substituted as linker again, so a fresh link argv for just this crate is
// captured while the compile itself goes to the real rustc.
func (e *Engine) replayCompile(ctx context.Context, req *domain.BuildRequest, compile *domain.CompileRecord, records domain.RecordPaths) error {
	args := append([]string{}, compile.Args...)
	if !hasPrefixArg(args, "-Clinker=") {
		args = append(args, "-Clinker="+e.wrapper)
	}
	if req.Triple.IsWasm() && !containsArg(args, "-Crelocation-model=pic") {
		args = append(args, "-Crelocation-model=pic")
	}

	env := overrideEnv(compile.Env, map[string]string{
		domain.EnvCompileFile:  "", // replay must not clobber the compile record
		domain.EnvLinkArgsFile: records.LinkArgsFile,
		domain.EnvLinkErrFile:  records.LinkErrFile,
		domain.EnvLinkTriple:   req.Triple.String(),
	})

	result, err := e.executor.Run(ctx, domain.Invocation{
		Program: compile.Program,
		Args:    args,
		Dir:     compile.Dir,
		Env:     env,
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, "patch compile failed"), "stderr", stderrTail(result))
	}
	return nil
}

// patchObjects extracts this crate's fresh codegen objects from the
// captured link argv, sorted for a deterministic link.
func patchObjects(freshArgs []string) []string {
	var objects []string
	for _, arg := range freshArgs {
		if strings.HasSuffix(arg, ".rcgu.o") || strings.HasSuffix(arg, ".obj") {
			objects = append(objects, arg)
		}
	}
	sort.Strings(objects)
	return objects
}

// patchLinkArgs assembles the patch link argv: the per-flavor subset of the
// captured argv that is still valid for a single-crate module link, the
// fresh objects, and the baseline symbol definitions.
func (e *Engine) patchLinkArgs(ctx context.Context, req *domain.BuildRequest, session *domain.Session, freshArgs, objects []string, aslr uint64) ([]string, error) {
	flavor := req.Triple.Flavor()

	var argv []string
	switch flavor {
	case domain.FlavorGnu:
		argv = append(argv, "-shared", "-nodefaultlibs", "-Wl,-z,notext")
		argv = append(argv, filterGnu(freshArgs)...)
	case domain.FlavorDarwin:
		argv = append(argv, "-dynamiclib", "-nodefaultlibs", "-Wl,-undefined,dynamic_lookup")
		argv = append(argv, filterDarwin(freshArgs)...)
	case domain.FlavorWasmLld:
		argv = append(argv,
			"--pie", "--experimental-pic",
			"--import-memory", "--import-table", "--growable-table",
			"--allow-undefined", "--no-entry",
		)
		argv = append(argv, retainedExports(freshArgs)...)
	case domain.FlavorMsvc:
		argv = append(argv, "/DLL", "/FORCE:UNRESOLVED", "/NOENTRY", "/HIGHENTROPYVA:NO")
	default:
		return nil, zerr.With(domain.ErrUnsupportedLinker, "triple", req.Triple.String())
	}

	argv = append(argv, objects...)

	if flavor == domain.FlavorGnu {
		script, err := e.symbolScript(ctx, req, session, objects, aslr)
		if err != nil {
			return nil, err
		}
		if script != "" {
			argv = append(argv, "-Wl,@"+script)
		}
	}

	return argv, nil
}

// filterGnu keeps the captured flags still valid for a shared-object link:
// search paths, libraries, machine flags and linker selection.
func filterGnu(args []string) []string {
	var out []string
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "-L"),
			strings.HasPrefix(arg, "-l"),
			strings.HasPrefix(arg, "-m"),
			strings.HasPrefix(arg, "-Wl,"),
			strings.HasPrefix(arg, "--target="),
			strings.HasPrefix(arg, "-fuse-ld"),
			strings.HasPrefix(arg, "--ld-path"):
			out = append(out, arg)
		}
	}
	return out
}

// filterDarwin keeps frameworks, search paths, libraries, the SDK root and
// the arch selection.
func filterDarwin(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-framework" || arg == "-arch" || arg == "-isysroot":
			if i+1 < len(args) {
				out = append(out, arg, args[i+1])
				i++
			}
		case strings.HasPrefix(arg, "-L"),
			strings.HasPrefix(arg, "-l"),
			strings.HasPrefix(arg, "-m"),
			strings.HasPrefix(arg, "--target="):
			out = append(out, arg)
		}
	}
	return out
}

// retainedExports keeps the --export pairs of the captured wasm argv so the
// patch module re-exports what the baseline exported.
func retainedExports(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--export=") {
			out = append(out, arg)
			continue
		}
		if arg == "--export" && i+1 < len(args) {
			out = append(out, arg, args[i+1])
			i++
		}
	}
	return out
}

// symbolScript resolves the patch objects' undefined symbols against the
// baseline, shifted by the instance slide, and writes them as a linker
// response file of --defsym definitions. This is how the reported base
// address enters the relink: the emitted absolute addresses are valid in
// that instance's address space, not in a fresh one.
func (e *Engine) symbolScript(ctx context.Context, req *domain.BuildRequest, session *domain.Session, objects []string, aslr uint64) (string, error) {
	cache := session.Cache
	slide := cache.Slide(aslr)

	seen := make(map[string]bool)
	var lines []string
	for _, object := range objects {
		undefined, err := e.scanner.Undefined(ctx, object)
		if err != nil {
			return "", err
		}
		for _, name := range undefined {
			if seen[name] {
				continue
			}
			seen[name] = true
			addr, ok := cache.Lookup(name)
			if !ok {
				// Not a baseline symbol; the system linker resolves it.
				continue
			}
			lines = append(lines, fmt.Sprintf("--defsym=%s=0x%x", name, uint64(int64(addr)+slide)))
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	sort.Strings(lines)

	path := filepath.Join(req.RecordDir(), "baseline-symbols.txt")
	if err := domain.WriteFileAtomic(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (e *Engine) link(ctx context.Context, req *domain.BuildRequest, argv []string) error {
	result, err := e.executor.Run(ctx, domain.Invocation{
		Program:    linkerProgram(req.Triple.Flavor()),
		Args:       argv,
		Dir:        req.WorkingDir,
		InheritEnv: true,
	})
	if err != nil {
		return zerr.With(zerr.Wrap(err, "patch link failed"), "stderr", stderrTail(result))
	}
	return nil
}

func linkerProgram(flavor domain.LinkerFlavor) string {
	switch flavor {
	case domain.FlavorWasmLld:
		return "wasm-ld"
	case domain.FlavorMsvc:
		return "link.exe"
	default:
		return "cc"
	}
}

func outputFlag(flavor domain.LinkerFlavor, path string) []string {
	if flavor == domain.FlavorMsvc {
		return []string{"/OUT:" + path}
	}
	return []string{"-o", path}
}

// patchName gives every patch a fresh identity. Module loaders cache by
// path, so reusing a name would hand a stale mapping to dlopen.
func patchName(req *domain.BuildRequest) string {
	id := uuid.NewString()
	switch {
	case req.Triple.IsWasm():
		return fmt.Sprintf("patch-%s.wasm", id)
	case req.Triple.IsWindows():
		return fmt.Sprintf("patch-%s.dll", id)
	case req.Triple.Flavor() == domain.FlavorDarwin:
		return fmt.Sprintf("patch-%s.dylib", id)
	default:
		return fmt.Sprintf("patch-%s.so", id)
	}
}

// removeStaleBinary drops the replayed compile's regular link target.
func removeStaleBinary(freshArgs []string) {
	for i := 0; i < len(freshArgs); i++ {
		if freshArgs[i] == "-o" && i+1 < len(freshArgs) {
			_ = os.Remove(freshArgs[i+1])
			return
		}
		if strings.HasPrefix(freshArgs[i], "/OUT:") {
			_ = os.Remove(strings.TrimPrefix(freshArgs[i], "/OUT:"))
			return
		}
	}
}

// publish copies a wasm patch into the site package directory and returns
// its URL-relative location for the browser.
func publish(req *domain.BuildRequest, patchPath string) (string, error) {
	data, err := os.ReadFile(patchPath) //nolint:gosec // patch path owned by the build
	if err != nil {
		return "", zerr.Wrap(err, "failed to read patch module")
	}
	name := filepath.Base(patchPath)
	if err := domain.WriteFileAtomic(filepath.Join(req.SitePkgDir, name), data, 0o644); err != nil {
		return "", err
	}
	return "pkg/" + name, nil
}

// overrideEnv replaces (or removes, on empty value) the given keys in an
// environment captured as KEY=VALUE strings.
func overrideEnv(env []string, overrides map[string]string) []string {
	out := make([]string, 0, len(env)+len(overrides))
	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if ok {
			if _, hit := overrides[key]; hit {
				continue
			}
		}
		out = append(out, entry)
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		out = append(out, key+"="+value)
	}
	return out
}

func hasPrefixArg(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
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
