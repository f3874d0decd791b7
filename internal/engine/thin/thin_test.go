package thin_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.trai.ch/hotswap/internal/adapters/telemetry"
	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports/mocks"
	"go.trai.ch/hotswap/internal/engine/thin"
	"go.uber.org/mock/gomock"
)

type fixture struct {
	req       *domain.BuildRequest
	session   *domain.Session
	freshArgs []string
	staleBin  string
	objA      string
	objB      string
	invs      []domain.Invocation
	engine    *thin.Engine
}

// newFixture sets up the post-fat-build state a thin build starts from: a
// populated session and an executor that plays the recorder's part by
// writing a fresh link argv when the replayed compile runs.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()

	req := &domain.BuildRequest{
		Package:    "app",
		Bin:        "app",
		Role:       domain.RoleServer,
		Triple:     "x86_64-unknown-linux-gnu",
		Profile:    "dev",
		ProfileDir: "debug",
		WorkingDir: tmp,
		CrateDir:   filepath.Join(tmp, "app"),
		TargetDir:  filepath.Join(tmp, "target"),
		BundleDir:  filepath.Join(tmp, "bundle"),
	}

	deps := filepath.Join(req.TripleProfileDir(), "deps")
	require.NoError(t, os.MkdirAll(deps, 0o755))
	require.NoError(t, os.MkdirAll(req.BundleDir, 0o755))

	f := &fixture{
		req:      req,
		objA:     filepath.Join(deps, "app.fresh-cgu.0.rcgu.o"),
		objB:     filepath.Join(deps, "app.fresh-cgu.1.rcgu.o"),
		staleBin: filepath.Join(deps, "app-fresh"),
	}
	require.NoError(t, os.WriteFile(f.staleBin, []byte("stale"), 0o755))

	f.freshArgs = []string{
		"-m64", f.objB, f.objA,
		"-L" + deps, "-lgcc_s", "-Wl,-Bdynamic", "--weird-flag",
		"-o", f.staleBin,
	}

	f.session = &domain.Session{
		FatBuilt: true,
		Cache: &domain.ModuleCache{
			Binary: "app",
			Symbols: map[string]uint64{
				"main":         0x1000,
				"app::render":  0x2000,
				"serde::parse": 0x5000,
			},
			Reference: 0x1000,
			Trap:      0xf000,
		},
		Compile: &domain.CompileRecord{
			Program: "/usr/bin/rustc",
			Args:    []string{"--crate-name", "app", "-Clinker=/usr/local/bin/hotswap"},
			Env:     []string{"CARGO=cargo", domain.EnvCompileFile + "=" + filepath.Join(tmp, "old.json")},
			Dir:     tmp,
		},
	}

	ctrl := gomock.NewController(t)
	executor := mocks.NewMockExecutor(ctrl)
	executor.EXPECT().
		Run(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, inv domain.Invocation) (*domain.ExecResult, error) {
			f.invs = append(f.invs, inv)
			switch filepath.Base(inv.Program) {
			case "rustc":
				// The recorder substituted as linker leaves a fresh argv.
				require.NoError(t, domain.SaveLinkArgs(req.Records().LinkArgsFile, f.freshArgs))
			case "cc", "wasm-ld":
				for i, a := range inv.Args {
					if a == "-o" && i+1 < len(inv.Args) {
						require.NoError(t, os.WriteFile(inv.Args[i+1], []byte("patch module"), 0o755))
					}
				}
			}
			return &domain.ExecResult{}, nil
		}).
		AnyTimes()

	scanner := mocks.NewMockSymbolScanner(ctrl)
	scanner.EXPECT().
		Undefined(gomock.Any(), f.objA).
		Return([]string{"app::render", "memcpy"}, nil).
		AnyTimes()
	scanner.EXPECT().
		Undefined(gomock.Any(), f.objB).
		Return([]string{"app::render"}, nil).
		AnyTimes()
	scanner.EXPECT().
		Defined(gomock.Any(), gomock.Any()).
		Return([]domain.Symbol{{Name: "app::render", Address: 0x20, Kind: "T"}}, nil).
		AnyTimes()

	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Info(gomock.Any()).AnyTimes()

	f.engine = thin.NewEngine(executor, scanner, mockLogger, telemetry.NewNoOpTracer(), "/usr/local/bin/hotswap")
	return f
}

func (f *fixture) build(t *testing.T) *thin.Result {
	t.Helper()
	result, err := f.engine.Build(context.Background(), f.req, f.session, 0x5000, true, nil)
	require.NoError(t, err)
	return result
}

func (f *fixture) invocation(program string) *domain.Invocation {
	for i := range f.invs {
		if filepath.Base(f.invs[i].Program) == program {
			return &f.invs[i]
		}
	}
	return nil
}

func TestBuild_ProducesPatch(t *testing.T) {
	f := newFixture(t)

	result := f.build(t)
	require.Equal(t, f.req.BundleDir, filepath.Dir(result.Path))
	base := filepath.Base(result.Path)
	require.True(t, strings.HasPrefix(base, "patch-"), base)
	require.True(t, strings.HasSuffix(base, ".so"), base)
	require.Equal(t, result.Path, result.Module)
	require.Equal(t, []domain.Symbol{{Name: "app::render", Address: 0x20, Kind: "T"}}, result.Symbols)

	second := f.build(t)
	require.NotEqual(t, result.Path, second.Path, "every patch gets a fresh name")
}

func TestBuild_ReplaysRecordedCompile(t *testing.T) {
	f := newFixture(t)
	f.build(t)

	rustc := f.invocation("rustc")
	require.NotNil(t, rustc)
	require.Equal(t, f.session.Compile.Dir, rustc.Dir)
	require.Contains(t, rustc.Args, "--crate-name")
	require.Contains(t, rustc.Args, "-Clinker=/usr/local/bin/hotswap")

	env := strings.Join(rustc.Env, "\n")
	require.Contains(t, env, "CARGO=cargo")
	require.Contains(t, env, domain.EnvLinkArgsFile+"="+f.req.Records().LinkArgsFile)
	require.NotContains(t, env, domain.EnvCompileFile+"=", "replay must not clobber the compile record")
}

func TestBuild_FiltersCapturedLinkArgs(t *testing.T) {
	f := newFixture(t)
	f.build(t)

	link := f.invocation("cc")
	require.NotNil(t, link)
	require.Contains(t, link.Args, "-shared")
	require.Contains(t, link.Args, "-lgcc_s")
	require.Contains(t, link.Args, "-Wl,-Bdynamic")
	require.Contains(t, link.Args, "-m64")
	require.NotContains(t, link.Args, "--weird-flag")
	require.NotContains(t, link.Args, f.staleBin)

	// Fresh objects in deterministic order.
	idxA, idxB := -1, -1
	for i, a := range link.Args {
		switch a {
		case f.objA:
			idxA = i
		case f.objB:
			idxB = i
		}
	}
	require.GreaterOrEqual(t, idxA, 0)
	require.Less(t, idxA, idxB)
}

func TestBuild_ResolvesBaselineSymbols(t *testing.T) {
	f := newFixture(t)
	f.build(t)

	link := f.invocation("cc")
	require.NotNil(t, link)

	var script string
	for _, a := range link.Args {
		if strings.HasPrefix(a, "-Wl,@") {
			script = strings.TrimPrefix(a, "-Wl,@")
		}
	}
	require.NotEmpty(t, script, "baseline symbols must reach the linker")

	data, err := os.ReadFile(script)
	require.NoError(t, err)
	// Reported base 0x5000 against link-time main at 0x1000: slide 0x4000.
	require.Contains(t, string(data), "--defsym=app::render=0x6000")
	require.NotContains(t, string(data), "memcpy", "system symbols resolve normally")
}

func TestBuild_RemovesStaleBinary(t *testing.T) {
	f := newFixture(t)
	f.build(t)

	_, err := os.Stat(f.staleBin)
	require.True(t, os.IsNotExist(err), "replayed link target must be dropped")
}

func TestBuild_RequiresBaseline(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Build(context.Background(), f.req, domain.NewSession(), 0x5000, true, nil)
	require.ErrorIs(t, err, domain.ErrNoModuleCache)

	_, err = f.engine.Build(context.Background(), f.req, nil, 0x5000, true, nil)
	require.ErrorIs(t, err, domain.ErrNoModuleCache)
}

func TestBuild_RequiresReference(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Build(context.Background(), f.req, f.session, 0, false, nil)
	require.ErrorIs(t, err, domain.ErrNoAslrReference)
}

func TestBuild_RejectsOutOfScopeChanges(t *testing.T) {
	f := newFixture(t)

	inside := filepath.Join(f.req.CrateDir, "src", "main.rs")
	outside := filepath.Join(f.req.WorkingDir, "shared", "src", "lib.rs")

	_, err := f.engine.Build(context.Background(), f.req, f.session, 0x5000, true, []string{inside, outside})
	require.ErrorIs(t, err, domain.ErrDependencyChanged)

	_, err = f.engine.Build(context.Background(), f.req, f.session, 0x5000, true, []string{inside})
	require.NoError(t, err)
}

func TestBuild_WasmPublishes(t *testing.T) {
	f := newFixture(t)
	f.req.Role = domain.RoleLib
	f.req.Bin = ""
	f.req.Lib = true
	f.req.Triple = "wasm32-unknown-unknown"
	f.req.SitePkgDir = filepath.Join(f.req.WorkingDir, "site", "pkg")
	f.freshArgs = []string{f.objB, f.objA, "--export=wasm_main", "--stack-first", "-o", f.staleBin}

	// No instance handshake needed for wasm.
	result, err := f.engine.Build(context.Background(), f.req, f.session, 0, false, nil)
	require.NoError(t, err)

	rustc := f.invocation("rustc")
	require.NotNil(t, rustc)
	require.Contains(t, rustc.Args, "-Crelocation-model=pic")

	link := f.invocation("wasm-ld")
	require.NotNil(t, link)
	require.Contains(t, link.Args, "--import-memory")
	require.Contains(t, link.Args, "--export=wasm_main")
	require.NotContains(t, link.Args, "--stack-first")

	require.Equal(t, "pkg/"+filepath.Base(result.Path), result.Module)
	published, err := os.ReadFile(filepath.Join(f.req.SitePkgDir, filepath.Base(result.Path)))
	require.NoError(t, err)
	require.Equal(t, "patch module", string(published))
}

func TestBuild_WasmPatchName(t *testing.T) {
	f := newFixture(t)
	f.req.Role = domain.RoleLib
	f.req.Bin = ""
	f.req.Lib = true
	f.req.Triple = "wasm32-unknown-unknown"
	f.req.SitePkgDir = filepath.Join(f.req.WorkingDir, "site", "pkg")
	f.freshArgs = []string{f.objA, "-o", f.staleBin}

	result, err := f.engine.Build(context.Background(), f.req, f.session, 0, false, nil)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(result.Path, ".wasm"), result.Path)
}
