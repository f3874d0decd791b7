// Package domain contains the core types of the hotswap build engine.
package domain

import (
	"path/filepath"
	"strings"
)

// Role identifies which half of the program a build request targets.
// A project may hot-patch a native server binary, a browser-side wasm
// library, or both.
type Role string

const (
	// RoleServer builds the native binary for the host (or given) triple.
	RoleServer Role = "server"
	// RoleLib builds the wasm library loaded by the browser.
	RoleLib Role = "lib"
)

// Triple is a target triple such as "x86_64-unknown-linux-gnu".
type Triple string

// String returns the triple as passed to the toolchain.
func (t Triple) String() string { return string(t) }

// IsWasm reports whether the triple targets wasm32/wasm64 or WASI.
func (t Triple) IsWasm() bool {
	return strings.HasPrefix(string(t), "wasm32-") ||
		strings.HasPrefix(string(t), "wasm64-") ||
		strings.Contains(string(t), "-wasi")
}

// IsWindows reports whether the triple targets Windows.
func (t Triple) IsWindows() bool {
	return strings.Contains(string(t), "-windows-")
}

// LinkerFlavor selects the argument dialect of the final link.
type LinkerFlavor int

const (
	// FlavorUnsupported is the catch-all for linkers we cannot drive.
	FlavorUnsupported LinkerFlavor = iota
	// FlavorGnu covers linux/android style cc+ld linking.
	FlavorGnu
	// FlavorDarwin covers macOS/iOS ld64 via cc.
	FlavorDarwin
	// FlavorWasmLld is wasm-ld driven directly.
	FlavorWasmLld
	// FlavorMsvc is link.exe.
	FlavorMsvc
)

// Flavor derives the linker flavor from the triple.
func (t Triple) Flavor() LinkerFlavor {
	switch {
	case t.IsWasm():
		return FlavorWasmLld
	case strings.Contains(string(t), "-darwin") || strings.Contains(string(t), "-apple-"):
		return FlavorDarwin
	case t.IsWindows() && strings.HasSuffix(string(t), "-msvc"):
		return FlavorMsvc
	case strings.Contains(string(t), "-linux-") || strings.Contains(string(t), "-android"):
		return FlavorGnu
	default:
		return FlavorUnsupported
	}
}

// BuildRequest describes one complete build of one role. It is immutable
// once a build starts; a new trigger produces a new request cycle rather
// than mutating an in-flight one.
type BuildRequest struct {
	// Package is the cargo package name of the top-level crate.
	Package string
	// Bin is the binary target name; empty when Lib is set.
	Bin string
	// Lib selects the library target instead of a binary.
	Lib bool
	// Role this request belongs to.
	Role Role

	Triple            Triple
	Profile           string // cargo profile name, e.g. "dev"
	ProfileDir        string // profile output directory, e.g. "debug"
	Features          []string
	NoDefaultFeatures bool
	RustFlags         []string

	// WorkingDir is the workspace root (directory of the manifest).
	WorkingDir string
	// CrateDir is the root of the top-level crate, used to decide
	// whether a change set can be thin-built.
	CrateDir string
	// TargetDir is cargo's target directory.
	TargetDir string
	// BundleDir receives the fat baseline binary and patch modules.
	BundleDir string

	// SitePkgDir is where wasm patch modules are published so the
	// browser can fetch them as URLs. Only meaningful for RoleLib.
	SitePkgDir string
}

// BinaryName returns the file name of the link output for this request.
func (r *BuildRequest) BinaryName() string {
	if r.Bin != "" {
		return r.Bin
	}
	return r.Package
}

// TripleProfileDir is target/<triple>/<profile-dir>, the layout cargo
// guarantees when building with an explicit --target.
func (r *BuildRequest) TripleProfileDir() string {
	return filepath.Join(r.TargetDir, r.Triple.String(), r.ProfileDir)
}

// FingerprintDir is where cargo keeps the build fingerprints that must be
// invalidated before a fat build.
func (r *BuildRequest) FingerprintDir() string {
	return filepath.Join(r.TripleProfileDir(), ".fingerprint")
}

// RecordDir is where invocation records for this request live.
func (r *BuildRequest) RecordDir() string {
	return filepath.Join(r.TargetDir, "hotswap", string(r.Role))
}

// Records returns the well-known record file paths for this request.
// Exactly one compile record and one link record exist per role; each is
// overwritten atomically on the next build.
func (r *BuildRequest) Records() RecordPaths {
	dir := r.RecordDir()
	return RecordPaths{
		CompileFile:  filepath.Join(dir, "rustc.json"),
		LinkArgsFile: filepath.Join(dir, "link-args.txt"),
		LinkErrFile:  filepath.Join(dir, "link-err.txt"),
	}
}

// Config is the resolved, manifest-independent description of the project
// the engine operates on (manifest parsing happens upstream).
type Config struct {
	// Addr is the listen address of the hot-reload transport.
	Addr string
	// Requests holds one build request per configured role.
	Requests []*BuildRequest
}
