package domain

// Session is the mutable per-role build state: whether a fat build has
// succeeded yet, and the artifacts every thin build derives from. It is
// created empty at startup, passed explicitly to every stage, and
// replaced wholesale by each successful fat build. The orchestrator
// serializes all access; stages treat it as read-only.
type Session struct {
	// FatBuilt records that a fat build succeeded, switching the
	// strategy to thin for subsequent triggers.
	FatBuilt bool
	// Cache is the module cache of the current baseline.
	Cache *ModuleCache
	// Compile is the recorded compiler invocation of the top-level
	// crate, replayed by thin builds.
	Compile *CompileRecord
	// LinkArgs is the recorded linker argv of the fat build.
	LinkArgs []string
	// Binary is the bundled baseline executable path.
	Binary string
}

// NewSession returns the empty pre-fat-build state.
func NewSession() *Session {
	return &Session{}
}
