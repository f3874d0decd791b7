package domain

import "go.trai.ch/zerr"

var (
	// ErrNoModuleCache is returned when a thin build is requested before
	// any fat build has produced a baseline.
	ErrNoModuleCache = zerr.New("module cache missing, run a full build first")

	// ErrNoAslrReference is returned when a thin build is requested for
	// an instance that has not completed the base-address handshake.
	ErrNoAslrReference = zerr.New("no aslr reference reported, connect an instance first")

	// ErrDependencyChanged signals that the change set touches a crate
	// below the top level, which a thin build cannot isolate. It is a
	// strategy signal, not a failure: the orchestrator falls back to fat.
	ErrDependencyChanged = zerr.New("change outside the top-level crate")

	// ErrRecordMissing is returned when an invocation record expected on
	// disk is absent.
	ErrRecordMissing = zerr.New("invocation record missing")

	// ErrRecordDiverged is returned when the recorded link arguments
	// reference an object that no longer exists: the capture and the
	// actual build state have drifted apart.
	ErrRecordDiverged = zerr.New("recorded link arguments reference a missing object")

	// ErrUnsupportedLinker is returned for triples whose linker dialect
	// the engine cannot drive.
	ErrUnsupportedLinker = zerr.New("unsupported linker flavor")

	// ErrNoTrapAddress is returned when a patch removes a top-level crate
	// function but the baseline exposes no trap address to redirect it to.
	ErrNoTrapAddress = zerr.New("baseline has no trap address for removed functions")

	// ErrBuildExecutionFailed marks toolchain failures already reported
	// through the logger, so main can exit nonzero without re-printing.
	ErrBuildExecutionFailed = zerr.New("build execution failed")
)
