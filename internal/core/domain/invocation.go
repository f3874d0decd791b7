package domain

// Invocation describes one toolchain process to run.
type Invocation struct {
	Program string
	Args    []string
	Dir     string
	// Env is the exact environment for the process when InheritEnv is
	// false; otherwise it is appended to the parent environment.
	Env        []string
	InheritEnv bool
}

// ExecResult carries the captured output of a finished invocation.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}
