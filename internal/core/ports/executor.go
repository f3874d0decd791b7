package ports

import (
	"context"

	"go.trai.ch/hotswap/internal/core/domain"
)

// Executor runs toolchain processes (cargo, rustc, the linker).
//
// Run blocks until the process exits or ctx is cancelled; cancellation
// kills the process. A non-zero exit returns the result alongside an
// error carrying the exit code and the stderr tail, so toolchain
// diagnostics propagate verbatim.
//
//go:generate go run go.uber.org/mock/mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	Run(ctx context.Context, inv domain.Invocation) (*domain.ExecResult, error)
}
