package ports

import (
	"context"

	"go.trai.ch/hotswap/internal/core/domain"
)

// Transport is the hot-reload channel to running instances of the target
// program. Instances report their address-space base on connect; finished
// jump tables are broadcast back out.
//
//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks
type Transport interface {
	// Reference returns the base address the next thin build should be
	// computed against, and whether any instance has reported one yet.
	Reference() (uint64, bool)
	// Broadcast delivers a fully generated jump table to every
	// connected instance, rebased per instance. Per-connection failures
	// are isolated; Broadcast only errors when delivery was impossible
	// altogether.
	Broadcast(ctx context.Context, table *domain.JumpTable) error
	// Reset drops accumulated patch state (replayed to late joiners)
	// ahead of a fresh fat baseline.
	Reset()
}
