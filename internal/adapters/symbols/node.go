package symbols

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/hotswap/internal/adapters/shell"
	"go.trai.ch/hotswap/internal/core/ports"
)

const NodeID graft.ID = "adapter.symbols"

func init() {
	graft.Register(graft.Node[ports.SymbolScanner]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{shell.NodeID},
		Run: func(ctx context.Context) (ports.SymbolScanner, error) {
			executor, err := graft.Dep[ports.Executor](ctx)
			if err != nil {
				return nil, err
			}
			return NewScanner(executor), nil
		},
	})
}
