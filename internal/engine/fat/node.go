package fat

import (
	"context"
	"os"

	"github.com/grindlemire/graft"
	"go.trai.ch/hotswap/internal/adapters/logger"
	"go.trai.ch/hotswap/internal/adapters/shell"
	"go.trai.ch/hotswap/internal/adapters/symbols"
	"go.trai.ch/hotswap/internal/adapters/telemetry/progrock"
	"go.trai.ch/hotswap/internal/core/ports"
)

const NodeID graft.ID = "engine.fat"

func init() {
	graft.Register(graft.Node[*Engine]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{shell.NodeID, symbols.NodeID, logger.NodeID, progrock.NodeID},
		Run: func(ctx context.Context) (*Engine, error) {
			executor, err := graft.Dep[ports.Executor](ctx)
			if err != nil {
				return nil, err
			}
			scanner, err := graft.Dep[ports.SymbolScanner](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			tracer, err := graft.Dep[ports.Tracer](ctx)
			if err != nil {
				return nil, err
			}
			wrapper, err := os.Executable()
			if err != nil {
				return nil, err
			}
			return NewEngine(executor, scanner, log, tracer, wrapper), nil
		},
	})
}
