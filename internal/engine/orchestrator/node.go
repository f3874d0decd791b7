package orchestrator

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/hotswap/internal/adapters/logger"
	"go.trai.ch/hotswap/internal/adapters/state"
	"go.trai.ch/hotswap/internal/adapters/transport"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/hotswap/internal/engine/fat"
	"go.trai.ch/hotswap/internal/engine/thin"
)

const NodeID graft.ID = "engine.orchestrator"

func init() {
	graft.Register(graft.Node[*Orchestrator]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{fat.NodeID, thin.NodeID, state.NodeID, transport.NodeID, logger.NodeID},
		Run: func(ctx context.Context) (*Orchestrator, error) {
			fatEngine, err := graft.Dep[*fat.Engine](ctx)
			if err != nil {
				return nil, err
			}
			thinEngine, err := graft.Dep[*thin.Engine](ctx)
			if err != nil {
				return nil, err
			}
			store, err := graft.Dep[ports.CacheStore](ctx)
			if err != nil {
				return nil, err
			}
			server, err := graft.Dep[*transport.Server](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return New(fatEngine, thinEngine, store, server, log), nil
		},
	})
}
