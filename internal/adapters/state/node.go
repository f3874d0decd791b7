package state

import (
	"context"
	"os"
	"path/filepath"

	"github.com/grindlemire/graft"
	"go.trai.ch/hotswap/internal/core/ports"
)

const NodeID graft.ID = "adapter.cache_store"

func init() {
	graft.Register(graft.Node[ports.CacheStore]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(ctx context.Context) (ports.CacheStore, error) {
			dir, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			store, err := NewStore(filepath.Join(dir, "target", "hotswap", "module-caches.json"))
			if err != nil {
				return nil, err
			}
			return store, nil
		},
	})
}
