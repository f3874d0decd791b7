package fs

import (
	"context"

	"github.com/grindlemire/graft"
)

const NodeID graft.ID = "adapter.fs"

func init() {
	graft.Register(graft.Node[*Differ]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(ctx context.Context) (*Differ, error) {
			return NewDiffer(NewWalker()), nil
		},
	})
}
