// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "go.trai.ch/hotswap/internal/adapters/config"
	_ "go.trai.ch/hotswap/internal/adapters/fs"
	_ "go.trai.ch/hotswap/internal/adapters/logger"
	_ "go.trai.ch/hotswap/internal/adapters/shell"
	_ "go.trai.ch/hotswap/internal/adapters/state"
	_ "go.trai.ch/hotswap/internal/adapters/symbols"
	_ "go.trai.ch/hotswap/internal/adapters/telemetry/progrock"
	_ "go.trai.ch/hotswap/internal/adapters/transport"
	// Register app and engine nodes.
	_ "go.trai.ch/hotswap/internal/app"
	_ "go.trai.ch/hotswap/internal/engine/fat"
	_ "go.trai.ch/hotswap/internal/engine/orchestrator"
	_ "go.trai.ch/hotswap/internal/engine/thin"
)
