package ports

import "go.trai.ch/hotswap/internal/core/domain"

//go:generate mockgen -source=state.go -destination=mocks/mock_state.go -package=mocks

// CacheStore persists module caches across engine restarts.
//
// A module cache is only trustworthy while the binary it describes is the one
// running, so implementations key entries by binary name and callers clear
// entries when a full rebuild replaces the binary.
type CacheStore interface {
	// Get returns the stored cache for the binary, or nil when absent.
	Get(binary string) (*domain.ModuleCache, error)
	// Put stores the cache under its binary name.
	Put(cache *domain.ModuleCache) error
	// Delete removes the entry for the binary. Missing entries are not an error.
	Delete(binary string) error
}
