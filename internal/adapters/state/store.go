// Package state implements module cache persistence using a flat JSON file.
package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/zerr"
)

// Store implements ports.CacheStore using a flat JSON file.
type Store struct {
	path  string
	mu    sync.RWMutex
	cache map[string]domain.ModuleCache
}

// NewStore creates a CacheStore backed by the file at the given path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  filepath.Clean(path),
		cache: make(map[string]domain.ModuleCache),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	//nolint:gosec // Path is cleaned and provided by trusted caller
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return zerr.Wrap(err, "failed to read module cache store")
	}

	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.cache); err != nil {
		return zerr.Wrap(err, "failed to unmarshal module cache store")
	}

	return nil
}

func (s *Store) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "failed to marshal module cache store")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return zerr.Wrap(err, "failed to create directory for module cache store")
	}

	if err := domain.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return zerr.Wrap(err, "failed to write module cache store")
	}

	return nil
}

// Get retrieves the stored module cache for a binary name.
func (s *Store) Get(binary string) (*domain.ModuleCache, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cache, ok := s.cache[binary]
	if !ok {
		return nil, nil
	}
	return &cache, nil
}

// Put stores the module cache under its binary name.
func (s *Store) Put(cache *domain.ModuleCache) error {
	if cache == nil || cache.Binary == "" {
		return zerr.New("module cache has no binary name")
	}

	s.mu.Lock()
	s.cache[cache.Binary] = *cache
	s.mu.Unlock()

	return s.save()
}

// Delete removes the entry for the binary.
func (s *Store) Delete(binary string) error {
	s.mu.Lock()
	_, ok := s.cache[binary]
	delete(s.cache, binary)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.save()
}
