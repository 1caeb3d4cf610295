// Package memory implements an ephemeral in-process storage.Backend,
// mainly useful for tests and cache setups not meant to survive a restart
package memory

import (
	"bytes"
	"context"
	"os"
	"sync"

	"github.com/chatterlay/mediacache/pkg/storage"
)

// Backend implements the storage.Backend interface on a plain map
type Backend struct {
	lock    sync.RWMutex
	entries map[string]entry
}

type entry struct {
	blob     []byte
	metadata storage.Meta
}

// New returns a new in-memory storage backend
func New() *Backend { return &Backend{} }

// Open implements the storage.Backend Open method
func (s *Backend) Open(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.entries == nil {
		s.entries = make(map[string]entry)
	}

	return nil
}

// Get implements the storage.Backend Get method
func (s *Backend) Get(_ context.Context, key string) ([]byte, *storage.Meta, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil, os.ErrNotExist
	}

	metadata := e.metadata
	return bytes.Clone(e.blob), &metadata, nil
}

// LoadMeta implements the storage.Backend LoadMeta method
func (s *Backend) LoadMeta(_ context.Context, key string) (*storage.Meta, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, os.ErrNotExist
	}

	metadata := e.metadata
	return &metadata, nil
}

// Put implements the storage.Backend Put method
func (s *Backend) Put(_ context.Context, key string, blob []byte, metadata *storage.Meta) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.entries[key] = entry{blob: bytes.Clone(blob), metadata: *metadata}
	return nil
}

// Delete implements the storage.Backend Delete method
func (s *Backend) Delete(_ context.Context, key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.entries, key)
	return nil
}

// ListKeys implements the storage.Backend ListKeys method
func (s *Backend) ListKeys(_ context.Context) ([]string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}

	return keys, nil
}

// DeleteAll implements the storage.Backend DeleteAll method
func (s *Backend) DeleteAll(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.entries = make(map[string]entry)
	return nil
}
