// Package keystore holds the volatile, process-memory map from entity id to derived
// encryption key, guarded by a sync.RWMutex for its read-dominant access pattern. The Store
// is passed explicitly through constructors rather than reached as a package-level global.
package keystore

import (
	"sync"

	"github.com/arachne-bridge/arachne/internal/cryptobox"
)

// Store is the process-wide cache of per-entity encryption keys, populated at API-key
// authentication time and never persisted to disk.
type Store struct {
	mu   sync.RWMutex
	keys map[string][cryptobox.KeySize]byte
}

// New creates an empty key store. A restart always starts empty; entities must
// re-authenticate to resume encrypted queue access.
func New() *Store {
	return &Store{keys: make(map[string][cryptobox.KeySize]byte)}
}

// Set installs the derived key for entityID, overwriting any prior value.
func (s *Store) Set(entityID string, key [cryptobox.KeySize]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[entityID] = key
}

// Get returns the derived key for entityID and whether one is present.
func (s *Store) Get(entityID string) ([cryptobox.KeySize]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[entityID]
	return key, ok
}

// Delete removes entityID's key, if any. Called on entity deletion and key regeneration.
func (s *Store) Delete(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, entityID)
}
