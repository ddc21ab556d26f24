// Package storage holds the in-memory artifact index. Stored files are the
// only durable state; the index exists so the API can answer metadata and
// download lookups without deriving disk paths from user-supplied names.
package storage

import (
	"errors"
	"sync"

	"github.com/dkoval/imagevault/internal/upload"
)

// ErrNotFound is returned when no artifact is registered under a given key.
var ErrNotFound = errors.New("artifact not found")

// MemoryIndex maps artifact IDs and stored names to their descriptors. Reads
// take the shared lock so concurrent requests never contend on lookups.
type MemoryIndex struct {
	mu     sync.RWMutex
	byID   map[string]upload.StoredArtifact
	byName map[string]upload.StoredArtifact
}

// NewMemoryIndex constructs an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		byID:   make(map[string]upload.StoredArtifact),
		byName: make(map[string]upload.StoredArtifact),
	}
}

// Save registers an artifact under both its ID and its stored name.
func (m *MemoryIndex) Save(a upload.StoredArtifact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[a.ID] = a
	m.byName[a.StoredName] = a
}

// Get returns the artifact registered under id.
func (m *MemoryIndex) Get(id string) (upload.StoredArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return upload.StoredArtifact{}, ErrNotFound
	}
	return a, nil
}

// GetByName returns the artifact whose stored filename is name.
func (m *MemoryIndex) GetByName(name string) (upload.StoredArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byName[name]
	if !ok {
		return upload.StoredArtifact{}, ErrNotFound
	}
	return a, nil
}

// Remove drops an artifact from the index. Removing an unknown id is a no-op.
func (m *MemoryIndex) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		delete(m.byName, a.StoredName)
		delete(m.byID, id)
	}
}
