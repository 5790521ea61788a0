package storage

import (
	"context"
	"sync"

	"github.com/ruteri/hybrid-tag/interfaces"
)

// MemoryBackend keeps records in process memory. Records do not survive a restart;
// it backs tests and the simulated tag.
type MemoryBackend struct {
	mu      sync.RWMutex
	name    string
	records map[string][]byte
	// failSaves makes every Save fail with ErrBackendUnavailable.
	failSaves bool
}

// NewMemoryBackend creates an empty in-memory store.
func NewMemoryBackend(name string) *MemoryBackend {
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{
		name:    name,
		records: make(map[string][]byte),
	}
}

// Load returns a copy of the record stored under name.
func (m *MemoryBackend) Load(ctx context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[name]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	return append([]byte(nil), data...), nil
}

// Save stores a copy of data under name.
func (m *MemoryBackend) Save(ctx context.Context, name string, data []byte) error {
	if err := interfaces.ValidateRecordName(name); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSaves {
		return interfaces.ErrBackendUnavailable
	}
	m.records[name] = append([]byte(nil), data...)
	return nil
}

// SetFailSaves toggles simulated write failures.
func (m *MemoryBackend) SetFailSaves(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = fail
}

// Available always reports true.
func (m *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this storage backend.
func (m *MemoryBackend) Name() string {
	return "memory-" + m.name
}

// LocationURI returns the URI that identifies this storage backend.
func (m *MemoryBackend) LocationURI() string {
	return "memory://" + m.name
}
