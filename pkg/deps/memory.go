package deps

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory dependency record store for executors
// configured without a deps file. It satisfies storage.DepsStore.
type MemoryStore struct {
	mu   sync.Mutex
	pkgs []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// List returns the recorded packages.
func (m *MemoryStore) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.pkgs...), nil
}

// Add records a package; re-adding is a no-op.
func (m *MemoryStore) Add(_ context.Context, pkg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.pkgs {
		if existing == pkg {
			return nil
		}
	}
	m.pkgs = append(m.pkgs, pkg)
	return nil
}

// Remove drops a package, reporting whether it was present.
func (m *MemoryStore) Remove(_ context.Context, pkg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.pkgs {
		if existing == pkg {
			m.pkgs = append(m.pkgs[:i], m.pkgs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Path identifies the store for display.
func (*MemoryStore) Path() string {
	return "<memory>"
}
