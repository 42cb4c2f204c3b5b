package storage

import (
	"context"
	"sort"
	"sync"
)

// memoryDepsStore keeps declared dependencies in process memory. It backs
// executors that have no storage handoff for dependency records, so
// deps.add still works but the declarations die with the process.
type memoryDepsStore struct {
	mu   sync.Mutex
	pkgs map[string]struct{}
}

// NewMemoryDepsStore returns an empty in-memory DepsStore.
func NewMemoryDepsStore() DepsStore {
	return &memoryDepsStore{pkgs: make(map[string]struct{})}
}

func (s *memoryDepsStore) Path() string { return "<memory>" }

func (s *memoryDepsStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.pkgs))
	for pkg := range s.pkgs {
		out = append(out, pkg)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryDepsStore) Add(_ context.Context, pkg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkgs[pkg] = struct{}{}
	return nil
}

func (s *memoryDepsStore) Remove(_ context.Context, pkg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pkgs[pkg]; !ok {
		return false, nil
	}
	delete(s.pkgs, pkg)
	return true, nil
}
