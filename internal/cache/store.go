package cache

import (
	"context"
	"errors"
	"sync"
)

// Sentinel errors for typed error checking.
var (
	ErrNotFound       = errors.New("artifact not found")
	ErrArtifactShared = errors.New("artifact has live references")
)

// Store is the durable artifact store boundary. Implementations must be safe
// for concurrent use; Get returns ErrNotFound for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (*CachedArtifact, error)
	Put(ctx context.Context, artifact *CachedArtifact) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// MemoryStore is the in-memory Store used for single-node deployments and
// tests. Artifacts are deep-copied at the boundary so callers never alias
// store state.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*CachedArtifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]*CachedArtifact)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*CachedArtifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.artifacts[key]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, artifact *CachedArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[artifact.SubmissionHash] = artifact.Clone()
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.artifacts[key]
	return ok, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.artifacts[key]; !ok {
		return ErrNotFound
	}
	delete(m.artifacts, key)
	return nil
}

// Len reports the number of stored artifacts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.artifacts)
}
