package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Registry.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
	closed    bool
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		manifests: make(map[string]*Manifest),
		now:       time.Now,
	}
}

// GetManifest implements Registry.
func (s *MemoryStore) GetManifest(_ context.Context, urn string) (*Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	m, ok := s.manifests[urn]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// UpsertManifest implements Registry.
func (s *MemoryStore) UpsertManifest(_ context.Context, urn string, body map[string]any) (*Manifest, error) {
	m, err := NewManifest(urn, body, s.now())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.manifests[m.URN] = m
	cp := *m
	return &cp, nil
}

// Capabilities implements Registry.
func (s *MemoryStore) Capabilities(_ context.Context, urn string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	m, ok := s.manifests[urn]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string{}, m.Capabilities...), nil
}

// LookupMetadata implements Registry.
func (s *MemoryStore) LookupMetadata(_ context.Context, urns []string) (map[string]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]Metadata, len(urns))
	for _, urn := range dedupe(urns) {
		if m, ok := s.manifests[urn]; ok {
			out[urn] = m.metadata()
		}
	}
	return out, nil
}

// Len returns the number of registered manifests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.manifests)
}

// Close implements Registry.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
