// Package memory stores mirror state in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

type object struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

// BlobStore stores objects in-memory. Body and metadata are swapped under
// one lock so readers never observe them out of step.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string]object
	puts int
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[string]object),
	}
}

// Head returns the object's metadata.
func (s *BlobStore) Head(_ context.Context, key string) (mirror.ObjectAttrs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[key]
	if !ok {
		return mirror.ObjectAttrs{}, fmt.Errorf("head %s: %w", key, mirror.ErrObjectNotFound)
	}
	return mirror.ObjectAttrs{Key: key, Metadata: maps.Clone(obj.metadata)}, nil
}

// Get returns a copy of the object's body.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, mirror.ErrObjectNotFound)
	}
	return append([]byte(nil), obj.body...), nil
}

// Put persists the content together with its metadata.
func (s *BlobStore) Put(_ context.Context, key, contentType string, body []byte, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = object{
		body:        append([]byte(nil), body...),
		contentType: contentType,
		metadata:    maps.Clone(metadata),
	}
	s.puts++
	return nil
}

// Puts returns how many writes the store has accepted.
func (s *BlobStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Keys returns the number of stored objects.
func (s *BlobStore) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
