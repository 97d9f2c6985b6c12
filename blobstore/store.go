// Package blobstore stores opaque byte buffers keyed by monotonically
// increasing ids. Blobs travel outside of JSON argument payloads; the
// store owns the bytes from creation until they are destroyed.
package blobstore

import (
	"errors"
	"sync"
)

// reservedID is the bootstrap id; assigned ids always start above it.
const reservedID uint64 = 1

var (
	// ErrNotFound indicates a lookup for an id with no stored blob.
	ErrNotFound = errors.New("blobstore: blob not found")

	// ErrIDOverflow indicates an id that no longer survives a round trip
	// through the double mantissa. Blob ids travel inside JSON argument
	// arrays, which represent numbers as float64.
	ErrIDOverflow = errors.New("blobstore: blob ID overflow")
)

// Store is keyed byte-buffer storage. Ids increase strictly and are never
// reused. Destroy is idempotent. Implementations return copies; callers
// never alias internal storage.
type Store interface {
	Create(data []byte) (uint64, error)
	Get(id uint64) ([]byte, error)
	Destroy(id uint64)
	DestroyAll(ids []uint64)
	Close() error
}

// MemStore keeps blobs in process memory.
type MemStore struct {
	mu     sync.Mutex
	blobs  map[uint64][]byte
	nextID uint64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		blobs:  make(map[uint64][]byte),
		nextID: reservedID,
	}
}

// Create stores a copy of data under the next id.
func (s *MemStore) Create(data []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if id != uint64(float64(id)) {
		return 0, ErrIDOverflow
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[id] = buf
	return id, nil
}

// Get returns a copy of the blob stored under id.
func (s *MemStore) Get(id uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Destroy removes the blob stored under id, if any.
func (s *MemStore) Destroy(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, id)
}

// DestroyAll removes every listed blob.
func (s *MemStore) DestroyAll(ids []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.blobs, id)
	}
}

// Close releases the store.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = make(map[uint64][]byte)
	return nil
}
