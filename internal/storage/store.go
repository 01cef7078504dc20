package storage

import (
	"errors"
	"sync"
)

var (
	// ErrKeyNotFound is returned when a key doesn't exist in the store
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExists is returned by Insert when the key is already present
	ErrKeyExists = errors.New("key already exists")

	// ErrCASMismatch is returned when a supplied CAS no longer matches
	ErrCASMismatch = errors.New("cas mismatch")
)

// Entry is a stored value and the CAS assigned by its last mutation.
type Entry struct {
	Value []byte
	CAS   uint64
}

// Store defines the interface for document storage behind one bucket.
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Get retrieves a value by key
	// Returns ErrKeyNotFound if the key doesn't exist
	Get(key string) (Entry, error)

	// Insert stores a value only if the key is absent
	// Returns ErrKeyExists otherwise
	Insert(key string, value []byte) (uint64, error)

	// Upsert stores a value, overwriting any existing value for the key
	Upsert(key string, value []byte) (uint64, error)

	// Replace overwrites an existing key
	// A non-zero cas must match the stored CAS
	Replace(key string, value []byte, cas uint64) (uint64, error)

	// Remove deletes an existing key
	// A non-zero cas must match the stored CAS
	Remove(key string, cas uint64) (uint64, error)

	// List returns all keys in the store
	// Order is not guaranteed
	List() []string

	// Flush removes every key
	Flush()

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int // Number of keys
	Bytes int // Total size of all values in bytes
}

// MemoryStore implements Store interface with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	mu   sync.RWMutex     // Protects data and cas
	data map[string]Entry // Key-value storage
	cas  uint64           // Last issued CAS
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Entry),
	}
}

// Get retrieves a value by key
// Returns a copy of the value to prevent external modification
func (m *MemoryStore) Get(key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.data[key]
	if !exists {
		return Entry{}, ErrKeyNotFound
	}
	return Entry{Value: clone(entry.Value), CAS: entry.CAS}, nil
}

// Insert stores value under key unless the key is already present
func (m *MemoryStore) Insert(key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		return 0, ErrKeyExists
	}
	return m.storeLocked(key, value), nil
}

// Upsert stores value under key
// Makes a copy of the value to prevent external modification
func (m *MemoryStore) Upsert(key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.storeLocked(key, value), nil
}

// Replace overwrites an existing key
func (m *MemoryStore) Replace(key string, value []byte, cas uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists {
		return 0, ErrKeyNotFound
	}
	if cas != 0 && cas != entry.CAS {
		return 0, ErrCASMismatch
	}
	return m.storeLocked(key, value), nil
}

// Remove deletes an existing key and returns the CAS of the removal
func (m *MemoryStore) Remove(key string, cas uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists {
		return 0, ErrKeyNotFound
	}
	if cas != 0 && cas != entry.CAS {
		return 0, ErrCASMismatch
	}
	delete(m.data, key)
	m.cas++
	return m.cas, nil
}

// List returns all keys in the store
// Returns a copy of the keys to prevent external modification
func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	return keys
}

// Flush removes every key
func (m *MemoryStore) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make(map[string]Entry)
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, entry := range m.data {
		totalBytes += len(entry.Value)
	}

	return StoreStats{
		Keys:  len(m.data),
		Bytes: totalBytes,
	}
}

// storeLocked writes a copy of value and assigns the next CAS.
// Caller must hold m.mu.
func (m *MemoryStore) storeLocked(key string, value []byte) uint64 {
	m.cas++
	m.data[key] = Entry{Value: clone(value), CAS: m.cas}
	return m.cas
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
