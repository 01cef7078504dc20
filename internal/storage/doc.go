// Package storage provides the document store that backs each bucket of the
// in-memory cluster emulation.
//
// A Store keeps raw JSON values keyed by document ID and assigns a
// monotonically increasing CAS on every mutation. The mutation semantics
// mirror the document service of the real cluster:
//
//   - Insert fails with ErrKeyExists when the key is present
//   - Replace and Remove fail with ErrKeyNotFound when the key is absent
//   - Replace and Remove with a non-zero CAS fail with ErrCASMismatch when
//     the document changed in between
//   - Upsert always succeeds
//
// # Concurrency
//
// MemoryStore guards its map with a sync.RWMutex. Values are copied on the
// way in and on the way out, so callers never share memory with the store.
//
//	store := storage.NewMemoryStore()
//	cas, _ := store.Upsert("user:123", []byte(`{"name":"Alice"}`))
//	entry, err := store.Get("user:123")
//	if errors.Is(err, storage.ErrKeyNotFound) {
//	    // absent
//	}
//	_, err = store.Replace("user:123", []byte(`{"name":"Bob"}`), cas)
package storage
