// Package memstore implements the dbmap contract with an in-memory btree
// ordered by raw key bytes. It has no persistence and no size limit beyond
// available memory; it exists mainly as the reference engine the persistent
// backends are validated against.
package memstore

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/myuser/dbmap"
)

const degree = 32

type entry struct {
	key   []byte
	value []byte
}

func (e *entry) Less(than btree.Item) bool {
	return bytes.Compare(e.key, than.(*entry).key) < 0
}

// store is the shared state behind every clone of a handle. One mutex
// serializes all operations, callback invocations included; the mutex is
// not reentrant, so callbacks must not call back into the same handle.
type store struct {
	mu   sync.Mutex
	tree *btree.BTree
}

// Store is a handle to one in-memory map. Copying a Store (or calling
// Clone) yields a handle to the same underlying map, not an independent
// copy: writes through one handle are visible through all of them.
type Store struct {
	db *store
}

var _ dbmap.Map = Store{}

// Open creates a fresh, empty store.
func Open() Store {
	return Store{db: &store{tree: btree.New(degree)}}
}

// Clone returns a handle sharing the same underlying map.
func (s Store) Clone() dbmap.Map { return s }

// GetWith invokes fn with the stored value while the store lock is held.
// The slice passed to fn is the store's own copy; fn must not retain or
// modify it.
func (s Store) GetWith(key []byte, fn func(value []byte)) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	it := s.db.tree.Get(&entry{key: key})
	if it == nil {
		return false, nil
	}
	fn(it.(*entry).value)
	return true, nil
}

// Put stores value under key, overwriting any previous value. Key and value
// are copied in, so the caller may reuse its slices afterwards.
func (s Store) Put(key, value []byte) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.tree.ReplaceOrInsert(&entry{key: cloneBytes(key), value: cloneBytes(value)})
	return nil
}

// ReplaceWith stores value under key and invokes fn with the previous value,
// if one existed. The single store lock makes the read-and-write atomic: no
// other operation runs between them.
func (s Store) ReplaceWith(key, value []byte, fn func(prev []byte)) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	prev := s.db.tree.ReplaceOrInsert(&entry{key: cloneBytes(key), value: cloneBytes(value)})
	if prev == nil {
		return false, nil
	}
	fn(prev.(*entry).value)
	return true, nil
}

// Delete removes the entry for key. Deleting an absent key is a no-op.
func (s Store) Delete(key []byte) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.tree.Delete(&entry{key: key})
	return nil
}

// Len returns the number of entries in the store.
func (s Store) Len() int {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	return s.db.tree.Len()
}

// Clear removes every entry.
func (s Store) Clear() {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.tree.Clear(false)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
