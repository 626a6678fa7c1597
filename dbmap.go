// Package dbmap defines a uniform key-value map contract that multiple
// storage engines satisfy identically. Keys and values are opaque byte
// strings; the contract is strictly single-key get/put/replace/delete with
// no iteration and no caller-visible transactions.
//
// Engines implement the four primitive operations of the Map interface plus
// Clone. The convenience forms Get, GetAs, Replace and ReplaceAs are derived
// from the primitives and work against any engine.
//
// Read paths are callback-based: the engine invokes the caller's function
// with a borrowed view of the stored bytes while its internal lock or
// transaction is still held. The view is exactly the stored byte string and
// is valid only until the callback returns. Callbacks must not retain the
// slice and must not call back into the same handle; the in-memory engine
// deadlocks on reentry and the persistent engine may deadlock or fail
// depending on transaction nesting.
package dbmap

// Map is the contract every storage engine implements. All operations are
// safe for concurrent use from multiple goroutines.
//
// Absence of a key is never an error: reads report found == false and
// Delete of an absent key succeeds.
type Map interface {
	// GetWith looks up key and, if present, invokes fn with a borrowed view
	// of the stored value. fn is not invoked when the key is absent.
	GetWith(key []byte, fn func(value []byte)) (found bool, err error)

	// Put stores value under key, overwriting any previous value. The
	// previous value is not returned; use ReplaceWith when it is needed,
	// since engines can skip the extra read here.
	Put(key, value []byte) error

	// ReplaceWith atomically stores value under key and invokes fn with a
	// borrowed view of the previous value, if one existed. No other
	// operation can observe the key between the read of the previous value
	// and the write of the new one.
	//
	// fn only ever sees the previous value, never the value just written.
	// Callers wanting the new value back must issue a second read.
	ReplaceWith(key, value []byte, fn func(prev []byte)) (replaced bool, err error)

	// Delete removes the entry for key. Deleting an absent key is a no-op.
	Delete(key []byte) error

	// Clone returns a handle to the same underlying store. A write through
	// any clone is visible to reads through every other clone.
	Clone() Map
}

// Get returns an owned copy of the value stored under key, or found == false
// when the key is absent.
func Get(m Map, key []byte) ([]byte, bool, error) {
	return GetAs(m, key, cloneBytes)
}

// GetAs looks up key and applies fn to the stored bytes, returning the
// transformed value. fn runs inside the engine's critical section; see the
// package documentation for the callback rules.
func GetAs[T any](m Map, key []byte, fn func(value []byte) T) (T, bool, error) {
	var out T
	found, err := m.GetWith(key, func(value []byte) {
		out = fn(value)
	})
	if err != nil || !found {
		var zero T
		return zero, false, err
	}
	return out, true, nil
}

// Replace stores value under key and returns an owned copy of the previous
// value, or replaced == false when the key was absent.
func Replace(m Map, key, value []byte) ([]byte, bool, error) {
	return ReplaceAs(m, key, value, cloneBytes)
}

// ReplaceAs stores value under key and applies fn to the previous value,
// returning the transformed result. The read of the previous value and the
// write of the new one form a single atomic unit.
func ReplaceAs[T any](m Map, key, value []byte, fn func(prev []byte) T) (T, bool, error) {
	var out T
	replaced, err := m.ReplaceWith(key, value, func(prev []byte) {
		out = fn(prev)
	})
	if err != nil || !replaced {
		var zero T
		return zero, false, err
	}
	return out, true, nil
}

// cloneBytes always returns a non-nil slice so empty values round-trip.
func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
