// Package dbmaptest is the behavioral conformance suite for dbmap engines.
// Any type implementing dbmap.Map must pass Run unmodified; the in-memory
// and LMDB engines are both validated against it, which is what lets
// application code treat the two as interchangeable.
package dbmaptest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/myuser/dbmap"
)

// Factory opens a fresh, empty map for one test case. Implementations
// should register any cleanup (closing files, removing directories) on t.
type Factory func(t *testing.T) dbmap.Map

// Run executes the full conformance suite against maps produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("AbsentKey", func(t *testing.T) { testAbsentKey(t, factory(t)) })
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, factory(t)) })
	t.Run("PutDeleteGet", func(t *testing.T) { testPutDeleteGet(t, factory(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, factory(t)) })
	t.Run("EmptyValue", func(t *testing.T) { testEmptyValue(t, factory(t)) })
	t.Run("ReplacePrevious", func(t *testing.T) { testReplacePrevious(t, factory(t)) })
	t.Run("ReplaceSequence", func(t *testing.T) { testReplaceSequence(t, factory(t)) })
	t.Run("CloneSharing", func(t *testing.T) { testCloneSharing(t, factory(t)) })
	t.Run("TransformAgreement", func(t *testing.T) { testTransformAgreement(t, factory(t)) })
	t.Run("CallerOwnedSlices", func(t *testing.T) { testCallerOwnedSlices(t, factory(t)) })
	t.Run("RecordTransforms", func(t *testing.T) { testRecordTransforms(t, factory(t)) })
	t.Run("ConcurrentDistinctKeys", func(t *testing.T) { testConcurrentDistinctKeys(t, factory(t)) })
	t.Run("AcceptanceVectors", func(t *testing.T) { testAcceptanceVectors(t, factory(t)) })
	t.Run("RandomInsert", func(t *testing.T) { testRandomInsert(t, factory(t)) })
	t.Run("RandomReplaceChain", func(t *testing.T) { testRandomReplaceChain(t, factory(t)) })
	t.Run("RandomStringData", func(t *testing.T) { testRandomStringData(t, factory(t)) })
}

func testAbsentKey(t *testing.T, db dbmap.Map) {
	_, found, err := dbmap.Get(db, []byte("missing"))
	require.NoError(t, err)
	require.False(t, found)

	invoked := false
	found, err = db.GetWith([]byte("missing"), func([]byte) { invoked = true })
	require.NoError(t, err)
	require.False(t, found)
	require.False(t, invoked, "callback ran for an absent key")
}

func testPutGet(t *testing.T, db dbmap.Map) {
	key := []byte("alpha")

	require.NoError(t, db.Put(key, []byte("one")))
	got, found, err := dbmap.Get(db, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("one"), got)

	// Put overwrites; it never merges.
	require.NoError(t, db.Put(key, []byte("two")))
	got, found, err = dbmap.Get(db, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("two"), got)
}

func testPutDeleteGet(t *testing.T, db dbmap.Map) {
	key := []byte("beta")

	require.NoError(t, db.Put(key, []byte("value")))
	require.NoError(t, db.Delete(key))

	_, found, err := dbmap.Get(db, key)
	require.NoError(t, err)
	require.False(t, found)
}

func testDeleteIdempotent(t *testing.T, db dbmap.Map) {
	key := []byte("gamma")

	require.NoError(t, db.Delete(key))
	require.NoError(t, db.Delete(key))

	require.NoError(t, db.Put(key, []byte("v")))
	require.NoError(t, db.Delete(key))
	require.NoError(t, db.Delete(key))
}

func testEmptyValue(t *testing.T, db dbmap.Map) {
	key := []byte("empty")

	require.NoError(t, db.Put(key, nil))
	got, found, err := dbmap.Get(db, key)
	require.NoError(t, err)
	require.True(t, found, "empty value must still count as present")
	require.Len(t, got, 0)
}

func testReplacePrevious(t *testing.T, db dbmap.Map) {
	key := []byte("delta")

	prev, replaced, err := dbmap.Replace(db, key, []byte("first"))
	require.NoError(t, err)
	require.False(t, replaced)
	require.Nil(t, prev)

	prev, replaced, err = dbmap.Replace(db, key, []byte("second"))
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, []byte("first"), prev)

	got, found, err := dbmap.Get(db, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("second"), got)
}

func testReplaceSequence(t *testing.T, db dbmap.Map) {
	key := []byte("epsilon")
	values := [][]byte{
		[]byte("v1"), []byte("v2"), []byte("v3"), []byte("v4"), []byte("v5"),
	}

	var last []byte
	for i, value := range values {
		prev, replaced, err := dbmap.Replace(db, key, value)
		require.NoError(t, err)
		if i == 0 {
			require.False(t, replaced)
		} else {
			require.True(t, replaced)
			require.Equal(t, last, prev, "replace %d returned the wrong previous value", i)
		}
		last = value
	}

	got, found, err := dbmap.Get(db, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, values[len(values)-1], got)
}

func testCloneSharing(t *testing.T, db dbmap.Map) {
	clone := db.Clone()
	k0, k1 := []byte("shared-0"), []byte("shared-1")

	_, found, err := dbmap.Get(clone, k0)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, db.Put(k0, []byte("from-original")))
	require.NoError(t, clone.Put(k1, []byte("from-clone")))

	got, found, err := dbmap.Get(clone, k0)
	require.NoError(t, err)
	require.True(t, found, "clone missed a write through the original handle")
	require.Equal(t, []byte("from-original"), got)

	got, found, err = dbmap.Get(db, k1)
	require.NoError(t, err)
	require.True(t, found, "original missed a write through the clone")
	require.Equal(t, []byte("from-clone"), got)

	// A delete through one handle is a delete for all of them.
	require.NoError(t, clone.Delete(k0))
	_, found, err = dbmap.Get(db, k0)
	require.NoError(t, err)
	require.False(t, found)
}

func testTransformAgreement(t *testing.T, db dbmap.Map) {
	key := []byte("counter")
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], 0xFEDCBA9876543210)
	require.NoError(t, db.Put(key, raw[:]))

	// The view handed to the callback is exactly the stored bytes.
	found, err := db.GetWith(key, func(value []byte) {
		require.Equal(t, raw[:], value)
	})
	require.NoError(t, err)
	require.True(t, found)

	// GetAs(fn) agrees with fn(Get()) for any pure fn.
	decoded, found, err := dbmap.GetAs(db, key, binary.BigEndian.Uint64)
	require.NoError(t, err)
	require.True(t, found)

	owned, found, err := dbmap.Get(db, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, binary.BigEndian.Uint64(owned), decoded)

	_, found, err = dbmap.GetAs(db, []byte("counter-missing"), binary.BigEndian.Uint64)
	require.NoError(t, err)
	require.False(t, found)
}

func testCallerOwnedSlices(t *testing.T, db dbmap.Map) {
	key := []byte("owned")
	value := []byte("original")

	require.NoError(t, db.Put(key, value))
	// The store must hold its own copies; mutating the caller's slices
	// afterwards cannot change what was stored.
	value[0] = 'X'
	key[0] = 'Y'

	got, found, err := dbmap.Get(db, []byte("owned"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("original"), got)
}

func testRecordTransforms(t *testing.T, db dbmap.Map) {
	key := []byte("record")
	first := Record{Byte: 0x12, Word: 0x3456, Long: 0x789ABCDE, Quad: 0xFEDCBA9876543210}
	second := Record{Byte: 0xFF, Word: 0x0001, Long: 0x00000002, Quad: 0x0000000000000003}

	require.NoError(t, db.Put(key, first.Encode()))
	got, found, err := dbmap.GetAs(db, key, DecodeRecord)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, first, got)

	// The transform sees the previous record, never the one just written.
	prev, replaced, err := dbmap.ReplaceAs(db, key, second.Encode(), DecodeRecord)
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, first, prev)

	got, found, err = dbmap.GetAs(db, key, DecodeRecord)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, second, got)
}

func testConcurrentDistinctKeys(t *testing.T, db dbmap.Map) {
	const (
		writers       = 8
		keysPerWriter = 32
	)

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			handle := db.Clone()
			for i := 0; i < keysPerWriter; i++ {
				key := []byte(fmt.Sprintf("writer-%d-key-%d", w, i))
				value := []byte(fmt.Sprintf("writer-%d-value-%d", w, i))
				if err := handle.Put(key, value); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Every key is independently retrievable with its own value.
	for w := 0; w < writers; w++ {
		for i := 0; i < keysPerWriter; i++ {
			key := []byte(fmt.Sprintf("writer-%d-key-%d", w, i))
			want := []byte(fmt.Sprintf("writer-%d-value-%d", w, i))
			got, found, err := dbmap.Get(db, key)
			require.NoError(t, err)
			require.True(t, found, "missing %s", key)
			require.Equal(t, want, got)
		}
	}
}

func testAcceptanceVectors(t *testing.T, db dbmap.Map) {
	key := []byte{0x13, 0x57}
	value := []byte{0xFE, 0xDC}

	require.NoError(t, db.Put(key, value))
	got, found, err := dbmap.Get(db, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, value, got)
	require.NoError(t, db.Delete(key))
	_, found, err = dbmap.Get(db, key)
	require.NoError(t, err)
	require.False(t, found)

	key = []byte{0x01}
	_, replaced, err := dbmap.Replace(db, key, []byte{0xAA})
	require.NoError(t, err)
	require.False(t, replaced)
	prev, replaced, err := dbmap.Replace(db, key, []byte{0xBB})
	require.NoError(t, err)
	require.True(t, replaced)
	require.Equal(t, []byte{0xAA}, prev)
	got, found, err = dbmap.Get(db, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{0xBB}, got)
}

// Random data bounds, matching the generators the suite has always used.
const (
	randomKeyMax   = 20
	randomValueMax = 100
)

func randomKey(rt *rapid.T, label string) []byte {
	return rapid.SliceOfN(rapid.Byte(), 1, randomKeyMax).Draw(rt, label)
}

func randomValue(rt *rapid.T, label string) []byte {
	return rapid.SliceOfN(rapid.Byte(), 0, randomValueMax).Draw(rt, label)
}

func testRandomInsert(t *testing.T, db dbmap.Map) {
	rapid.Check(t, func(rt *rapid.T) {
		key := randomKey(rt, "key")
		value := randomValue(rt, "value")

		require.NoError(rt, db.Put(key, value))
		got, found, err := dbmap.Get(db, key)
		require.NoError(rt, err)
		require.True(rt, found)
		require.True(rt, bytes.Equal(value, got))

		// Remove the key so later iterations start from a clean slate.
		require.NoError(rt, db.Delete(key))
		_, found, err = dbmap.Get(db, key)
		require.NoError(rt, err)
		require.False(rt, found)
	})
}

func testRandomReplaceChain(t *testing.T, db dbmap.Map) {
	rapid.Check(t, func(rt *rapid.T) {
		key := randomKey(rt, "key")
		values := rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 0, randomValueMax), 2, 6).Draw(rt, "values")

		var last []byte
		replacedBefore := false
		for _, value := range values {
			prev, replaced, err := dbmap.Replace(db, key, value)
			require.NoError(rt, err)
			require.Equal(rt, replacedBefore, replaced)
			if replaced {
				require.True(rt, bytes.Equal(last, prev))
			}
			last = value
			replacedBefore = true
		}

		got, found, err := dbmap.Get(db, key)
		require.NoError(rt, err)
		require.True(rt, found)
		require.True(rt, bytes.Equal(last, got))

		require.NoError(rt, db.Delete(key))
	})
}

func testRandomStringData(t *testing.T, db dbmap.Map) {
	rapid.Check(t, func(rt *rapid.T) {
		key := []byte(rapid.StringMatching(`[a-zA-Z0-9_.-]{1,20}`).Draw(rt, "key"))
		value := []byte(rapid.StringMatching(`[ -~]{0,100}`).Draw(rt, "value"))

		require.NoError(rt, db.Put(key, value))
		got, _, err := dbmap.GetAs(db, key, func(v []byte) string { return string(v) })
		require.NoError(rt, err)
		require.Equal(rt, string(value), got)

		require.NoError(rt, db.Delete(key))
	})
}
