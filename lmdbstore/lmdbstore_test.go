package lmdbstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/PowerDNS/lmdb-go/lmdb"

	"github.com/myuser/dbmap"
	"github.com/myuser/dbmap/dbmaptest"
)

func openTemp(t *testing.T, name string, opts Options) Store {
	t.Helper()
	s, err := Open(t.TempDir(), name, opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	dbmaptest.Run(t, func(t *testing.T) dbmap.Map {
		return openTemp(t, "", Options{})
	})
}

func TestConformanceNamedDB(t *testing.T) {
	dbmaptest.Run(t, func(t *testing.T) dbmap.Map {
		return openTemp(t, "conformance", Options{MaxDBs: 4})
	})
}

func TestReopenRecoversEntries(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	for i := 0; i < 16; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		value := []byte(fmt.Sprintf("value-%d", i))
		if err := s.Put(key, value); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening the same path must see every committed entry.
	s, err = Open(dir, "", Options{})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	for i := 0; i < 16; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		want := []byte(fmt.Sprintf("value-%d", i))
		got, found, err := dbmap.Get(s, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !found || !bytes.Equal(got, want) {
			t.Errorf("key %s: found=%v got=%q want %q", key, found, got, want)
		}
	}
}

func TestNamedDatabasesAreIsolated(t *testing.T) {
	dir := t.TempDir()
	opts := Options{MaxDBs: 2}

	alpha, err := Open(dir, "alpha", opts)
	if err != nil {
		t.Fatalf("open alpha: %v", err)
	}
	if err := alpha.Put([]byte("k"), []byte("alpha-value")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := alpha.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	beta, err := Open(dir, "beta", opts)
	if err != nil {
		t.Fatalf("open beta: %v", err)
	}
	_, found, err := dbmap.Get(beta, []byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("beta sees alpha's key")
	}
	if err := beta.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	alpha, err = Open(dir, "alpha", opts)
	if err != nil {
		t.Fatalf("reopen alpha: %v", err)
	}
	defer alpha.Close()
	got, found, err := dbmap.Get(alpha, []byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || !bytes.Equal(got, []byte("alpha-value")) {
		t.Errorf("alpha lost its key: found=%v got=%q", found, got)
	}
}

func TestNamedDatabaseNeedsSlots(t *testing.T) {
	// MaxDBs defaults to zero named slots, so opening a named database
	// must fail with an engine error, not a panic or an I/O error.
	_, err := Open(t.TempDir(), "no-slots", Options{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !dbmap.IsEngine(err) {
		t.Errorf("want engine failure, got %v", err)
	}
}

func TestOpenPathIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := Open(path, "", Options{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !dbmap.IsIO(err) {
		t.Errorf("want I/O failure, got %v", err)
	}
}

func TestFileModeAppliedToDataFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "", Options{FileMode: 0o600})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	info, err := os.Stat(filepath.Join(dir, "data.mdb"))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("data.mdb mode = %o, want 600", perm)
	}
}

func TestMapSizeIsStorageCeiling(t *testing.T) {
	s := openTemp(t, "", Options{MapSize: 1 << 16})

	value := make([]byte, 1024)
	var putErr error
	for i := 0; i < 1024; i++ {
		key := []byte(fmt.Sprintf("fill-%04d", i))
		if putErr = s.Put(key, value); putErr != nil {
			break
		}
	}
	if putErr == nil {
		t.Fatal("filled far past the configured map size without an error")
	}
	if !dbmap.IsEngine(putErr) {
		t.Errorf("want engine failure, got %v", putErr)
	}
}

func TestNoSyncFlagAndExplicitSync(t *testing.T) {
	s := openTemp(t, "", Options{EnvFlags: lmdb.NoSync})

	if err := s.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Sync(true); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

func TestCloneSharesEnvironment(t *testing.T) {
	s := openTemp(t, "", Options{})
	clone := s.Clone()

	if err := s.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, found, err := dbmap.Get(clone, []byte("k"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || !bytes.Equal(got, []byte("v")) {
		t.Errorf("clone did not observe the write: found=%v got=%q", found, got)
	}
}

func TestMaxReadersAccepted(t *testing.T) {
	s := openTemp(t, "", Options{MaxReaders: 8})

	if err := s.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, _, err := dbmap.Get(s, []byte("k")); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}
