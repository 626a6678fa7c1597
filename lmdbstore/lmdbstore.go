// Package lmdbstore implements the dbmap contract on top of an LMDB
// environment. Every public operation opens exactly one transaction,
// performs one logical action and commits or aborts it before returning;
// transactions are never exposed to callers.
//
// Readers run concurrently with each other and with at most one writer, and
// each read observes a consistent snapshot as of the moment its transaction
// began. No operation retries internally: every engine-reported failure
// (map full, reader-slot exhaustion, I/O error) is surfaced to the caller.
package lmdbstore

import (
	"os"
	"syscall"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/pkg/errors"

	"github.com/myuser/dbmap"
)

// DefaultFileMode is applied to newly created environment files when
// Options.FileMode is zero.
const DefaultFileMode os.FileMode = 0o644

// Options configures Open. The zero value of every field selects the
// engine's built-in default.
type Options struct {
	// FileMode sets the permissions of a newly created environment file.
	FileMode os.FileMode

	// EnvFlags is passed through to the environment open call, e.g.
	// lmdb.NoSync or lmdb.NoReadahead.
	EnvFlags uint

	// MaxDBs reserves slots for named sub-databases. It must be set when
	// opening a named database; applications using only the unnamed root
	// database can leave it zero.
	MaxDBs int

	// MaxReaders sizes the reader lock table.
	MaxReaders int

	// MapSize sets the size of the memory map, which is also the maximum
	// size of the database.
	MapSize int64
}

// Store is a handle to one database inside an LMDB environment. Copying a
// Store (or calling Clone) shares the environment and database references:
// all copies read and write the same store.
type Store struct {
	env *lmdb.Env
	dbi lmdb.DBI
}

var _ dbmap.Map = Store{}

// Open opens the database named name inside the LMDB environment rooted at
// path, creating both as needed. An empty name selects the unnamed root
// database; a non-empty name requires Options.MaxDBs to be set.
func Open(path string, name string, opts Options) (Store, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Store{}, dbmap.IOError(errors.Wrap(err, "create environment directory"))
	}
	env, err := lmdb.NewEnv()
	if err != nil {
		return Store{}, dbmap.EngineError(errors.Wrap(err, "create environment"))
	}
	if opts.MaxDBs > 0 {
		if err := env.SetMaxDBs(opts.MaxDBs); err != nil {
			env.Close()
			return Store{}, dbmap.EngineError(errors.Wrap(err, "set max dbs"))
		}
	}
	if opts.MaxReaders > 0 {
		if err := env.SetMaxReaders(opts.MaxReaders); err != nil {
			env.Close()
			return Store{}, dbmap.EngineError(errors.Wrap(err, "set max readers"))
		}
	}
	if opts.MapSize > 0 {
		if err := env.SetMapSize(opts.MapSize); err != nil {
			env.Close()
			return Store{}, dbmap.EngineError(errors.Wrap(err, "set map size"))
		}
	}
	mode := opts.FileMode
	if mode == 0 {
		mode = DefaultFileMode
	}
	if err := env.Open(path, opts.EnvFlags, mode); err != nil {
		env.Close()
		if isFilesystemErr(err) {
			return Store{}, dbmap.IOError(errors.Wrap(err, "open environment"))
		}
		return Store{}, dbmap.EngineError(errors.Wrap(err, "open environment"))
	}
	var dbi lmdb.DBI
	err = env.Update(func(txn *lmdb.Txn) (err error) {
		if name == "" {
			dbi, err = txn.OpenRoot(0)
		} else {
			dbi, err = txn.OpenDBI(name, lmdb.Create)
		}
		return err
	})
	if err != nil {
		env.Close()
		return Store{}, dbmap.EngineError(errors.Wrap(err, "open database"))
	}
	return Store{env: env, dbi: dbi}, nil
}

// Clone returns a handle sharing the same environment and database.
func (s Store) Clone() dbmap.Map { return s }

// GetWith looks up key in a read-only transaction and invokes fn with the
// value bytes mapped inside it. The slice points into the memory map and is
// valid only until fn returns; fn must not retain it and must not operate
// on the same handle.
func (s Store) GetWith(key []byte, fn func(value []byte)) (bool, error) {
	var found bool
	err := s.env.View(func(txn *lmdb.Txn) error {
		txn.RawRead = true
		value, err := txn.Get(s.dbi, key)
		if lmdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		fn(value)
		return nil
	})
	if err != nil {
		return false, dbmap.EngineError(errors.Wrap(err, "get"))
	}
	return found, nil
}

// Put stores value under key in a single write transaction. A failed commit
// leaves the store in its pre-transaction state.
func (s Store) Put(key, value []byte) error {
	err := s.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(s.dbi, key, value, 0)
	})
	if err != nil {
		return dbmap.EngineError(errors.Wrap(err, "put"))
	}
	return nil
}

// ReplaceWith reads the previous value, invokes fn on it and stores the new
// value, all inside one write transaction. LMDB's single-writer discipline
// means no concurrent writer can interleave between the read and the write.
func (s Store) ReplaceWith(key, value []byte, fn func(prev []byte)) (bool, error) {
	var replaced bool
	err := s.env.Update(func(txn *lmdb.Txn) error {
		txn.RawRead = true
		prev, err := txn.Get(s.dbi, key)
		switch {
		case lmdb.IsNotFound(err):
		case err != nil:
			return err
		default:
			// fn must run before the put: the put can remap the page the
			// previous value lives on.
			replaced = true
			fn(prev)
		}
		return txn.Put(s.dbi, key, value, 0)
	})
	if err != nil {
		return false, dbmap.EngineError(errors.Wrap(err, "replace"))
	}
	return replaced, nil
}

// Delete removes the entry for key in a single write transaction. Deleting
// an absent key is a no-op, not an error.
func (s Store) Delete(key []byte) error {
	err := s.env.Update(func(txn *lmdb.Txn) error {
		err := txn.Del(s.dbi, key, nil)
		if lmdb.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return dbmap.EngineError(errors.Wrap(err, "delete"))
	}
	return nil
}

// Sync flushes buffered writes to disk. With a default environment this is
// implicit on commit; it matters when the environment was opened with
// lmdb.NoSync or lmdb.MapAsync.
func (s Store) Sync(force bool) error {
	if err := s.env.Sync(force); err != nil {
		return dbmap.EngineError(errors.Wrap(err, "sync"))
	}
	return nil
}

// Close releases the environment: file handles, locks and the memory map.
// It affects every clone of the handle; no operation may be in flight or
// issued afterwards on any of them.
func (s Store) Close() error {
	if err := s.env.Close(); err != nil {
		return dbmap.EngineError(errors.Wrap(err, "close environment"))
	}
	return nil
}

func isFilesystemErr(err error) bool {
	for _, errno := range []syscall.Errno{
		syscall.ENOENT,
		syscall.EACCES,
		syscall.EPERM,
		syscall.ENOTDIR,
		syscall.ENOSPC,
	} {
		if lmdb.IsErrnoSys(err, errno) {
			return true
		}
	}
	return false
}
