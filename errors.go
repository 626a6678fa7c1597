package dbmap

import "errors"

// Kind classifies a failure reported by a storage engine.
type Kind int

const (
	// KindIO marks local I/O failures: permissions, disk, filesystem.
	KindIO Kind = iota
	// KindEngine marks failures reported by the underlying storage engine,
	// opaque beyond their message.
	KindEngine
)

// Error is the error type returned by every Map operation. A non-nil Error
// means the requested read or write did not happen: writes were aborted and
// reads returned no value.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIO:
		return "dbmap: io: " + e.Err.Error()
	default:
		return "dbmap: engine: " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IOError wraps err as a local I/O failure. Returns nil when err is nil.
func IOError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Err: err}
}

// EngineError wraps err as an underlying-engine failure. Returns nil when
// err is nil.
func EngineError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindEngine, Err: err}
}

// IsIO reports whether err is an I/O failure.
func IsIO(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindIO
}

// IsEngine reports whether err is an underlying-engine failure.
func IsEngine(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindEngine
}
