package reconciler

import "errors"

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	// ErrStaleUpdate marks an update whose sequence marker is not strictly
	// later than the current snapshot's. The update is dropped without any
	// state change; receiving one is benign and callers normally ignore it.
	ErrStaleUpdate = errors.New("stale update")

	// ErrInconsistentUpdate means the local replica disagrees with observed
	// chain state. The replica must not be trusted for further quoting until
	// it is re-synchronized from the initial-state loader.
	ErrInconsistentUpdate = errors.New("inconsistent update")

	// ErrInvalidUpdate marks an update that is malformed on its face, before
	// any comparison with local state.
	ErrInvalidUpdate = errors.New("invalid update")
)
