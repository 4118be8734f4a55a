// Package lock provides cross-process advisory file locking for
// read-modify-write operations that must be serialized across separate
// invocations of the mesh core (CLI and server alike).
package lock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Acquire opens a lock file at path and blocks until an exclusive
// advisory lock is held. The returned cleanup function releases the lock
// and closes the underlying file descriptor; callers must defer it.
func Acquire(path string) (func(), error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring flock %s: %w", path, err)
	}
	return func() {
		_ = fl.Unlock() //nolint:errcheck
	}, nil
}

// TryAcquire attempts a non-blocking exclusive advisory lock on path.
// Returns (cleanup, true, nil) on success, (nil, false, nil) if another
// process already holds it.
func TryAcquire(path string) (func(), bool, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring flock %s: %w", path, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		_ = fl.Unlock() //nolint:errcheck
	}, true, nil
}
