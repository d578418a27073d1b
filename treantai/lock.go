package treantai

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

var ErrAlreadyRunning = errors.New("another instance holds the lock file")

// instanceLock prevents two bot processes from sharing a lock file, so
// the same bot token isn't connected twice from one host
type instanceLock struct {
	path  string
	flock *flock.Flock
}

func newInstanceLock(path string) *instanceLock {
	return &instanceLock{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking, returning ErrAlreadyRunning if
// another process holds it
func (l *instanceLock) Acquire() error {
	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("error locking %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, l.path)
	}
	return nil
}

func (l *instanceLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("error unlocking %s: %w", l.path, err)
	}
	return nil
}
