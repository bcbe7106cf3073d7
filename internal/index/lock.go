package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/docdex/docdex/internal/errors"
)

// Lock is an advisory file lock guarding the index database against
// concurrent reindex runs.
type Lock struct {
	fl *flock.Flock
}

// NewLock creates a lock for the database at dbPath. The lock file lives next
// to the database as <db>.lock.
func NewLock(dbPath string) *Lock {
	return &Lock{fl: flock.New(dbPath + ".lock")}
}

// Acquire takes the lock without blocking. A held lock is an error, not a
// wait: a second reindex against the same database has nothing useful to do.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755); err != nil {
		return errors.IOError("failed to create database directory", err)
	}
	locked, err := l.fl.TryLock()
	if err != nil {
		return errors.IOError(fmt.Sprintf("failed to acquire index lock %s", l.fl.Path()), err)
	}
	if !locked {
		return errors.New(errors.ErrCodeDatabaseLocked,
			"another docdex process is indexing this database", nil).
			WithSuggestion("Wait for the running index operation to finish, then retry").
			WithDetail("lock_file", l.fl.Path())
	}
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
