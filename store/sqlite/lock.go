package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/gofrs/flock"
)

// DefaultRetryDelay is how often a waiting Acquire retries the file lock.
const DefaultRetryDelay = 50 * time.Millisecond

// Locker implements store.Locker with advisory file locks next to the
// namespace files. Locks are held per open file, so they exclude other
// processes and other Lockers in this process alike.
type Locker struct {
	dir        string
	retryDelay time.Duration
}

// NewLocker creates a file locker for the data directory.
func NewLocker(dir string) *Locker {
	return &Locker{dir: dir, retryDelay: DefaultRetryDelay}
}

func (l *Locker) path(ns string) string {
	return filepath.Join(l.dir, "."+ns+".lock")
}

// Acquire implements store.Locker.
func (l *Locker) Acquire(ctx context.Context, ns string, mode migrator.LockMode) (store.Lease, error) {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fl := flock.New(l.path(ns))

	var locked bool
	var err error
	if mode == migrator.LockWait {
		locked, err = fl.TryLockContext(ctx, l.retryDelay)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	} else {
		locked, err = fl.TryLock()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	if !locked {
		return nil, &migrator.MigrationInProgressError{Namespace: ns}
	}
	return &fileLease{fl: fl}, nil
}

type fileLease struct {
	once sync.Once
	fl   *flock.Flock
	err  error
}

func (l *fileLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if err := l.fl.Unlock(); err != nil {
			l.err = fmt.Errorf("failed to release file lock: %w", err)
		}
	})
	return l.err
}
