package memory

import (
	"context"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

// Locker is an in-process implementation of store.Locker. Each namespace
// owns a one-slot semaphore.
type Locker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocker creates a new in-process locker.
func NewLocker() *Locker {
	return &Locker{
		slots: make(map[string]chan struct{}),
	}
}

func (l *Locker) slot(ns string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[ns]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[ns] = ch
	}
	return ch
}

// Acquire implements store.Locker.
func (l *Locker) Acquire(ctx context.Context, ns string, mode migrator.LockMode) (store.Lease, error) {
	ch := l.slot(ns)

	if mode == migrator.LockWait {
		select {
		case ch <- struct{}{}:
			return &lease{slot: ch}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case ch <- struct{}{}:
		return &lease{slot: ch}, nil
	default:
		return nil, &migrator.MigrationInProgressError{Namespace: ns}
	}
}

// Held reports whether the namespace is currently locked.
func (l *Locker) Held(ns string) bool {
	return len(l.slot(ns)) == 1
}

type lease struct {
	once sync.Once
	slot chan struct{}
}

func (l *lease) Release(ctx context.Context) error {
	l.once.Do(func() { <-l.slot })
	return nil
}
