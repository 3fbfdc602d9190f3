package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

// Locker implements store.Locker with session-level advisory locks. Each
// lease pins one pooled connection; the lock dies with that connection, so a
// crashed migrator never leaves a namespace locked.
type Locker struct {
	db     *sql.DB
	prefix string
}

// NewLocker creates an advisory locker. Keys are "migrator:<namespace>".
func NewLocker(db *sql.DB) *Locker {
	return &Locker{db: db, prefix: "migrator:"}
}

func (l *Locker) key(ns string) string {
	return l.prefix + ns
}

// Acquire implements store.Locker.
func (l *Locker) Acquire(ctx context.Context, ns string, mode migrator.LockMode) (store.Lease, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get lock connection: %w", err)
	}

	key := l.key(ns)
	if mode == migrator.LockWait {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
		return &advisoryLease{conn: conn, key: key}, nil
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, &migrator.MigrationInProgressError{Namespace: ns}
	}
	return &advisoryLease{conn: conn, key: key}, nil
}

type advisoryLease struct {
	once sync.Once
	conn *sql.Conn
	key  string
	err  error
}

func (l *advisoryLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		if _, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.key); err != nil {
			l.err = fmt.Errorf("failed to release advisory lock: %w", err)
		}
		if err := l.conn.Close(); err != nil && l.err == nil {
			l.err = fmt.Errorf("failed to close lock connection: %w", err)
		}
	})
	return l.err
}
