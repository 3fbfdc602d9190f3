package mysql

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

// maxLockName is the longest name GET_LOCK accepts.
const maxLockName = 64

// Locker implements store.Locker with GET_LOCK named locks held on a
// dedicated connection.
type Locker struct {
	db *sql.DB
}

// NewLocker creates a named-lock locker.
func NewLocker(db *sql.DB) *Locker {
	return &Locker{db: db}
}

func lockName(ns string) string {
	name := "migrator:" + ns
	if len(name) <= maxLockName {
		return name
	}
	sum := sha256.Sum256([]byte(ns))
	return "migrator:" + hex.EncodeToString(sum[:16])
}

// Acquire implements store.Locker.
func (l *Locker) Acquire(ctx context.Context, ns string, mode migrator.LockMode) (store.Lease, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get lock connection: %w", err)
	}

	timeout := 0
	if mode == migrator.LockWait {
		timeout = -1
	}

	name := lockName(ns)
	var acquired sql.NullInt64
	if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, ?)`, name, timeout).Scan(&acquired); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to acquire named lock: %w", err)
	}
	if !acquired.Valid || acquired.Int64 != 1 {
		_ = conn.Close()
		return nil, &migrator.MigrationInProgressError{Namespace: ns}
	}
	return &namedLease{conn: conn, name: name}, nil
}

type namedLease struct {
	once sync.Once
	conn *sql.Conn
	name string
	err  error
}

func (l *namedLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		var released sql.NullInt64
		if err := l.conn.QueryRowContext(ctx, `SELECT RELEASE_LOCK(?)`, l.name).Scan(&released); err != nil {
			l.err = fmt.Errorf("failed to release named lock: %w", err)
		}
		if err := l.conn.Close(); err != nil && l.err == nil {
			l.err = fmt.Errorf("failed to close lock connection: %w", err)
		}
	})
	return l.err
}
