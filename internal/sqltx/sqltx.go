// Package sqltx adapts database/sql transactions to migrator.Tx.
package sqltx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/getpup/pupsourcing-migrator"
)

// Execer is satisfied by *sql.Tx, *sql.Conn and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type tx struct {
	exec Execer
}

// Wrap returns a migrator.Tx executing through e.
func Wrap(e Execer) migrator.Tx {
	return tx{exec: e}
}

func (t tx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.exec.ExecContext(ctx, query, args...)
	return err
}

// Beginner starts transactions. *sql.DB and *sql.Conn implement it.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Do runs fn in a transaction, committing if fn returns nil and rolling back
// otherwise.
func Do(ctx context.Context, db Beginner, fn func(*sql.Tx) error) (err error) {
	t, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = t.Rollback()
		}
	}()

	if err = fn(t); err != nil {
		return err
	}

	if err = t.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
