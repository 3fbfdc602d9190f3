package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/internal/sqlreport"
	"github.com/getpup/pupsourcing-migrator/internal/sqltx"
	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE codes raised when concurrent sessions create the same object.
const (
	codeDuplicateSchema = "42P06"
	codeDuplicateTable  = "42P07"
	codeUniqueViolation = "23505"
)

// Store is a PostgreSQL implementation of store.NamespaceStore, store.Inspector
// and store.ReportStore. Each namespace is a schema. It works with both the
// lib/pq and the pgx stdlib drivers.
type Store struct {
	db           *sql.DB
	versionTable string
	reports      *sqlreport.Store
}

// New creates a new PostgreSQL store with default table names.
func New(db *sql.DB) *Store {
	config := DefaultTableConfig()
	return NewWithConfig(db, config)
}

// NewWithConfig creates a new PostgreSQL store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:           db,
		versionTable: config.VersionTable,
		reports:      sqlreport.New(db, migrations.Postgres, config.history()),
	}
}

func (s *Store) qualifiedVersionTable(ns string) string {
	return pq.QuoteIdentifier(ns) + "." + pq.QuoteIdentifier(s.versionTable)
}

// sqlState extracts the SQLSTATE from either driver's error type.
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isDuplicate(err error) bool {
	switch sqlState(err) {
	case codeDuplicateSchema, codeDuplicateTable, codeUniqueViolation:
		return true
	}
	return false
}

// NamespaceExists reports whether the schema exists.
func (s *Store) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`, ns,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check schema: %w", err)
	}
	return exists, nil
}

// CreateNamespace creates the schema and its version table. Losing a creation
// race against another session is not an error.
func (s *Store) CreateNamespace(ctx context.Context, ns string) error {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(ns)); err != nil && !isDuplicate(err) {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	query := migrations.VersionTableSQL(migrations.Postgres, s.qualifiedVersionTable(ns))
	if _, err := s.db.ExecContext(ctx, query); err != nil && !isDuplicate(err) {
		return fmt.Errorf("failed to create version table: %w", err)
	}
	return nil
}

// CurrentRevision returns the recorded revision, or migrator.Base when the
// version table is absent or empty.
func (s *Store) CurrentRevision(ctx context.Context, ns string) (migrator.Revision, error) {
	table := s.qualifiedVersionTable(ns)

	var present bool
	if err := s.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&present); err != nil {
		return migrator.Base, fmt.Errorf("failed to look up version table: %w", err)
	}
	if !present {
		return migrator.Base, nil
	}

	var version string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT version_num FROM %s LIMIT 1`, table)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return migrator.Base, nil
	}
	if err != nil {
		return migrator.Base, fmt.Errorf("failed to read revision: %w", err)
	}
	return migrator.Revision(version), nil
}

// ApplyStep runs op with search_path pinned to the schema and records to in
// the same transaction. PostgreSQL DDL is transactional, so a failed step
// leaves neither schema changes nor a new revision behind.
func (s *Store) ApplyStep(ctx context.Context, ns string, op migrator.Operation, to migrator.Revision) error {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return err
	}
	table := s.qualifiedVersionTable(ns)

	return sqltx.Do(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SET LOCAL search_path TO "+pq.QuoteIdentifier(ns)); err != nil {
			return fmt.Errorf("failed to set search_path: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migrations.VersionTableSQL(migrations.Postgres, table)); err != nil {
			return fmt.Errorf("failed to ensure version table: %w", err)
		}

		if op != nil {
			if err := op(ctx, sqltx.Wrap(tx)); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return fmt.Errorf("failed to clear revision: %w", err)
		}
		if to != migrator.Base {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (version_num) VALUES ($1)`, table), string(to)); err != nil {
				return fmt.Errorf("failed to record revision: %w", err)
			}
		}
		return nil
	})
}

// ListNamespaces returns every user schema, sorted.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT LIKE 'pg\_%' AND schema_name <> 'information_schema'
		ORDER BY schema_name
	`)
}

// ListTables returns the base tables of the schema, sorted.
func (s *Store) ListTables(ctx context.Context, ns string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, ns)
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) (out []string, err error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// EnsureHistoryTables creates the run history tables if needed.
func (s *Store) EnsureHistoryTables(ctx context.Context) error {
	return s.reports.EnsureTables(ctx)
}

// SaveReport implements store.ReportStore.
func (s *Store) SaveReport(ctx context.Context, report *migrator.FleetRunReport) error {
	return s.reports.SaveReport(ctx, report)
}

// GetReport implements store.ReportStore.
func (s *Store) GetReport(ctx context.Context, id string) (*migrator.FleetRunReport, error) {
	return s.reports.GetReport(ctx, id)
}

// ListReports implements store.ReportStore.
func (s *Store) ListReports(ctx context.Context, chain string, limit int) ([]*migrator.FleetRunReport, error) {
	return s.reports.ListReports(ctx, chain, limit)
}
