// Package mysql implements the store interfaces on MySQL, where each
// namespace is a database.
//
// MySQL commits DDL implicitly, so a step containing DDL is not atomic: when
// a later statement of the step fails, earlier DDL statements stay applied
// while the recorded revision does not advance. Keep MySQL steps to a single
// DDL statement where possible.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/internal/sqlreport"
	"github.com/getpup/pupsourcing-migrator/internal/sqltx"
	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers.
const (
	errDBCreateExists = 1007
	errTableExists    = 1050
	errNoSuchTable    = 1146
)

var systemDatabases = map[string]bool{
	"information_schema": true,
	"mysql":              true,
	"performance_schema": true,
	"sys":                true,
}

// TableConfig configures the table names used by the migrator.
type TableConfig struct {
	VersionTable    string
	RunsTable       string
	RunTenantsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		VersionTable:    migrator.VersionTable,
		RunsTable:       "migrator_runs",
		RunTenantsTable: "migrator_run_tenants",
	}
}

// Store is a MySQL implementation of store.NamespaceStore, store.Inspector
// and store.ReportStore. History tables live in the connection's default
// database.
type Store struct {
	db           *sql.DB
	versionTable string
	reports      *sqlreport.Store
}

// New creates a new MySQL store with default table names.
func New(db *sql.DB) *Store {
	return NewWithConfig(db, DefaultTableConfig())
}

// NewWithConfig creates a new MySQL store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:           db,
		versionTable: config.VersionTable,
		reports: sqlreport.New(db, migrations.MySQL, migrations.Tables{
			Runs:       config.RunsTable,
			RunTenants: config.RunTenantsTable,
		}),
	}
}

// NormalizeDSN parses dsn and enables the options the store relies on.
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (s *Store) qualifiedVersionTable(ns string) string {
	return quote(ns) + "." + quote(s.versionTable)
}

func errorNumber(err error) uint16 {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number
	}
	return 0
}

// NamespaceExists reports whether the database exists.
func (s *Store) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?`, ns,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check database: %w", err)
	}
	return n > 0, nil
}

// CreateNamespace creates the database and its version table.
func (s *Store) CreateNamespace(ctx context.Context, ns string) error {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+quote(ns)); err != nil && errorNumber(err) != errDBCreateExists {
		return fmt.Errorf("failed to create database: %w", err)
	}

	query := migrations.VersionTableSQL(migrations.MySQL, s.qualifiedVersionTable(ns))
	if _, err := s.db.ExecContext(ctx, query); err != nil && errorNumber(err) != errTableExists {
		return fmt.Errorf("failed to create version table: %w", err)
	}
	return nil
}

// CurrentRevision returns the recorded revision, or migrator.Base when the
// version table is absent or empty.
func (s *Store) CurrentRevision(ctx context.Context, ns string) (migrator.Revision, error) {
	var version string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT version_num FROM %s LIMIT 1`, s.qualifiedVersionTable(ns)),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) || errorNumber(err) == errNoSuchTable {
		return migrator.Base, nil
	}
	if err != nil {
		return migrator.Base, fmt.Errorf("failed to read revision: %w", err)
	}
	return migrator.Revision(version), nil
}

// ApplyStep runs op on a dedicated connection whose default database is the
// namespace. The connection is discarded afterwards so the pool never hands
// out a connection pointing at a tenant database.
func (s *Store) ApplyStep(ctx context.Context, ns string, op migrator.Operation, to migrator.Revision) (err error) {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() {
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		_ = conn.Close()
	}()

	if _, err := conn.ExecContext(ctx, "USE "+quote(ns)); err != nil {
		return fmt.Errorf("failed to select database: %w", err)
	}
	table := s.qualifiedVersionTable(ns)
	if _, err := conn.ExecContext(ctx, migrations.VersionTableSQL(migrations.MySQL, table)); err != nil {
		return fmt.Errorf("failed to ensure version table: %w", err)
	}

	return sqltx.Do(ctx, conn, func(tx *sql.Tx) error {
		if op != nil {
			if err := op(ctx, sqltx.Wrap(tx)); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
			return fmt.Errorf("failed to clear revision: %w", err)
		}
		if to != migrator.Base {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (version_num) VALUES (?)`, table), string(to)); err != nil {
				return fmt.Errorf("failed to record revision: %w", err)
			}
		}
		return nil
	})
}

// ListNamespaces returns every non-system database, sorted.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	names, err := s.queryStrings(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if !systemDatabases[strings.ToLower(n)] {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListTables returns the base tables of the database, sorted.
func (s *Store) ListTables(ctx context.Context, ns string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
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
