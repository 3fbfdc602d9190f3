// Package sqlite implements the store interfaces on SQLite, where each
// namespace is a database file in a shared directory.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/internal/sqlreport"
	"github.com/getpup/pupsourcing-migrator/internal/sqltx"
	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// namespaceExt is the file extension of namespace databases.
	namespaceExt = ".db"

	// HistoryFile holds the run history tables. Its extension keeps it out of
	// ListNamespaces.
	HistoryFile = "migrator_history.sqlite"
)

// Store is a SQLite implementation of store.NamespaceStore, store.Inspector
// and store.ReportStore.
type Store struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*sql.DB

	history *sql.DB
	reports *sqlreport.Store
}

// Open creates the directory if needed and opens the history database.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	history, err := openFile(filepath.Join(dir, HistoryFile))
	if err != nil {
		return nil, err
	}

	return &Store{
		dir:     dir,
		dbs:     make(map[string]*sql.DB),
		history: history,
		reports: sqlreport.New(history, migrations.SQLite, migrations.Tables{
			Runs:       "migrator_runs",
			RunTenants: "migrator_run_tenants",
		}),
	}, nil
}

func openFile(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(ns string) string {
	return filepath.Join(s.dir, ns+namespaceExt)
}

// db returns the cached handle of an existing namespace file.
func (s *Store) db(ns string) (*sql.DB, error) {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[ns]; ok {
		return db, nil
	}
	if _, err := os.Stat(s.path(ns)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &migrator.NamespaceNotFoundError{Namespace: ns}
		}
		return nil, fmt.Errorf("failed to stat namespace file: %w", err)
	}
	db, err := openFile(s.path(ns))
	if err != nil {
		return nil, err
	}
	s.dbs[ns] = db
	return db, nil
}

// Close closes every open database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for ns, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ns, err))
		}
		delete(s.dbs, ns)
	}
	if err := s.history.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NamespaceExists reports whether the namespace file exists.
func (s *Store) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(ns))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat namespace file: %w", err)
	}
	return true, nil
}

// CreateNamespace creates the namespace file and its version table.
func (s *Store) CreateNamespace(ctx context.Context, ns string) error {
	if err := migrator.ValidateNamespace(ns); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path(ns), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create namespace file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to create namespace file: %w", err)
	}

	db, err := s.db(ns)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, migrations.VersionTableSQL(migrations.SQLite, migrator.VersionTable)); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}
	return nil
}

// CurrentRevision returns the recorded revision, or migrator.Base when the
// version table is absent or empty.
func (s *Store) CurrentRevision(ctx context.Context, ns string) (migrator.Revision, error) {
	db, err := s.db(ns)
	if err != nil {
		return migrator.Base, err
	}

	var present int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, migrator.VersionTable,
	).Scan(&present); err != nil {
		return migrator.Base, fmt.Errorf("failed to look up version table: %w", err)
	}
	if present == 0 {
		return migrator.Base, nil
	}

	var version string
	err = db.QueryRowContext(ctx, `SELECT version_num FROM `+migrator.VersionTable+` LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return migrator.Base, nil
	}
	if err != nil {
		return migrator.Base, fmt.Errorf("failed to read revision: %w", err)
	}
	return migrator.Revision(version), nil
}

// ApplyStep runs op and records to in one transaction on the namespace file.
func (s *Store) ApplyStep(ctx context.Context, ns string, op migrator.Operation, to migrator.Revision) error {
	db, err := s.db(ns)
	if err != nil {
		return err
	}

	return sqltx.Do(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, migrations.VersionTableSQL(migrations.SQLite, migrator.VersionTable)); err != nil {
			return fmt.Errorf("failed to ensure version table: %w", err)
		}
		if op != nil {
			if err := op(ctx, sqltx.Wrap(tx)); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+migrator.VersionTable); err != nil {
			return fmt.Errorf("failed to clear revision: %w", err)
		}
		if to != migrator.Base {
			if _, err := tx.ExecContext(ctx, `INSERT INTO `+migrator.VersionTable+` (version_num) VALUES (?)`, string(to)); err != nil {
				return fmt.Errorf("failed to record revision: %w", err)
			}
		}
		return nil
	})
}

// ListNamespaces returns the namespaces found in the data directory, sorted.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, namespaceExt) {
			continue
		}
		ns := strings.TrimSuffix(name, namespaceExt)
		if migrator.ValidateNamespace(ns) == nil {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListTables returns the tables of the namespace, sorted.
func (s *Store) ListTables(ctx context.Context, ns string) (tables []string, err error) {
	db, err := s.db(ns)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
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
