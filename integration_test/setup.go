//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	pgstore "github.com/getpup/pupsourcing-migrator/store/postgres"
	"github.com/lib/pq"
)

// getTestDB returns a database connection for integration tests.
// It reads the DATABASE_URL environment variable and skips the test if not set.
func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

// setupTables creates the run history tables using the default configuration.
func setupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	config := pgstore.DefaultTableConfig()
	if _, err := db.Exec(pgstore.MigrationUp(config)); err != nil {
		t.Fatalf("failed to create tables: %v", err)
	}
}

// cleanupTables empties the run history tables.
// Errors are logged but don't fail the test.
func cleanupTables(t *testing.T, db *sql.DB) {
	t.Helper()

	config := pgstore.DefaultTableConfig()
	if _, err := db.Exec("TRUNCATE " + config.RunTenantsTable + ", " + config.RunsTable + " CASCADE"); err != nil {
		t.Logf("warning: failed to truncate history tables: %v", err)
	}
}

// teardownTables drops the run history tables.
// Errors are logged but don't fail the test.
func teardownTables(t *testing.T, db *sql.DB) {
	t.Helper()

	config := pgstore.DefaultTableConfig()
	if _, err := db.Exec(pgstore.MigrationDown(config)); err != nil {
		t.Logf("warning: failed to drop tables: %v", err)
	}
}

// tenantPrefix returns a prefix unique to the test and drops every schema
// carrying it when the test ends.
func tenantPrefix(t *testing.T, db *sql.DB) string {
	t.Helper()

	prefix := fmt.Sprintf("it%d_", time.Now().UnixNano())
	t.Cleanup(func() {
		rows, err := db.Query(`SELECT schema_name FROM information_schema.schemata WHERE schema_name LIKE $1`, prefix+"%")
		if err != nil {
			t.Logf("warning: failed to list test schemas: %v", err)
			return
		}
		var schemas []string
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err == nil {
				schemas = append(schemas, s)
			}
		}
		_ = rows.Close()

		for _, s := range schemas {
			if _, err := db.Exec("DROP SCHEMA IF EXISTS " + pq.QuoteIdentifier(s) + " CASCADE"); err != nil {
				t.Logf("warning: failed to drop schema %s: %v", s, err)
			}
		}
	})
	return prefix
}

// createTenants creates n empty tenant schemas named prefix0..prefix(n-1).
func createTenants(t *testing.T, s *pgstore.Store, prefix string, n int) []string {
	t.Helper()

	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%02d", prefix, i)
		if err := s.CreateNamespace(context.Background(), names[i]); err != nil {
			t.Fatalf("failed to create %s: %v", names[i], err)
		}
	}
	return names
}
