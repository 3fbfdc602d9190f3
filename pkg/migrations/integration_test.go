//go:build integration

package migrations_test

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
)

// NOTE: Integration tests use string interpolation for SQL queries with validated
// configuration values. This is acceptable in test code as all config values are
// controlled by the test and have been validated by the migrations package.

func generate(t *testing.T, d migrations.Dialect, schema string) (migrations.Config, string) {
	t.Helper()

	config := migrations.Config{
		OutputFolder:    t.TempDir(),
		OutputFilename:  string(d) + "_integration.sql",
		SchemaName:      schema,
		RunsTable:       "runs",
		RunTenantsTable: "run_tenants",
	}
	if err := migrations.Generate(d, &config); err != nil {
		t.Fatalf("Failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	return config, string(migrationSQL)
}

func TestIntegrationPostgres(t *testing.T) {
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping PostgreSQL integration test")
	}

	config, migrationSQL := generate(t, migrations.Postgres, "migrator_gen_test")

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}
	// Running twice must be harmless.
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("Migration is not idempotent: %v", err)
	}

	_, err = db.Exec(fmt.Sprintf("INSERT INTO %s.runs (id, chain, target, policy, started_at, finished_at) VALUES ($1, 'tenant', 'B', 'fail_fast', NOW(), NOW())",
		config.SchemaName), "6f1c1a52-6c2e-4d1b-9c59-4b0f4f0e9a11")
	if err != nil {
		t.Fatalf("Failed to insert run: %v", err)
	}
	_, err = db.Exec(fmt.Sprintf("INSERT INTO %s.run_tenants (run_id, position, namespace, outcome) VALUES ($1, 0, 'tenant_a', 'succeeded')",
		config.SchemaName), "6f1c1a52-6c2e-4d1b-9c59-4b0f4f0e9a11")
	if err != nil {
		t.Fatalf("Failed to insert run tenant: %v", err)
	}
	_, err = db.Exec(fmt.Sprintf("INSERT INTO %s.run_tenants (run_id, position, namespace, outcome) VALUES ($1, 1, 'tenant_b', 'exploded')",
		config.SchemaName), "6f1c1a52-6c2e-4d1b-9c59-4b0f4f0e9a11")
	if err == nil {
		t.Error("Expected outcome check constraint to reject unknown outcome")
	}

	if _, err := db.Exec(fmt.Sprintf("DROP SCHEMA %s CASCADE", config.SchemaName)); err != nil {
		t.Logf("Warning: Failed to clean up schema: %v", err)
	}
}

func TestIntegrationMySQL(t *testing.T) {
	dbURL := os.Getenv("MYSQL_URL")
	if dbURL == "" {
		t.Skip("MYSQL_URL not set, skipping MySQL integration test")
	}

	config, migrationSQL := generate(t, migrations.MySQL, "migrator_gen_test")

	db, err := sql.Open("mysql", dbURL+"?multiStatements=true&parseTime=true")
	if err != nil {
		t.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}

	var tables int
	err = db.QueryRow("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ?", config.SchemaName).Scan(&tables)
	if err != nil {
		t.Fatalf("Failed to count tables: %v", err)
	}
	if tables != 2 {
		t.Errorf("Expected 2 history tables, got %d", tables)
	}

	if _, err := db.Exec(fmt.Sprintf("DROP DATABASE %s", config.SchemaName)); err != nil {
		t.Logf("Warning: Failed to clean up database: %v", err)
	}
}

func TestIntegrationSQLite(t *testing.T) {
	config, migrationSQL := generate(t, migrations.SQLite, "migrator")

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to open SQLite database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN (?, ?)",
		config.SchemaName+"_runs", config.SchemaName+"_run_tenants").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query sqlite_master: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 history tables, got %d", count)
	}
}
