package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig(dir string) Config {
	return Config{
		OutputFolder:    dir,
		OutputFilename:  "test_migration.sql",
		SchemaName:      "migrator",
		RunsTable:       "runs",
		RunTenantsTable: "run_tenants",
	}
}

func readGenerated(t *testing.T, config Config) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}
	return string(content)
}

func TestGeneratePostgres(t *testing.T) {
	config := testConfig(t.TempDir())

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	sql := readGenerated(t, config)

	required := []string{
		"-- Database: PostgreSQL",
		"CREATE SCHEMA IF NOT EXISTS migrator",
		"CREATE TABLE IF NOT EXISTS migrator.runs",
		"id UUID PRIMARY KEY",
		"started_at TIMESTAMPTZ NOT NULL",
		"CREATE INDEX IF NOT EXISTS idx_migrator_runs_chain",
		"CREATE TABLE IF NOT EXISTS migrator.run_tenants",
		"run_id UUID NOT NULL REFERENCES migrator.runs (id) ON DELETE CASCADE",
		"CHECK (outcome IN ('succeeded', 'failed', 'skipped'))",
		"PRIMARY KEY (run_id, position)",
	}
	for _, s := range required {
		if !strings.Contains(sql, s) {
			t.Errorf("Generated SQL missing required string: %s", s)
		}
	}
}

func TestGenerateMySQL(t *testing.T) {
	config := testConfig(t.TempDir())

	if err := GenerateMySQL(&config); err != nil {
		t.Fatalf("GenerateMySQL failed: %v", err)
	}

	sql := readGenerated(t, config)

	required := []string{
		"-- Database: MySQL/MariaDB",
		"CREATE DATABASE IF NOT EXISTS migrator",
		"CREATE TABLE IF NOT EXISTS migrator.runs",
		"id CHAR(36) PRIMARY KEY",
		"INDEX idx_migrator_runs_chain (chain, started_at)",
		"CREATE TABLE IF NOT EXISTS migrator.run_tenants",
		"FOREIGN KEY (run_id) REFERENCES migrator.runs (id) ON DELETE CASCADE",
		"ENGINE=InnoDB",
	}
	for _, s := range required {
		if !strings.Contains(sql, s) {
			t.Errorf("Generated SQL missing required string: %s", s)
		}
	}
	if strings.Contains(sql, "CREATE SCHEMA") {
		t.Error("MySQL migration should not create a schema")
	}
}

func TestGenerateSQLite(t *testing.T) {
	config := testConfig(t.TempDir())

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite failed: %v", err)
	}

	sql := readGenerated(t, config)

	required := []string{
		"-- Database: SQLite",
		"CREATE TABLE IF NOT EXISTS migrator_runs",
		"CREATE TABLE IF NOT EXISTS migrator_run_tenants",
		"REFERENCES migrator_runs (id)",
	}
	for _, s := range required {
		if !strings.Contains(sql, s) {
			t.Errorf("Generated SQL missing required string: %s", s)
		}
	}
	if strings.Contains(sql, "migrator.runs") {
		t.Error("SQLite migration should not use schema-qualified names")
	}
}

func TestGenerate_CustomNames(t *testing.T) {
	config := Config{
		OutputFolder:    t.TempDir(),
		OutputFilename:  "custom.sql",
		SchemaName:      "ops",
		RunsTable:       "fleet_runs",
		RunTenantsTable: "fleet_results",
	}

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	sql := readGenerated(t, config)
	if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS ops.fleet_runs") {
		t.Error("Custom runs table name not used")
	}
	if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS ops.fleet_results") {
		t.Error("Custom run tenants table name not used")
	}
}

func TestRender_UnsupportedDialect(t *testing.T) {
	config := DefaultConfig()

	if _, err := Render(Dialect("oracle"), &config); err == nil {
		t.Fatal("Expected error for unsupported dialect, got nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.OutputFolder != "migrations" {
		t.Errorf("Expected OutputFolder to be 'migrations', got '%s'", config.OutputFolder)
	}
	if config.SchemaName != "migrator" {
		t.Errorf("Expected SchemaName to be 'migrator', got '%s'", config.SchemaName)
	}
	if config.RunsTable != "runs" {
		t.Errorf("Expected RunsTable to be 'runs', got '%s'", config.RunsTable)
	}
	if config.RunTenantsTable != "run_tenants" {
		t.Errorf("Expected RunTenantsTable to be 'run_tenants', got '%s'", config.RunTenantsTable)
	}
	if !strings.HasSuffix(config.OutputFilename, "_init_migrator_history.sql") {
		t.Errorf("Expected OutputFilename to end with '_init_migrator_history.sql', got '%s'", config.OutputFilename)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in   string
		want Dialect
	}{
		{"postgres", Postgres},
		{"PostgreSQL", Postgres},
		{"pgx", Postgres},
		{"mysql", MySQL},
		{"mariadb", MySQL},
		{"sqlite3", SQLite},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.in)
		if err != nil {
			t.Errorf("ParseDialect(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDialect(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if _, err := ParseDialect("mssql"); err == nil {
		t.Error("Expected error for unsupported dialect")
	}
}

func TestVersionTableSQL(t *testing.T) {
	pg := VersionTableSQL(Postgres, "migrator_version")
	if pg != "CREATE TABLE IF NOT EXISTS migrator_version (version_num VARCHAR(255) NOT NULL PRIMARY KEY)" {
		t.Errorf("Unexpected postgres version table SQL: %s", pg)
	}

	my := VersionTableSQL(MySQL, "`tenant_a`.`migrator_version`")
	if !strings.HasPrefix(my, "CREATE TABLE IF NOT EXISTS `tenant_a`.`migrator_version`") || !strings.HasSuffix(my, "ENGINE=InnoDB") {
		t.Errorf("Unexpected mysql version table SQL: %s", my)
	}
}

func TestDropHistoryStatements_ChildrenFirst(t *testing.T) {
	stmts := DropHistoryStatements(Tables{Runs: "r", RunTenants: "rt"})

	if len(stmts) != 2 || stmts[0] != "DROP TABLE IF EXISTS rt" || stmts[1] != "DROP TABLE IF EXISTS r" {
		t.Errorf("Unexpected drop statements: %v", stmts)
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		fieldName string
		wantError bool
	}{
		{"valid simple", "table_name", "TableName", false},
		{"valid with numbers", "table123", "TableName", false},
		{"valid with underscores", "my_table_name", "TableName", false},
		{"empty string", "", "TableName", true},
		{"starts with number", "123table", "TableName", true},
		{"contains spaces", "table name", "TableName", true},
		{"contains dash", "table-name", "TableName", true},
		{"contains semicolon", "table;DROP TABLE users", "TableName", true},
		{"contains quotes", "table'name", "TableName", true},
		{"sql injection attempt", "table; DROP TABLE users--", "TableName", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIdentifier(tt.value, tt.fieldName)
			if tt.wantError && err == nil {
				t.Errorf("Expected error for value '%s', got nil", tt.value)
			}
			if !tt.wantError && err != nil {
				t.Errorf("Expected no error for value '%s', got: %v", tt.value, err)
			}
		})
	}
}

func TestGenerate_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"schema", func(c *Config) { c.SchemaName = "schema'; DROP TABLE users--" }},
		{"runs table", func(c *Config) { c.RunsTable = "table'; DROP TABLE users--" }},
		{"run tenants table", func(c *Config) { c.RunTenantsTable = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(t.TempDir())
			tt.mutate(&config)

			for _, d := range []Dialect{Postgres, MySQL, SQLite} {
				err := Generate(d, &config)
				if err == nil {
					t.Fatalf("%s: expected error for invalid configuration, got nil", d)
				}
				if !strings.Contains(err.Error(), "invalid configuration") {
					t.Errorf("%s: expected error to mention 'invalid configuration', got: %v", d, err)
				}
			}
		})
	}
}
