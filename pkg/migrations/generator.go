package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Dialect selects the SQL flavour to generate.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts the dialect names and the common driver names.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", s)
	}
}

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.SchemaName, "SchemaName"); err != nil {
		return err
	}
	if err := validateIdentifier(config.RunsTable, "RunsTable"); err != nil {
		return err
	}
	if err := validateIdentifier(config.RunTenantsTable, "RunTenantsTable"); err != nil {
		return err
	}
	return nil
}

// Config configures generation of the run history migration.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName is the schema (PostgreSQL) or database (MySQL) holding the
	// history tables. SQLite uses it as a table name prefix.
	SchemaName string

	// RunsTable holds one row per fleet run
	RunsTable string

	// RunTenantsTable holds one row per namespace result of a run
	RunTenantsTable string
}

// DefaultConfig returns the default configuration for history migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:    "migrations",
		OutputFilename:  fmt.Sprintf("%s_init_migrator_history.sql", timestamp),
		SchemaName:      "migrator",
		RunsTable:       "runs",
		RunTenantsTable: "run_tenants",
	}
}

// Tables names the history tables as they appear in SQL, qualified if needed.
type Tables struct {
	Runs       string
	RunTenants string
}

// qualified returns the table names for a dialect; SQLite has no schemas.
func (c *Config) qualified(d Dialect) Tables {
	if d == SQLite {
		return Tables{
			Runs:       c.SchemaName + "_" + c.RunsTable,
			RunTenants: c.SchemaName + "_" + c.RunTenantsTable,
		}
	}
	return Tables{
		Runs:       c.SchemaName + "." + c.RunsTable,
		RunTenants: c.SchemaName + "." + c.RunTenantsTable,
	}
}

// Generate writes the history migration for the dialect to
// OutputFolder/OutputFilename.
func Generate(d Dialect, config *Config) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	sql, err := Render(d, config)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error { return Generate(Postgres, config) }

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error { return Generate(MySQL, config) }

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error { return Generate(SQLite, config) }

// Render returns the complete migration script for the dialect.
func Render(d Dialect, config *Config) (string, error) {
	if err := validateConfig(config); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- Migrator Run History Migration\n-- Generated: %s\n", time.Now().Format(time.RFC3339))

	switch d {
	case Postgres:
		b.WriteString("-- Database: PostgreSQL\n\n")
		fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n\n", config.SchemaName)
	case MySQL:
		b.WriteString("-- Database: MySQL/MariaDB\n\n")
		fmt.Fprintf(&b, "CREATE DATABASE IF NOT EXISTS %s\n    DEFAULT CHARACTER SET utf8mb4\n    DEFAULT COLLATE utf8mb4_unicode_ci;\n\n", config.SchemaName)
	case SQLite:
		b.WriteString("-- Database: SQLite\n\n")
	default:
		return "", fmt.Errorf("unsupported dialect %q", d)
	}

	for _, stmt := range HistoryStatements(d, config.qualified(d)) {
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return b.String(), nil
}

func indexName(table, suffix string) string {
	return "idx_" + strings.NewReplacer(".", "_", `"`, "", "`", "").Replace(table) + "_" + suffix
}

// HistoryStatements returns the statements creating the run history tables,
// without trailing semicolons. All statements are idempotent except the MySQL
// index, which MySQL cannot create conditionally and is folded into the table.
func HistoryStatements(d Dialect, t Tables) []string {
	switch d {
	case MySQL:
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id CHAR(36) PRIMARY KEY,
    chain VARCHAR(64) NOT NULL,
    target VARCHAR(255) NOT NULL,
    policy VARCHAR(32) NOT NULL,
    started_at TIMESTAMP(6) NOT NULL,
    finished_at TIMESTAMP(6) NOT NULL,
    INDEX %s (chain, started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, t.Runs, indexName(t.Runs, "chain")),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id CHAR(36) NOT NULL,
    position INT NOT NULL,
    namespace VARCHAR(255) NOT NULL,
    outcome VARCHAR(16) NOT NULL,
    skip_reason VARCHAR(16) NOT NULL DEFAULT '',
    from_revision VARCHAR(255) NOT NULL DEFAULT '',
    reached_revision VARCHAR(255) NOT NULL DEFAULT '',
    steps_applied INT NOT NULL DEFAULT 0,
    failed_revision VARCHAR(255) NOT NULL DEFAULT '',
    error TEXT,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, position),
    FOREIGN KEY (run_id) REFERENCES %s (id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, t.RunTenants, t.Runs),
		}
	case SQLite:
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    chain TEXT NOT NULL,
    target TEXT NOT NULL,
    policy TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL
)`, t.Runs),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s
    ON %s (chain, started_at DESC)`, indexName(t.Runs, "chain"), t.Runs),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id TEXT NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    namespace TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK (outcome IN ('succeeded', 'failed', 'skipped')),
    skip_reason TEXT NOT NULL DEFAULT '',
    from_revision TEXT NOT NULL DEFAULT '',
    reached_revision TEXT NOT NULL DEFAULT '',
    steps_applied INTEGER NOT NULL DEFAULT 0,
    failed_revision TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, position)
)`, t.RunTenants, t.Runs),
		}
	default:
		return []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id UUID PRIMARY KEY,
    chain TEXT NOT NULL,
    target TEXT NOT NULL,
    policy TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
)`, t.Runs),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s
    ON %s (chain, started_at DESC)`, indexName(t.Runs, "chain"), t.Runs),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    run_id UUID NOT NULL REFERENCES %s (id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    namespace TEXT NOT NULL,
    outcome TEXT NOT NULL CHECK (outcome IN ('succeeded', 'failed', 'skipped')),
    skip_reason TEXT NOT NULL DEFAULT '',
    from_revision TEXT NOT NULL DEFAULT '',
    reached_revision TEXT NOT NULL DEFAULT '',
    steps_applied INTEGER NOT NULL DEFAULT 0,
    failed_revision TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, position)
)`, t.RunTenants, t.Runs),
		}
	}
}

// DropHistoryStatements returns the statements dropping the history tables,
// children first.
func DropHistoryStatements(t Tables) []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", t.RunTenants),
		fmt.Sprintf("DROP TABLE IF EXISTS %s", t.Runs),
	}
}

// VersionTableSQL returns the statement creating a namespace's version table.
// table must already be quoted or qualified as the dialect requires.
func VersionTableSQL(d Dialect, table string) string {
	switch d {
	case MySQL:
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (version_num VARCHAR(255) NOT NULL PRIMARY KEY) ENGINE=InnoDB", table)
	default:
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (version_num VARCHAR(255) NOT NULL PRIMARY KEY)", table)
	}
}
