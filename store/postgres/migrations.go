package postgres

import (
	"strings"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
)

// TableConfig configures the table names used by the migrator.
type TableConfig struct {
	// VersionTable is the per-schema table holding the current revision.
	VersionTable string

	// RunsTable is the name of the table storing fleet run metadata.
	RunsTable string

	// RunTenantsTable is the name of the table storing per-namespace results.
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

func (c TableConfig) history() migrations.Tables {
	return migrations.Tables{Runs: c.RunsTable, RunTenants: c.RunTenantsTable}
}

// MigrationUp returns the SQL to create the run history tables.
// Version tables are created per schema on demand and are not part of it.
func MigrationUp(config TableConfig) string {
	return joinStatements(migrations.HistoryStatements(migrations.Postgres, config.history()))
}

// MigrationDown returns the SQL to drop the run history tables.
// The results table is dropped first due to the foreign key constraint.
func MigrationDown(config TableConfig) string {
	return joinStatements(migrations.DropHistoryStatements(config.history()))
}

func joinStatements(stmts []string) string {
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s)
		b.WriteString(";\n\n")
	}
	return b.String()
}
