// Command migrate-gen generates the SQL migration for the migrator's run
// history tables.
//
// Usage:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize table names:
//
//	go run github.com/getpup/pupsourcing-migrator/cmd/migrate-gen -schema ops -runs-table fleet_runs -output migrations
//
// The migrator binary writes the same file with "migrator gen-sql".
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
)

func main() {
	var (
		adapter         = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder    = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename  = flag.String("filename", "", "Output filename (default: timestamp-based)")
		schemaName      = flag.String("schema", "migrator", "Schema name (PostgreSQL), database name (MySQL) or table prefix (SQLite)")
		runsTable       = flag.String("runs-table", "runs", "Name of fleet runs table")
		runTenantsTable = flag.String("run-tenants-table", "run_tenants", "Name of per-namespace results table")
	)

	flag.Parse()

	dialect, err := migrations.ParseDialect(*adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.SchemaName = *schemaName
	config.RunsTable = *runsTable
	config.RunTenantsTable = *runTenantsTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.Generate(dialect, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", dialect, config.OutputFolder, config.OutputFilename)
}
