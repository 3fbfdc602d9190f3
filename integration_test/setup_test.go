//go:build integration

package integration_test

import (
	"context"
	"testing"

	pgstore "github.com/getpup/pupsourcing-migrator/store/postgres"
)

// TestSetupHelpers validates that the integration test helper functions work correctly.
// This test requires a PostgreSQL database to be available via DATABASE_URL.
func TestSetupHelpers(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	setupTables(t, db)

	config := pgstore.DefaultTableConfig()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + config.RunsTable).Scan(&count); err != nil {
		t.Fatalf("failed to query runs table: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM " + config.RunTenantsTable).Scan(&count); err != nil {
		t.Fatalf("failed to query run tenants table: %v", err)
	}

	cleanupTables(t, db)

	if err := db.QueryRow("SELECT COUNT(*) FROM " + config.RunsTable).Scan(&count); err != nil {
		t.Fatalf("failed to query runs table after cleanup: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 rows in runs table after cleanup, got %d", count)
	}

	prefix := tenantPrefix(t, db)
	names := createTenants(t, pgstore.New(db), prefix, 3)
	if len(names) != 3 {
		t.Fatalf("expected 3 tenants, got %d", len(names))
	}

	namespaces, err := pgstore.New(db).ListNamespaces(context.Background())
	if err != nil {
		t.Fatalf("failed to list namespaces: %v", err)
	}
	found := 0
	for _, ns := range namespaces {
		for _, n := range names {
			if ns == n {
				found++
			}
		}
	}
	if found != 3 {
		t.Errorf("expected 3 tenant schemas, found %d", found)
	}

	teardownTables(t, db)
}
