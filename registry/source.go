package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// StaticSource is a fixed list of tenants, typically from configuration.
type StaticSource []string

// Static returns a Source over the given names.
func Static(names ...string) StaticSource {
	return StaticSource(names)
}

// ListTenants implements Source.
func (s StaticSource) ListTenants(ctx context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// NamespaceLister enumerates physical namespaces in the database.
type NamespaceLister interface {
	ListNamespaces(ctx context.Context) ([]string, error)
}

// NamespaceSource treats every physical namespace carrying Prefix as a tenant.
type NamespaceSource struct {
	Lister NamespaceLister
	Prefix string
}

// ListTenants implements Source.
func (s NamespaceSource) ListTenants(ctx context.Context) ([]string, error) {
	namespaces, err := s.Lister.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}

	var tenants []string
	for _, ns := range namespaces {
		if strings.HasPrefix(ns, s.Prefix) {
			tenants = append(tenants, ns)
		}
	}
	return tenants, nil
}

// SQLCatalog reads tenant identifiers from a catalog table, e.g. a
// tenant-mapping table kept in the shared namespace. The query must return a
// single text column.
type SQLCatalog struct {
	DB    *sql.DB
	Query string
}

// ListTenants implements Source.
func (s SQLCatalog) ListTenants(ctx context.Context) (tenants []string, err error) {
	rows, err := s.DB.QueryContext(ctx, s.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant catalog: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}
