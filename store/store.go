package store

import (
	"context"

	"github.com/getpup/pupsourcing-migrator"
)

// NamespaceStore provides namespace-scoped access to the database.
// Implementations must be safe for concurrent use across different namespaces;
// callers serialize access to a single namespace through a Locker.
type NamespaceStore interface {
	// NamespaceExists reports whether the namespace is present.
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	// CreateNamespace creates the namespace and its bookkeeping table.
	// Creating a namespace that already exists is not an error.
	CreateNamespace(ctx context.Context, namespace string) error

	// CurrentRevision returns the recorded revision.
	// Returns migrator.Base if the namespace has never been migrated.
	CurrentRevision(ctx context.Context, namespace string) (migrator.Revision, error)

	// ApplyStep runs op inside a transaction scoped to the namespace and records
	// to as the namespace's revision in the same transaction. Either both
	// commit or both roll back. Recording migrator.Base clears the record.
	ApplyStep(ctx context.Context, namespace string, op migrator.Operation, to migrator.Revision) error

	// ListNamespaces returns every namespace visible to the store.
	ListNamespaces(ctx context.Context) ([]string, error)
}

// Lease is a held namespace lock.
type Lease interface {
	// Release frees the lock. Releasing twice is a no-op.
	Release(ctx context.Context) error
}

// Refresher is implemented by leases that expire unless extended. Holders
// refresh between units of work; an error wrapping migrator.ErrLockLost
// means another holder may already own the namespace.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Locker hands out exclusive per-namespace leases.
type Locker interface {
	// Acquire locks the namespace. With migrator.LockFailFast it returns a
	// *migrator.MigrationInProgressError when the lock is held elsewhere; with
	// migrator.LockWait it blocks until the lock is free or ctx ends.
	Acquire(ctx context.Context, namespace string, mode migrator.LockMode) (Lease, error)
}

// Inspector lists the tables of a namespace for drift comparison.
type Inspector interface {
	ListTables(ctx context.Context, namespace string) ([]string, error)
}

// ReportStore persists finalized fleet run reports.
type ReportStore interface {
	// SaveReport stores a finalized report.
	SaveReport(ctx context.Context, report *migrator.FleetRunReport) error

	// GetReport returns a report by ID.
	// Returns ErrReportNotFound if the report does not exist.
	GetReport(ctx context.Context, id string) (*migrator.FleetRunReport, error)

	// ListReports returns the most recent reports for a chain, newest first.
	// An empty chain matches every chain.
	ListReports(ctx context.Context, chain string, limit int) ([]*migrator.FleetRunReport, error)
}
