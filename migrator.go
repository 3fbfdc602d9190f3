package migrator

import "context"

// FleetRequest is an operator request against the tenant fleet.
// Selector is interpreted by the tenant registry; see registry.ParseSelector.
type FleetRequest struct {
	// Target is the revision to converge to. Base is the empty revision, so
	// callers pass Head explicitly; ParseRevision maps operator input.
	Target Revision

	// Direction, when set, fails every tenant whose path to Target walks the
	// chain the other way instead of migrating it.
	Direction Direction

	// Tenants is the selector expression: "all", "a,b,c" or "[start,end)".
	Tenants string

	// ErrorPolicy decides whether a tenant failure stops the run (default: FailFast).
	ErrorPolicy ErrorPolicy

	// CreateIfMissing creates absent tenant namespaces before migrating.
	CreateIfMissing bool

	// AllowEmpty turns an empty selection into an empty successful report.
	AllowEmpty bool
}

// Migrator is the narrow surface external collaborators (CLI wrappers,
// provisioning jobs) use to drive migrations.
type Migrator interface {
	// MigrateTenants converges the selected tenant namespaces to the requested revision.
	//
	// An error is returned only for problems detected before any namespace is
	// touched (unknown target, malformed chain, empty or invalid selection).
	// Per-tenant failures are reported in the FleetRunReport.
	MigrateTenants(ctx context.Context, req FleetRequest) (*FleetRunReport, error)

	// MigratePublic converges the shared namespace on its own chain.
	// A non-empty dir refuses a walk in the other direction.
	MigratePublic(ctx context.Context, target Revision, dir Direction, createIfMissing bool) (*FleetRunReport, error)
}
