// Package migrator wires the chain, registry, session, runner and fleet
// packages into a ready-to-use tenant migrator.
package migrator

import (
	"context"
	"fmt"

	rootpkg "github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/chain"
	"github.com/getpup/pupsourcing-migrator/drift"
	"github.com/getpup/pupsourcing-migrator/fleet"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/publicschema"
	"github.com/getpup/pupsourcing-migrator/registry"
	"github.com/getpup/pupsourcing-migrator/runner"
	"github.com/getpup/pupsourcing-migrator/session"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/getpup/pupsourcing/es"
)

// Re-export core types from root package
type (
	// Revision identifies one point in a schema's evolution history.
	Revision = rootpkg.Revision

	// Step is one link in a revision chain.
	Step = rootpkg.Step

	// Direction is the direction a plan walks the chain.
	Direction = rootpkg.Direction

	// FleetRequest is an operator request against the tenant fleet.
	FleetRequest = rootpkg.FleetRequest

	// FleetRunReport summarizes a fleet invocation.
	FleetRunReport = rootpkg.FleetRunReport

	// NamespaceRecord is the revision currently recorded for a namespace.
	NamespaceRecord = rootpkg.NamespaceRecord
)

// DefaultTenantPrefix selects tenant namespaces when no tenant source is given.
const DefaultTenantPrefix = "tenant_"

// TenantChainName labels tenant runs in reports and metrics.
const TenantChainName = "tenant"

var _ rootpkg.Migrator = (*Migrator)(nil)

// Option configures a Migrator.
type Option func(*config)

// config holds the internal configuration for creating a Migrator.
type config struct {
	store           store.NamespaceStore
	locker          store.Locker
	reports         store.ReportStore
	tenantChain     *chain.Chain
	publicChain     *chain.Chain
	source          registry.Source
	ignored         []string
	workers         int
	lockMode        rootpkg.LockMode
	publicNamespace string
	logger          es.Logger
	metricsEnabled  *bool
}

// Migrator drives tenant and public-schema migrations.
type Migrator struct {
	store    store.NamespaceStore
	reports  store.ReportStore
	registry *registry.Registry
	fleet    *fleet.Coordinator
	public   *publicschema.Runner
	logger   es.Logger

	tenantChain *chain.Chain
	publicChain *chain.Chain
}

// New creates a new Migrator with the given options.
//
// Required options:
//   - WithStore: namespace store of the target database
//   - WithLocker: per-namespace locker
//   - WithTenantChain: revision chain applied to tenant namespaces
//
// Optional configuration (with defaults):
//   - WithPublicChain: chain of the shared namespace (default: none, MigratePublic fails)
//   - WithPublicNamespace: name of the shared namespace (default: "public")
//   - WithTenantSource: tenant enumeration (default: store namespaces prefixed "tenant_")
//   - WithIgnoredTenants: tenants never selected (default: none)
//   - WithWorkers: tenants migrated concurrently (default: 1)
//   - WithLockMode: fail-fast or wait on a locked namespace (default: fail-fast)
//   - WithReportStore: persists finalized reports (default: nil)
//   - WithLogger: logger for observability (default: nil)
//   - WithMetricsEnabled: enable Prometheus metrics (default: true)
//
// Example:
//
//	m, err := migrator.New(
//	    migrator.WithStore(pgstore),
//	    migrator.WithLocker(postgres.NewLocker(db)),
//	    migrator.WithTenantChain(tenantChain),
//	    migrator.WithWorkers(4),
//	)
//
// Returns an error if any required option is missing.
func New(opts ...Option) (*Migrator, error) {
	cfg := &config{
		workers:         1,
		lockMode:        rootpkg.LockFailFast,
		publicNamespace: publicschema.DefaultNamespace,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.store == nil {
		return nil, fmt.Errorf("store is required: use WithStore option")
	}
	if cfg.locker == nil {
		return nil, fmt.Errorf("locker is required: use WithLocker option")
	}
	if cfg.tenantChain == nil {
		return nil, fmt.Errorf("tenant chain is required: use WithTenantChain option")
	}
	if cfg.workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.workers)
	}
	if err := rootpkg.ValidateNamespace(cfg.publicNamespace); err != nil {
		return nil, fmt.Errorf("public namespace: %w", err)
	}

	if cfg.source == nil {
		cfg.source = registry.NamespaceSource{Lister: cfg.store, Prefix: DefaultTenantPrefix}
	}

	var tenantCollector, publicCollector *metrics.Collector
	if cfg.metricsEnabled == nil || *cfg.metricsEnabled {
		tenantCollector = metrics.NewCollector(TenantChainName)
		publicCollector = metrics.NewCollector(publicschema.ChainName)
	}

	// The shared namespace never belongs to the tenant fleet.
	ignored := append([]string{cfg.publicNamespace}, cfg.ignored...)
	reg := registry.New(registry.Config{
		Source:    cfg.source,
		Existence: cfg.store,
		Ignored:   ignored,
		Logger:    cfg.logger,
	})

	m := &Migrator{
		store:       cfg.store,
		reports:     cfg.reports,
		registry:    reg,
		logger:      cfg.logger,
		tenantChain: cfg.tenantChain,
		publicChain: cfg.publicChain,
		fleet: fleet.New(fleet.Config{
			Registry: reg,
			Opener: &session.Opener{
				Store:     cfg.store,
				Locker:    cfg.locker,
				LockMode:  cfg.lockMode,
				Logger:    cfg.logger,
				Collector: tenantCollector,
			},
			Runner: runner.New(runner.Config{
				Chain:     cfg.tenantChain,
				Logger:    cfg.logger,
				Collector: tenantCollector,
			}),
			Workers:   cfg.workers,
			ChainName: TenantChainName,
			Reports:   cfg.reports,
			Logger:    cfg.logger,
			Collector: tenantCollector,
		}),
	}

	if cfg.publicChain != nil {
		m.public = publicschema.New(publicschema.Config{
			Namespace: cfg.publicNamespace,
			Opener: &session.Opener{
				Store:     cfg.store,
				Locker:    cfg.locker,
				LockMode:  cfg.lockMode,
				Logger:    cfg.logger,
				Collector: publicCollector,
			},
			Runner: runner.New(runner.Config{
				Chain:     cfg.publicChain,
				Logger:    cfg.logger,
				Collector: publicCollector,
			}),
			Reports:   cfg.reports,
			Logger:    cfg.logger,
			Collector: publicCollector,
		})
	}

	return m, nil
}

// MigrateTenants implements rootpkg.Migrator.
func (m *Migrator) MigrateTenants(ctx context.Context, req FleetRequest) (*FleetRunReport, error) {
	sel, err := registry.ParseSelector(req.Tenants)
	if err != nil {
		return nil, err
	}
	return m.fleet.Run(ctx, fleet.Request{
		Target:          req.Target,
		Selector:        sel,
		Direction:       req.Direction,
		ErrorPolicy:     req.ErrorPolicy,
		CreateIfMissing: req.CreateIfMissing,
		AllowEmpty:      req.AllowEmpty,
	})
}

// MigratePublic implements rootpkg.Migrator.
func (m *Migrator) MigratePublic(ctx context.Context, target Revision, dir Direction, createIfMissing bool) (*FleetRunReport, error) {
	if m.public == nil {
		return nil, fmt.Errorf("public chain is not configured: use WithPublicChain option")
	}
	return m.public.Run(ctx, target, dir, createIfMissing)
}

// Current returns the recorded revision of every selected tenant. It reads
// without locking; missing namespaces are reported at Base.
func (m *Migrator) Current(ctx context.Context, tenants string) ([]NamespaceRecord, error) {
	sel, err := registry.ParseSelector(tenants)
	if err != nil {
		return nil, err
	}
	descriptors, err := m.registry.List(ctx, sel, true)
	if err != nil {
		return nil, err
	}

	records := make([]NamespaceRecord, 0, len(descriptors))
	for _, d := range descriptors {
		rec := NamespaceRecord{Namespace: d.Namespace, Revision: rootpkg.Base}
		if d.Exists {
			rev, err := m.store.CurrentRevision(ctx, d.Namespace)
			if err != nil {
				return nil, fmt.Errorf("failed to read revision of %s: %w", d.Namespace, err)
			}
			rec.Revision = rev
		}
		records = append(records, rec)
	}
	return records, nil
}

// TenantHead returns the head revision of the tenant chain.
func (m *Migrator) TenantHead() Revision {
	return m.tenantChain.Head()
}

// PublicHead returns the head revision of the public chain, or Base when no
// public chain is configured.
func (m *Migrator) PublicHead() Revision {
	if m.publicChain == nil {
		return rootpkg.Base
	}
	return m.publicChain.Head()
}

// Part returns the selector expression covering part i (1-based) of n
// contiguous ranges over the current fleet. Hosts that each run one part
// migrate every tenant exactly once.
func (m *Migrator) Part(ctx context.Context, i, n int) (string, error) {
	if n < 1 || i < 1 || i > n {
		return "", fmt.Errorf("%w: part %d/%d is out of range", rootpkg.ErrInvalidSelector, i, n)
	}
	tenants, err := m.registry.Fleet(ctx)
	if err != nil {
		return "", err
	}
	parts, err := registry.Partition(len(tenants), n)
	if err != nil {
		return "", err
	}
	return parts[i-1].String(), nil
}

// PublicRevision returns the recorded revision of the shared namespace.
func (m *Migrator) PublicRevision(ctx context.Context) (NamespaceRecord, error) {
	ns := publicschema.DefaultNamespace
	if m.public != nil {
		ns = m.public.Namespace()
	}
	rec := NamespaceRecord{Namespace: ns, Revision: rootpkg.Base}

	exists, err := m.store.NamespaceExists(ctx, ns)
	if err != nil || !exists {
		return rec, err
	}
	rec.Revision, err = m.store.CurrentRevision(ctx, ns)
	return rec, err
}

// Drift compares the selected existing tenants with reference. The store must
// implement store.Inspector.
func (m *Migrator) Drift(ctx context.Context, reference, tenants string, excluded []string) ([]drift.Report, error) {
	inspector, ok := m.store.(store.Inspector)
	if !ok {
		return nil, fmt.Errorf("store %T cannot list tables", m.store)
	}
	sel, err := registry.ParseSelector(tenants)
	if err != nil {
		return nil, err
	}
	descriptors, err := m.registry.List(ctx, sel, true)
	if err != nil {
		return nil, err
	}

	var namespaces []string
	for _, d := range descriptors {
		if d.Exists {
			namespaces = append(namespaces, d.Namespace)
		}
	}
	if reference == "" {
		if len(namespaces) == 0 {
			return nil, nil
		}
		reference = namespaces[0]
	}

	checker := &drift.Checker{Inspector: inspector, Excluded: excluded}
	return checker.Compare(ctx, reference, namespaces)
}

// History returns the most recent saved reports for chain, newest first.
func (m *Migrator) History(ctx context.Context, chainName string, limit int) ([]*FleetRunReport, error) {
	if m.reports == nil {
		return nil, fmt.Errorf("report store is not configured: use WithReportStore option")
	}
	return m.reports.ListReports(ctx, chainName, limit)
}

// WithStore sets the namespace store.
func WithStore(s store.NamespaceStore) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithLocker sets the per-namespace locker.
func WithLocker(l store.Locker) Option {
	return func(c *config) {
		c.locker = l
	}
}

// WithReportStore sets where finalized reports are saved.
func WithReportStore(r store.ReportStore) Option {
	return func(c *config) {
		c.reports = r
	}
}

// WithTenantChain sets the chain applied to tenant namespaces.
func WithTenantChain(ch *chain.Chain) Option {
	return func(c *config) {
		c.tenantChain = ch
	}
}

// WithPublicChain sets the chain applied to the shared namespace.
func WithPublicChain(ch *chain.Chain) Option {
	return func(c *config) {
		c.publicChain = ch
	}
}

// WithPublicNamespace sets the shared namespace name.
func WithPublicNamespace(ns string) Option {
	return func(c *config) {
		c.publicNamespace = ns
	}
}

// WithTenantSource sets how tenants are enumerated.
func WithTenantSource(src registry.Source) Option {
	return func(c *config) {
		c.source = src
	}
}

// WithIgnoredTenants excludes tenants from every selection.
func WithIgnoredTenants(names ...string) Option {
	return func(c *config) {
		c.ignored = append(c.ignored, names...)
	}
}

// WithWorkers sets how many tenants are migrated concurrently.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithLockMode sets the behaviour on a locked namespace.
func WithLockMode(mode rootpkg.LockMode) Option {
	return func(c *config) {
		c.lockMode = mode
	}
}

// WithLogger sets the logger for observability.
func WithLogger(logger es.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetricsEnabled enables or disables Prometheus metrics collection.
func WithMetricsEnabled(enabled bool) Option {
	return func(c *config) {
		c.metricsEnabled = &enabled
	}
}
