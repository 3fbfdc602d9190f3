// Package publicschema migrates the shared namespace on its own revision chain.
//
// The shared namespace holds data common to every tenant. It is versioned
// independently of tenant namespaces and is never part of a tenant selection.
package publicschema

import (
	"context"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/fleet"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/registry"
	"github.com/getpup/pupsourcing-migrator/runner"
	"github.com/getpup/pupsourcing-migrator/session"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/getpup/pupsourcing/es"
)

// DefaultNamespace is the shared namespace used when Config.Namespace is empty.
const DefaultNamespace = "public"

// ChainName labels public runs in reports and metrics.
const ChainName = "public"

// Config holds configuration for the public-schema Runner.
type Config struct {
	// Namespace is the shared namespace (default: "public").
	Namespace string

	// Opener opens the locked session (required).
	Opener *session.Opener

	// Runner walks the public chain (required).
	Runner *runner.Runner

	// Reports persists finalized reports (optional).
	Reports store.ReportStore

	// Logger is for observability (optional).
	Logger es.Logger

	// Collector records metrics (optional).
	Collector *metrics.Collector
}

// Runner migrates the shared namespace. It is a one-namespace fleet.
type Runner struct {
	namespace string
	coord     *fleet.Coordinator
}

// New creates a public-schema Runner.
func New(cfg Config) *Runner {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}

	coord := fleet.New(fleet.Config{
		Registry:  registry.New(registry.Config{Source: registry.Static(cfg.Namespace)}),
		Opener:    cfg.Opener,
		Runner:    cfg.Runner,
		Workers:   1,
		ChainName: ChainName,
		Reports:   cfg.Reports,
		Logger:    cfg.Logger,
		Collector: cfg.Collector,
	})

	return &Runner{namespace: cfg.Namespace, coord: coord}
}

// Namespace returns the shared namespace name.
func (r *Runner) Namespace() string {
	return r.namespace
}

// Run converges the shared namespace to target. A non-empty dir refuses a
// walk in the other direction. The returned report always holds exactly one
// result.
func (r *Runner) Run(ctx context.Context, target migrator.Revision, dir migrator.Direction, createIfMissing bool) (*migrator.FleetRunReport, error) {
	return r.coord.Run(ctx, fleet.Request{
		Target:          target,
		Selector:        registry.All(),
		Direction:       dir,
		ErrorPolicy:     migrator.FailFast,
		CreateIfMissing: createIfMissing,
	})
}
