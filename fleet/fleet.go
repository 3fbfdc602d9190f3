// Package fleet drives a revision chain across a selection of tenant namespaces.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/registry"
	"github.com/getpup/pupsourcing-migrator/runner"
	"github.com/getpup/pupsourcing-migrator/session"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/getpup/pupsourcing/es"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Selection resolves a selector to tenant descriptors. *registry.Registry implements it.
type Selection interface {
	List(ctx context.Context, sel registry.Selector, allowEmpty bool) ([]migrator.TenantDescriptor, error)
}

// Config holds configuration for the Coordinator.
type Config struct {
	// Registry resolves tenant selections (required).
	Registry Selection

	// Opener opens locked namespace sessions (required).
	Opener *session.Opener

	// Runner walks the chain for one namespace (required).
	Runner *runner.Runner

	// Workers bounds how many namespaces migrate concurrently (default: 1).
	Workers int

	// ChainName labels reports and metrics (default: "tenant").
	ChainName string

	// Reports persists finalized reports (optional).
	Reports store.ReportStore

	// Logger is for observability (optional).
	Logger es.Logger

	// Collector records fleet metrics (optional).
	Collector *metrics.Collector
}

// Request is one fleet invocation.
type Request struct {
	// Target is the revision to converge to; migrator.Head or migrator.Base are allowed.
	Target migrator.Revision

	Selector registry.Selector

	// Direction restricts the walk: a namespace whose plan goes the other way
	// fails with migrator.ErrWrongDirection. Empty allows both.
	Direction migrator.Direction

	// ErrorPolicy defaults to migrator.FailFast.
	ErrorPolicy migrator.ErrorPolicy

	CreateIfMissing bool
	AllowEmpty      bool
}

// Coordinator runs a chain across many namespaces.
type Coordinator struct {
	config Config
}

// New creates a new Coordinator with the given configuration.
// Applies default values for Workers and ChainName if zero.
func New(cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ChainName == "" {
		cfg.ChainName = "tenant"
	}
	return &Coordinator{config: cfg}
}

// Run converges the selected namespaces to req.Target.
//
// An error is returned only for problems found before any namespace is
// touched: an unknown target or an empty or invalid selection. Everything
// that happens to individual namespaces is recorded in the report. Namespaces
// are started in sorted order with at most Workers in flight. Under FailFast
// no namespace is started after the first failure; under ContinueOnError every
// namespace is attempted. When ctx ends, unstarted namespaces are skipped and
// running ones stop at their next step boundary.
func (c *Coordinator) Run(ctx context.Context, req Request) (*migrator.FleetRunReport, error) {
	policy := req.ErrorPolicy
	if policy == "" {
		policy = migrator.FailFast
	}

	target, err := c.config.Runner.Chain().ResolveTarget(req.Target)
	if err != nil {
		return nil, err
	}

	tenants, err := c.config.Registry.List(ctx, req.Selector, req.AllowEmpty)
	if err != nil {
		return nil, err
	}

	report := &migrator.FleetRunReport{
		ID:        uuid.New().String(),
		Chain:     c.config.ChainName,
		Target:    target,
		Policy:    policy,
		StartedAt: time.Now(),
		Tenants:   make([]migrator.TenantResult, len(tenants)),
	}

	if c.config.Collector != nil {
		c.config.Collector.SetTenantsSelected(len(tenants))
	}
	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "starting fleet run",
			"runID", report.ID,
			"chain", report.Chain,
			"target", target.String(),
			"selector", req.Selector.String(),
			"tenants", len(tenants),
			"policy", string(policy),
			"workers", c.config.Workers)
	}

	var (
		failed atomic.Bool
		mu     sync.Mutex
		g      errgroup.Group
	)
	g.SetLimit(c.config.Workers)

	record := func(i int, res migrator.TenantResult) {
		mu.Lock()
		report.Tenants[i] = res
		mu.Unlock()
		if res.Outcome == migrator.OutcomeFailed {
			failed.Store(true)
		}
		if c.config.Collector != nil {
			c.config.Collector.IncNamespaceOutcome(string(res.Outcome))
		}
	}

	// skipReason is checked both before queueing and once a worker slot is
	// free, so no namespace starts after a fail-fast stop or cancellation.
	skipReason := func() migrator.SkipReason {
		if ctx.Err() != nil {
			return migrator.SkipCancelled
		}
		if policy == migrator.FailFast && failed.Load() {
			return migrator.SkipFailFast
		}
		return migrator.SkipNone
	}

	for i, tenant := range tenants {
		i, tenant := i, tenant

		if reason := skipReason(); reason != migrator.SkipNone {
			record(i, skipped(tenant.Namespace, reason, ctx.Err()))
			continue
		}

		g.Go(func() error {
			if reason := skipReason(); reason != migrator.SkipNone {
				record(i, skipped(tenant.Namespace, reason, ctx.Err()))
				return nil
			}
			record(i, c.migrateTenant(ctx, tenant, target, req))
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now()
	c.finalize(ctx, report)

	return report, nil
}

func skipped(ns string, reason migrator.SkipReason, cause error) migrator.TenantResult {
	res := migrator.TenantResult{
		Namespace:  ns,
		Outcome:    migrator.OutcomeSkipped,
		SkipReason: reason,
	}
	if reason == migrator.SkipCancelled {
		res.Err = cause
	}
	return res
}

func (c *Coordinator) migrateTenant(ctx context.Context, tenant migrator.TenantDescriptor, target migrator.Revision, req Request) migrator.TenantResult {
	start := time.Now()
	res := migrator.TenantResult{Namespace: tenant.Namespace}

	if !tenant.Exists && c.config.Logger != nil {
		c.config.Logger.Debug(ctx, "namespace does not exist yet",
			"namespace", tenant.Namespace,
			"create", req.CreateIfMissing)
	}

	sess, err := c.config.Opener.Open(ctx, tenant.Namespace, req.CreateIfMissing)
	if err != nil {
		return c.finishTenant(ctx, res, err, start)
	}
	defer func() {
		_ = sess.Close(ctx)
	}()

	out, err := c.config.Runner.RunDirection(ctx, sess, target, req.Direction)
	res.From = out.From
	res.Reached = out.Reached
	res.StepsApplied = len(out.Applied)

	var applyErr *migrator.StepApplyError
	if errors.As(err, &applyErr) {
		res.FailedRevision = applyErr.Revision
	}

	return c.finishTenant(ctx, res, err, start)
}

func (c *Coordinator) finishTenant(ctx context.Context, res migrator.TenantResult, err error, start time.Time) migrator.TenantResult {
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Outcome = migrator.OutcomeSucceeded
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		res.Outcome = migrator.OutcomeSkipped
		res.SkipReason = migrator.SkipCancelled
		res.Err = err
	default:
		res.Outcome = migrator.OutcomeFailed
		res.Err = err
	}

	if c.config.Logger != nil {
		switch res.Outcome {
		case migrator.OutcomeFailed:
			c.config.Logger.Error(ctx, "namespace migration failed",
				"namespace", res.Namespace,
				"reached", res.Reached.String(),
				"error", err)
		case migrator.OutcomeSkipped:
			c.config.Logger.Info(ctx, "namespace migration interrupted",
				"namespace", res.Namespace,
				"reached", res.Reached.String())
		default:
			c.config.Logger.Info(ctx, "namespace migrated",
				"namespace", res.Namespace,
				"from", res.From.String(),
				"reached", res.Reached.String(),
				"steps", res.StepsApplied,
				"duration", res.Duration.String())
		}
	}

	return res
}

func (c *Coordinator) finalize(ctx context.Context, report *migrator.FleetRunReport) {
	succeeded, failed, skipped := report.Counts()

	if c.config.Collector != nil {
		c.config.Collector.ObserveFleetRunDuration(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}

	if c.config.Reports != nil {
		if err := c.config.Reports.SaveReport(context.WithoutCancel(ctx), report); err != nil && c.config.Logger != nil {
			c.config.Logger.Error(ctx, "failed to save fleet report", "runID", report.ID, "error", err)
		}
	}

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "fleet run finished",
			"runID", report.ID,
			"chain", report.Chain,
			"succeeded", succeeded,
			"failed", failed,
			"skipped", skipped,
			"duration", report.FinishedAt.Sub(report.StartedAt).String())
	}
}

// Summary renders the counts of a report on one line.
func Summary(report *migrator.FleetRunReport) string {
	succeeded, failed, skipped := report.Counts()
	return fmt.Sprintf("%s run %s to %s: %d succeeded, %d failed, %d skipped",
		report.Chain, report.ID, report.Target, succeeded, failed, skipped)
}
