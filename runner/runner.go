// Package runner moves a single namespace along a revision chain.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/chain"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing/es"
)

// Session is the namespace-scoped handle the runner drives.
// *session.Session implements it.
type Session interface {
	Namespace() string
	CurrentRevision(ctx context.Context) (migrator.Revision, error)
	ApplyStep(ctx context.Context, op migrator.Operation, to migrator.Revision) error
}

// refresher is implemented by sessions whose lock must be extended while held.
type refresher interface {
	Refresh(ctx context.Context) error
}

// Config holds configuration for the Runner.
type Config struct {
	// Chain is the revision chain to walk (required).
	Chain *chain.Chain

	// Logger is for observability (optional).
	Logger es.Logger

	// Collector records step metrics (optional).
	Collector *metrics.Collector
}

// Runner applies plans to one namespace at a time. It never retries.
type Runner struct {
	config Config
}

// New creates a Runner with the given configuration.
func New(cfg Config) *Runner {
	return &Runner{config: cfg}
}

// Chain returns the chain the runner walks.
func (r *Runner) Chain() *chain.Chain {
	return r.config.Chain
}

// Result describes what a run did to one namespace.
type Result struct {
	Namespace string
	Direction migrator.Direction

	// From is the revision read before the first step.
	From migrator.Revision

	// Reached is the revision recorded after the last committed step.
	Reached migrator.Revision

	// Applied lists the revisions of the committed steps in order.
	Applied []migrator.Revision
}

// Run moves the session's namespace from its current revision to target in
// whichever direction the chain requires.
func (r *Runner) Run(ctx context.Context, sess Session, target migrator.Revision) (Result, error) {
	return r.RunDirection(ctx, sess, target, "")
}

// RunDirection moves the session's namespace from its current revision to
// target. When dir is set and the plan walks the chain the other way, the
// namespace is left untouched and a *migrator.WrongDirectionError is returned.
//
// Steps run strictly in plan order, each in its own transaction. A failing
// step returns a *migrator.StepApplyError and the namespace stays at the last
// committed revision. Cancellation is observed before each step; a step that
// has started runs to commit or rollback. The returned Result is valid even
// when err is non-nil.
func (r *Runner) RunDirection(ctx context.Context, sess Session, target migrator.Revision, dir migrator.Direction) (Result, error) {
	ns := sess.Namespace()
	result := Result{Namespace: ns, Direction: migrator.Upgrade}

	current, err := sess.CurrentRevision(ctx)
	if err != nil {
		return result, err
	}
	result.From = current
	result.Reached = current

	plan, err := r.config.Chain.Resolve(current, target)
	if err != nil {
		var unknown *migrator.UnknownRevisionError
		if errors.As(err, &unknown) && unknown.Revision == current {
			unknown.Namespace = ns
		}
		var irreversible *migrator.NoReverseOperationError
		if errors.As(err, &irreversible) {
			irreversible.Namespace = ns
		}
		return result, err
	}
	result.Direction = plan.Direction

	if plan.Empty() {
		if r.config.Logger != nil {
			r.config.Logger.Debug(ctx, "namespace already at target",
				"namespace", ns,
				"revision", current.String())
		}
		return result, nil
	}

	if dir != "" && plan.Direction != dir {
		return result, &migrator.WrongDirectionError{
			Namespace: ns,
			Requested: dir,
			From:      plan.From,
			To:        plan.To,
		}
	}

	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, "migrating namespace",
			"namespace", ns,
			"direction", string(plan.Direction),
			"from", plan.From.String(),
			"to", plan.To.String(),
			"steps", len(plan.Steps))
	}

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			if r.config.Logger != nil {
				r.config.Logger.Info(ctx, "migration interrupted between steps",
					"namespace", ns,
					"reached", result.Reached.String())
			}
			return result, err
		}

		if rf, ok := sess.(refresher); ok {
			if err := rf.Refresh(ctx); err != nil {
				if r.config.Logger != nil {
					r.config.Logger.Error(ctx, "namespace lock could not be extended",
						"namespace", ns,
						"reached", result.Reached.String(),
						"error", err)
				}
				return result, err
			}
		}

		op, to := step.Up, step.Revision
		if plan.Direction == migrator.Downgrade {
			op, to = step.Down, step.Parent
		}

		start := time.Now()
		err := sess.ApplyStep(context.WithoutCancel(ctx), op, to)
		elapsed := time.Since(start)

		if err != nil {
			if r.config.Collector != nil {
				r.config.Collector.IncStepFailures(string(plan.Direction))
			}
			if r.config.Logger != nil {
				r.config.Logger.Error(ctx, "migration step failed",
					"namespace", ns,
					"revision", step.Revision.String(),
					"direction", string(plan.Direction),
					"error", err)
			}
			return result, &migrator.StepApplyError{
				Namespace: ns,
				Revision:  step.Revision,
				Direction: plan.Direction,
				Cause:     err,
			}
		}

		result.Reached = to
		result.Applied = append(result.Applied, step.Revision)

		if r.config.Collector != nil {
			r.config.Collector.IncStepsApplied(string(plan.Direction))
			r.config.Collector.ObserveStepDuration(string(plan.Direction), elapsed.Seconds())
		}
		if r.config.Logger != nil {
			r.config.Logger.Debug(ctx, "migration step applied",
				"namespace", ns,
				"revision", step.Revision.String(),
				"recorded", to.String(),
				"duration", elapsed.String())
		}
	}

	return result, nil
}

// String renders a result for logs and CLI output.
func (r Result) String() string {
	return fmt.Sprintf("%s: %s -> %s (%d steps)", r.Namespace, r.From, r.Reached, len(r.Applied))
}
