package migrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Revision is an opaque identifier for one point in a schema's evolution history.
type Revision string

const (
	// Base is the revision of a namespace that has never been migrated.
	// As a target it means "downgrade everything".
	Base Revision = ""

	// Head is the symbolic target for the most recent revision in a chain.
	Head Revision = "head"
)

// String returns the token, or "base" for the empty revision.
func (r Revision) String() string {
	if r == Base {
		return "base"
	}
	return string(r)
}

// ParseRevision parses an operator-supplied target. "head" and the empty
// string mean Head; "base" means Base. Anything else is a revision token.
func ParseRevision(s string) Revision {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "head":
		return Head
	case "base":
		return Base
	default:
		return Revision(strings.TrimSpace(s))
	}
}

// Tx is the transactional handle passed to step operations.
// Every statement executed through it commits or rolls back together with
// the namespace's revision bookkeeping.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
}

// Operation is a single schema transformation executed inside a step transaction.
type Operation func(ctx context.Context, tx Tx) error

// SQL returns an Operation that executes the given statements in order.
// Empty statements are skipped.
func SQL(stmts ...string) Operation {
	return func(ctx context.Context, tx Tx) error {
		for _, stmt := range stmts {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	}
}

// Step is one link in a revision chain.
type Step struct {
	// Revision uniquely identifies this step within its chain.
	Revision Revision

	// Parent is the revision this step builds on, or Base for the root step.
	Parent Revision

	// Description is a short human readable summary (optional).
	Description string

	// Up is the forward operation (required).
	Up Operation

	// Down is the reverse operation. Nil means the step cannot be downgraded.
	Down Operation
}

// NamespaceRecord is the revision currently recorded for a namespace.
type NamespaceRecord struct {
	Namespace string
	Revision  Revision
}

// TenantDescriptor describes one tenant namespace known to the registry.
type TenantDescriptor struct {
	// Namespace is the tenant's namespace identifier.
	Namespace string

	// Exists reports whether the namespace is present in the database.
	Exists bool
}

// ErrorPolicy controls how the fleet coordinator reacts to a tenant failure.
type ErrorPolicy string

const (
	// FailFast stops scheduling further tenants after the first failure.
	FailFast ErrorPolicy = "fail_fast"

	// ContinueOnError records the failure and keeps going.
	ContinueOnError ErrorPolicy = "continue_on_error"
)

// ParseErrorPolicy parses "fail_fast"/"failFast" or "continue_on_error"/"continueOnError".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "", "failfast":
		return FailFast, nil
	case "continueonerror", "continue":
		return ContinueOnError, nil
	default:
		return "", fmt.Errorf("unknown error policy %q", s)
	}
}

// LockMode controls what happens when a namespace is already being migrated.
type LockMode string

const (
	// LockFailFast returns MigrationInProgressError immediately on contention.
	LockFailFast LockMode = "fail_fast"

	// LockWait blocks until the lock is free or the context ends.
	LockWait LockMode = "wait"
)

// ParseLockMode parses "fail_fast" or "wait".
func ParseLockMode(s string) (LockMode, error) {
	switch strings.ToLower(s) {
	case "", "fail_fast", "failfast":
		return LockFailFast, nil
	case "wait", "block":
		return LockWait, nil
	default:
		return "", fmt.Errorf("unknown lock mode %q", s)
	}
}

// Direction is the direction a plan walks the chain.
type Direction string

const (
	Upgrade   Direction = "upgrade"
	Downgrade Direction = "downgrade"
)

// VersionTable is the bookkeeping table holding a namespace's current revision.
const VersionTable = "migrator_version"

// ExcludedTables lists storage-internal queueing tables that are never part of
// the versioned schema. Drift comparison ignores them.
var ExcludedTables = map[string]bool{
	"kombu_message": true,
	"kombu_queue":   true,
}

var namespaceRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// ValidateNamespace checks that a namespace identifier is safe to use as a
// schema, database or file name.
func ValidateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidNamespace)
	}
	if len(name) > 63 {
		return fmt.Errorf("%w: %q is longer than 63 characters", ErrInvalidNamespace, name)
	}
	if !namespaceRegex.MatchString(name) {
		return fmt.Errorf("%w: %q must start with a letter or underscore and contain only letters, numbers, underscores and hyphens", ErrInvalidNamespace, name)
	}
	return nil
}

// Outcome is the result of one tenant in a fleet run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// SkipReason explains why a tenant was skipped.
type SkipReason string

const (
	SkipNone      SkipReason = ""
	SkipFailFast  SkipReason = "fail_fast"
	SkipCancelled SkipReason = "cancelled"
)

// TenantResult is the outcome of one namespace within a fleet run.
type TenantResult struct {
	Namespace  string
	Outcome    Outcome
	SkipReason SkipReason

	// From is the revision recorded before the run started.
	From Revision

	// Reached is the revision recorded when the run for this namespace ended.
	Reached Revision

	// StepsApplied is the number of steps committed during this run.
	StepsApplied int

	// FailedRevision is the step that failed, if any.
	FailedRevision Revision

	// Err is the failure cause for failed tenants.
	Err error

	Duration time.Duration
}

// FleetRunReport summarizes a fleet invocation. It is owned by the invocation
// that produced it and is not modified after being returned.
type FleetRunReport struct {
	// ID is the unique identifier of this run (UUID).
	ID string

	// Chain names the revision chain that was applied ("tenant" or "public").
	Chain string

	// Target is the concrete revision the run converged to.
	Target Revision

	Policy     ErrorPolicy
	StartedAt  time.Time
	FinishedAt time.Time

	// Tenants holds one result per selected namespace in processing order.
	Tenants []TenantResult
}

// Counts returns the number of succeeded, failed and skipped tenants.
func (r *FleetRunReport) Counts() (succeeded, failed, skipped int) {
	for _, t := range r.Tenants {
		switch t.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		case OutcomeSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

// Succeeded reports whether every selected tenant reached the target.
func (r *FleetRunReport) Succeeded() bool {
	_, failed, skipped := r.Counts()
	return failed == 0 && skipped == 0
}

// Failures returns the failed tenant results in processing order.
func (r *FleetRunReport) Failures() []TenantResult {
	var out []TenantResult
	for _, t := range r.Tenants {
		if t.Outcome == OutcomeFailed {
			out = append(out, t)
		}
	}
	return out
}

// ExitCode maps the report to a process exit status: 0 when all succeeded, 1 otherwise.
func (r *FleetRunReport) ExitCode() int {
	if r.Succeeded() {
		return 0
	}
	return 1
}
