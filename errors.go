package migrator

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRevision indicates a revision token that is not present in the chain.
	// This is always fatal and is reported before any namespace is touched when the
	// target is unknown.
	ErrUnknownRevision = errors.New("unknown revision")

	// ErrChainIntegrity indicates a malformed chain (ambiguous head, cycle, dangling parent).
	ErrChainIntegrity = errors.New("revision chain integrity violated")

	// ErrEmptySelection indicates the tenant selector matched no tenants.
	ErrEmptySelection = errors.New("tenant selection is empty")

	// ErrInvalidSelector indicates a tenant selector that could not be parsed or is out of bounds.
	ErrInvalidSelector = errors.New("invalid tenant selector")

	// ErrInvalidNamespace indicates a namespace identifier that is unsafe to use.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrNamespaceNotFound indicates a missing namespace while creation is disabled.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrMigrationInProgress indicates another session holds the namespace lock.
	// Callers may retry at a higher level; the runner never retries on its own.
	ErrMigrationInProgress = errors.New("migration in progress")

	// ErrStepApply indicates a step operation failed and was rolled back.
	ErrStepApply = errors.New("step apply failed")

	// ErrNoReverseOperation indicates a downgrade through a step without a Down operation.
	ErrNoReverseOperation = errors.New("no reverse operation")

	// ErrLockLost indicates a namespace lock expired or was taken over while
	// its holder was still migrating.
	ErrLockLost = errors.New("namespace lock lost")

	// ErrWrongDirection indicates that reaching the target would walk the chain
	// against the requested direction, e.g. an upgrade to an older revision.
	ErrWrongDirection = errors.New("target lies in the wrong direction")
)

// UnknownRevisionError reports a revision missing from the chain.
type UnknownRevisionError struct {
	Revision Revision

	// Namespace is set when the unknown revision was read from a namespace record.
	Namespace string
}

func (e *UnknownRevisionError) Error() string {
	if e.Namespace != "" {
		return fmt.Sprintf("namespace %s is at revision %s which is not in the chain", e.Namespace, e.Revision)
	}
	return fmt.Sprintf("unknown revision %s", e.Revision)
}

func (e *UnknownRevisionError) Is(target error) bool { return target == ErrUnknownRevision }

// ChainIntegrityError reports why a chain was rejected.
type ChainIntegrityError struct {
	Reason string
}

func (e *ChainIntegrityError) Error() string {
	return "revision chain integrity violated: " + e.Reason
}

func (e *ChainIntegrityError) Is(target error) bool { return target == ErrChainIntegrity }

// NamespaceNotFoundError reports a missing namespace.
type NamespaceNotFoundError struct {
	Namespace string
}

func (e *NamespaceNotFoundError) Error() string {
	return fmt.Sprintf("namespace %s not found", e.Namespace)
}

func (e *NamespaceNotFoundError) Is(target error) bool { return target == ErrNamespaceNotFound }

// MigrationInProgressError reports lock contention on a namespace.
type MigrationInProgressError struct {
	Namespace string
}

func (e *MigrationInProgressError) Error() string {
	return fmt.Sprintf("migration already in progress for namespace %s", e.Namespace)
}

func (e *MigrationInProgressError) Is(target error) bool { return target == ErrMigrationInProgress }

// StepApplyError reports a failed step. The namespace stays at the last
// successfully applied revision.
type StepApplyError struct {
	Namespace string
	Revision  Revision
	Direction Direction
	Cause     error
}

func (e *StepApplyError) Error() string {
	return fmt.Sprintf("namespace %s: %s step %s failed: %v", e.Namespace, e.Direction, e.Revision, e.Cause)
}

func (e *StepApplyError) Is(target error) bool { return target == ErrStepApply }

func (e *StepApplyError) Unwrap() error { return e.Cause }

// NoReverseOperationError reports a downgrade through an irreversible step.
type NoReverseOperationError struct {
	Namespace string
	Revision  Revision
}

func (e *NoReverseOperationError) Error() string {
	if e.Namespace != "" {
		return fmt.Sprintf("namespace %s: step %s has no reverse operation", e.Namespace, e.Revision)
	}
	return fmt.Sprintf("step %s has no reverse operation", e.Revision)
}

func (e *NoReverseOperationError) Is(target error) bool { return target == ErrNoReverseOperation }

// WrongDirectionError reports a namespace whose plan walks the chain against
// the requested direction. No step was applied.
type WrongDirectionError struct {
	Namespace string
	Requested Direction
	From      Revision
	To        Revision
}

func (e *WrongDirectionError) Error() string {
	return fmt.Sprintf("namespace %s: refusing %s from %s to %s: target lies in the wrong direction", e.Namespace, e.Requested, e.From, e.To)
}

func (e *WrongDirectionError) Is(target error) bool { return target == ErrWrongDirection }
