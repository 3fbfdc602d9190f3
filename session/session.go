// Package session opens exclusive, namespace-scoped sessions against a store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/getpup/pupsourcing/es"
)

// Opener opens namespace sessions. The zero LockMode means migrator.LockFailFast.
type Opener struct {
	// Store performs namespace-scoped reads and step transactions (required).
	Store store.NamespaceStore

	// Locker serializes sessions on the same namespace (required).
	Locker store.Locker

	// LockMode selects fail-fast or blocking lock acquisition.
	LockMode migrator.LockMode

	// Logger is for observability (optional).
	Logger es.Logger

	// Collector records lock and session metrics (optional).
	Collector *metrics.Collector
}

// Session is exclusive access to one namespace for the duration of a run.
// A Session is used by a single goroutine.
type Session struct {
	namespace string
	store     store.NamespaceStore
	lease     store.Lease
	logger    es.Logger
	collector *metrics.Collector

	closeOnce sync.Once
	closeErr  error
}

// Open validates the namespace, acquires its lock, and makes sure it exists.
// When the namespace is absent it is created if createIfMissing is set;
// otherwise a *migrator.NamespaceNotFoundError is returned. The lock is
// released on every failure path.
func (o *Opener) Open(ctx context.Context, namespace string, createIfMissing bool) (*Session, error) {
	if err := migrator.ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	mode := o.LockMode
	if mode == "" {
		mode = migrator.LockFailFast
	}

	start := time.Now()
	lease, err := o.Locker.Acquire(ctx, namespace, mode)
	if o.Collector != nil {
		o.Collector.ObserveLockWait(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, migrator.ErrMigrationInProgress) {
			if o.Collector != nil {
				o.Collector.IncLockContention()
			}
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock namespace %s: %w", namespace, err)
	}

	exists, err := o.Store.NamespaceExists(ctx, namespace)
	if err != nil {
		o.release(ctx, namespace, lease)
		return nil, fmt.Errorf("failed to check namespace %s: %w", namespace, err)
	}

	if !exists {
		if !createIfMissing {
			o.release(ctx, namespace, lease)
			return nil, &migrator.NamespaceNotFoundError{Namespace: namespace}
		}
		if err := o.Store.CreateNamespace(ctx, namespace); err != nil {
			o.release(ctx, namespace, lease)
			return nil, fmt.Errorf("failed to create namespace %s: %w", namespace, err)
		}
		if o.Collector != nil {
			o.Collector.IncNamespacesCreated()
		}
		if o.Logger != nil {
			o.Logger.Info(ctx, "namespace created", "namespace", namespace)
		}
	}

	if o.Collector != nil {
		o.Collector.IncActiveSessions()
	}

	return &Session{
		namespace: namespace,
		store:     o.Store,
		lease:     lease,
		logger:    o.Logger,
		collector: o.Collector,
	}, nil
}

func (o *Opener) release(ctx context.Context, namespace string, lease store.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil && o.Logger != nil {
		o.Logger.Error(ctx, "failed to release namespace lock", "namespace", namespace, "error", err)
	}
}

// Namespace returns the namespace this session is bound to.
func (s *Session) Namespace() string {
	return s.namespace
}

// CurrentRevision returns the recorded revision, or migrator.Base if the
// namespace has never been migrated.
func (s *Session) CurrentRevision(ctx context.Context) (migrator.Revision, error) {
	rev, err := s.store.CurrentRevision(ctx, s.namespace)
	if err != nil {
		return migrator.Base, fmt.Errorf("failed to read revision of %s: %w", s.namespace, err)
	}
	return rev, nil
}

// ApplyStep executes op and records to as the new revision in one atomic unit.
func (s *Session) ApplyStep(ctx context.Context, op migrator.Operation, to migrator.Revision) error {
	return s.store.ApplyStep(ctx, s.namespace, op, to)
}

// Refresh extends the lease when it expires on its own. Leases bound to a
// connection or a file never expire and are left alone.
func (s *Session) Refresh(ctx context.Context) error {
	r, ok := s.lease.(store.Refresher)
	if !ok {
		return nil
	}
	if err := r.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh lock on %s: %w", s.namespace, err)
	}
	return nil
}

// Close releases the namespace lock. Calling Close more than once is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.lease.Release(context.WithoutCancel(ctx))
		if s.collector != nil {
			s.collector.DecActiveSessions()
		}
		if s.closeErr != nil && s.logger != nil {
			s.logger.Error(ctx, "failed to release namespace lock", "namespace", s.namespace, "error", s.closeErr)
		}
	})
	return s.closeErr
}
