package store

import (
	"context"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
)

// MockNamespaceStore is a configurable mock implementation of NamespaceStore
// for use in tests. It allows setting up expected return values, tracking method
// calls, and injecting errors for testing error paths.
type MockNamespaceStore struct {
	mu sync.RWMutex

	// NamespaceExistsFunc is called by NamespaceExists if set.
	NamespaceExistsFunc func(ctx context.Context, namespace string) (bool, error)

	// CreateNamespaceFunc is called by CreateNamespace if set.
	CreateNamespaceFunc func(ctx context.Context, namespace string) error

	// CurrentRevisionFunc is called by CurrentRevision if set.
	CurrentRevisionFunc func(ctx context.Context, namespace string) (migrator.Revision, error)

	// ApplyStepFunc is called by ApplyStep if set.
	ApplyStepFunc func(ctx context.Context, namespace string, op migrator.Operation, to migrator.Revision) error

	// ListNamespacesFunc is called by ListNamespaces if set.
	ListNamespacesFunc func(ctx context.Context) ([]string, error)

	// Call tracking
	NamespaceExistsCalls []NamespaceCall
	CreateNamespaceCalls []NamespaceCall
	CurrentRevisionCalls []NamespaceCall
	ApplyStepCalls       []ApplyStepCall
	ListNamespacesCalls  int
}

// NamespaceCall records a call that only takes a namespace.
type NamespaceCall struct {
	Namespace string
}

// ApplyStepCall records the parameters of an ApplyStep call.
type ApplyStepCall struct {
	Namespace string
	To        migrator.Revision
}

// NewMockNamespaceStore creates a new mock namespace store.
func NewMockNamespaceStore() *MockNamespaceStore {
	return &MockNamespaceStore{}
}

// NamespaceExists implements NamespaceStore. Defaults to true.
func (m *MockNamespaceStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	m.mu.Lock()
	m.NamespaceExistsCalls = append(m.NamespaceExistsCalls, NamespaceCall{Namespace: namespace})
	m.mu.Unlock()

	if m.NamespaceExistsFunc != nil {
		return m.NamespaceExistsFunc(ctx, namespace)
	}

	return true, nil
}

// CreateNamespace implements NamespaceStore.
func (m *MockNamespaceStore) CreateNamespace(ctx context.Context, namespace string) error {
	m.mu.Lock()
	m.CreateNamespaceCalls = append(m.CreateNamespaceCalls, NamespaceCall{Namespace: namespace})
	m.mu.Unlock()

	if m.CreateNamespaceFunc != nil {
		return m.CreateNamespaceFunc(ctx, namespace)
	}

	return nil
}

// CurrentRevision implements NamespaceStore. Defaults to migrator.Base.
func (m *MockNamespaceStore) CurrentRevision(ctx context.Context, namespace string) (migrator.Revision, error) {
	m.mu.Lock()
	m.CurrentRevisionCalls = append(m.CurrentRevisionCalls, NamespaceCall{Namespace: namespace})
	m.mu.Unlock()

	if m.CurrentRevisionFunc != nil {
		return m.CurrentRevisionFunc(ctx, namespace)
	}

	return migrator.Base, nil
}

// ApplyStep implements NamespaceStore.
func (m *MockNamespaceStore) ApplyStep(ctx context.Context, namespace string, op migrator.Operation, to migrator.Revision) error {
	m.mu.Lock()
	m.ApplyStepCalls = append(m.ApplyStepCalls, ApplyStepCall{Namespace: namespace, To: to})
	m.mu.Unlock()

	if m.ApplyStepFunc != nil {
		return m.ApplyStepFunc(ctx, namespace, op, to)
	}

	return nil
}

// ListNamespaces implements NamespaceStore.
func (m *MockNamespaceStore) ListNamespaces(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	m.ListNamespacesCalls++
	m.mu.Unlock()

	if m.ListNamespacesFunc != nil {
		return m.ListNamespacesFunc(ctx)
	}

	return []string{}, nil
}

// AppliedRevisions returns the revisions passed to ApplyStep for a namespace, in call order.
func (m *MockNamespaceStore) AppliedRevisions(namespace string) []migrator.Revision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []migrator.Revision
	for _, c := range m.ApplyStepCalls {
		if c.Namespace == namespace {
			out = append(out, c.To)
		}
	}
	return out
}

// Reset clears all call tracking data.
func (m *MockNamespaceStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.NamespaceExistsCalls = nil
	m.CreateNamespaceCalls = nil
	m.CurrentRevisionCalls = nil
	m.ApplyStepCalls = nil
	m.ListNamespacesCalls = 0
}

// MockLocker is a configurable mock implementation of Locker.
type MockLocker struct {
	mu sync.Mutex

	// AcquireFunc is called by Acquire if set. Otherwise a lease is always granted.
	AcquireFunc func(ctx context.Context, namespace string, mode migrator.LockMode) (Lease, error)

	AcquireCalls []AcquireCall
	Released     []string
}

// AcquireCall records the parameters of an Acquire call.
type AcquireCall struct {
	Namespace string
	Mode      migrator.LockMode
}

// NewMockLocker creates a new mock locker.
func NewMockLocker() *MockLocker {
	return &MockLocker{}
}

// Acquire implements Locker.
func (m *MockLocker) Acquire(ctx context.Context, namespace string, mode migrator.LockMode) (Lease, error) {
	m.mu.Lock()
	m.AcquireCalls = append(m.AcquireCalls, AcquireCall{Namespace: namespace, Mode: mode})
	m.mu.Unlock()

	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, namespace, mode)
	}

	return &mockLease{locker: m, namespace: namespace}, nil
}

// ReleasedNamespaces returns the namespaces whose leases were released.
func (m *MockLocker) ReleasedNamespaces() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Released))
	copy(out, m.Released)
	return out
}

type mockLease struct {
	once      sync.Once
	locker    *MockLocker
	namespace string
}

func (l *mockLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		l.locker.Released = append(l.locker.Released, l.namespace)
		l.locker.mu.Unlock()
	})
	return nil
}

// MockRefreshingLease is a Lease that also implements Refresher.
type MockRefreshingLease struct {
	mu sync.Mutex

	// RefreshFunc is called by Refresh if set. Otherwise the refresh succeeds.
	RefreshFunc func(ctx context.Context) error

	Refreshes int
	Released  bool
}

// Refresh implements Refresher.
func (l *MockRefreshingLease) Refresh(ctx context.Context) error {
	l.mu.Lock()
	l.Refreshes++
	fn := l.RefreshFunc
	l.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// Release implements Lease.
func (l *MockRefreshingLease) Release(ctx context.Context) error {
	l.mu.Lock()
	l.Released = true
	l.mu.Unlock()
	return nil
}

// RefreshCount returns the number of Refresh calls so far.
func (l *MockRefreshingLease) RefreshCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Refreshes
}
