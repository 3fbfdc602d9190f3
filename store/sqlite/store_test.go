package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterfaces(t *testing.T) {
	var _ store.NamespaceStore = (*Store)(nil)
	var _ store.Inspector = (*Store)(nil)
	var _ store.ReportStore = (*Store)(nil)
	var _ store.Locker = (*Locker)(nil)
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNamespaceLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	exists, err := s.NamespaceExists(ctx, "tenant_a")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.CurrentRevision(ctx, "tenant_a")
	assert.ErrorIs(t, err, migrator.ErrNamespaceNotFound)

	require.NoError(t, s.CreateNamespace(ctx, "tenant_a"))
	require.NoError(t, s.CreateNamespace(ctx, "tenant_a"), "creation is idempotent")
	require.NoError(t, s.CreateNamespace(ctx, "tenant_b"))

	exists, err = s.NamespaceExists(ctx, "tenant_a")
	require.NoError(t, err)
	assert.True(t, exists)

	rev, err := s.CurrentRevision(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, migrator.Base, rev)

	namespaces, err := s.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant_a", "tenant_b"}, namespaces, "history file is not a namespace")
}

func TestCreateNamespace_RejectsInvalidNames(t *testing.T) {
	s := openStore(t)

	err := s.CreateNamespace(context.Background(), "../escape")

	assert.ErrorIs(t, err, migrator.ErrInvalidNamespace)
}

func TestApplyStep_CommitsOperationAndRevisionTogether(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateNamespace(ctx, "tenant_a"))

	require.NoError(t, s.ApplyStep(ctx, "tenant_a", migrator.SQL("CREATE TABLE users (id INTEGER)"), "a1"))

	err := s.ApplyStep(ctx, "tenant_a", migrator.SQL("CREATE TABLE orders (id INTEGER)", "INSERT INTO missing VALUES (1)"), "a2")
	require.Error(t, err)

	rev, err := s.CurrentRevision(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, migrator.Revision("a1"), rev)

	tables, err := s.ListTables(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrator_version", "users"}, tables)
}

func TestApplyStep_RecordingBaseClearsRevision(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateNamespace(ctx, "tenant_a"))
	require.NoError(t, s.ApplyStep(ctx, "tenant_a", migrator.SQL("CREATE TABLE users (id INTEGER)"), "a1"))

	require.NoError(t, s.ApplyStep(ctx, "tenant_a", migrator.SQL("DROP TABLE users"), migrator.Base))

	rev, err := s.CurrentRevision(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, migrator.Base, rev)
}

func TestApplyStep_MissingNamespace(t *testing.T) {
	s := openStore(t)

	err := s.ApplyStep(context.Background(), "ghost", nil, "a1")

	assert.ErrorIs(t, err, migrator.ErrNamespaceNotFound)
}

func TestReports(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureHistoryTables(ctx))

	started := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	report := &migrator.FleetRunReport{
		ID:         uuid.NewString(),
		Chain:      "tenant",
		Target:     "a1",
		Policy:     migrator.FailFast,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Tenants: []migrator.TenantResult{
			{Namespace: "tenant_a", Outcome: migrator.OutcomeSucceeded, Reached: "a1", StepsApplied: 1},
			{Namespace: "tenant_b", Outcome: migrator.OutcomeFailed, Err: errors.New("boom")},
		},
	}
	require.NoError(t, s.SaveReport(ctx, report))

	got, err := s.GetReport(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, got.Tenants, 2)
	assert.EqualError(t, got.Tenants[1].Err, "boom")

	_, err = s.GetReport(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrReportNotFound)
}

func TestLocker_FailFast(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a := NewLocker(dir)
	b := NewLocker(dir)

	lease, err := a.Acquire(ctx, "tenant_a", migrator.LockFailFast)
	require.NoError(t, err)

	_, err = b.Acquire(ctx, "tenant_a", migrator.LockFailFast)
	assert.ErrorIs(t, err, migrator.ErrMigrationInProgress)

	other, err := b.Acquire(ctx, "tenant_b", migrator.LockFailFast)
	require.NoError(t, err, "locks are per namespace")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))

	again, err := b.Acquire(ctx, "tenant_a", migrator.LockFailFast)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_WaitBlocksUntilReleased(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	holder := NewLocker(dir)
	waiter := NewLocker(dir)

	lease, err := holder.Acquire(ctx, "tenant_a", migrator.LockFailFast)
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		l, err := waiter.Acquire(ctx, "tenant_a", migrator.LockWait)
		if err == nil {
			err = l.Release(ctx)
		}
		acquired <- err
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired a held lock")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, lease.Release(ctx))
	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestLocker_WaitHonoursContext(t *testing.T) {
	dir := t.TempDir()
	lease, err := NewLocker(dir).Acquire(context.Background(), "tenant_a", migrator.LockFailFast)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = NewLocker(dir).Acquire(ctx, "tenant_a", migrator.LockWait)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
