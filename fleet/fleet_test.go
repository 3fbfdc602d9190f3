package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/chain"
	"github.com/getpup/pupsourcing-migrator/registry"
	"github.com/getpup/pupsourcing-migrator/runner"
	"github.com/getpup/pupsourcing-migrator/session"
	"github.com/getpup/pupsourcing-migrator/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails every step applied to one namespace.
type failingStore struct {
	*memory.Store
	failNamespace string
}

func (s *failingStore) ApplyStep(ctx context.Context, ns string, op migrator.Operation, to migrator.Revision) error {
	if ns == s.failNamespace {
		return errors.New("relation already exists")
	}
	return s.Store.ApplyStep(ctx, ns, op, to)
}

type fixture struct {
	mem     *memory.Store
	locker  *memory.Locker
	reports *memory.ReportStore
	coord   *Coordinator
}

func newFixture(t *testing.T, tenants []string, opts ...func(*Config, *failingStore)) *fixture {
	t.Helper()

	c, err := chain.New(
		migrator.Step{Revision: "A", Up: migrator.SQL("CREATE TABLE a (id int)"), Down: migrator.SQL("DROP TABLE a")},
		migrator.Step{Revision: "B", Parent: "A", Up: migrator.SQL("CREATE TABLE b (id int)"), Down: migrator.SQL("DROP TABLE b")},
	)
	require.NoError(t, err)

	mem := memory.New()
	st := &failingStore{Store: mem}
	locker := memory.NewLocker()
	reports := memory.NewReportStore()

	cfg := Config{
		Registry: registry.New(registry.Config{Source: registry.Static(tenants...), Existence: mem}),
		Opener:   &session.Opener{Store: st, Locker: locker},
		Runner:   runner.New(runner.Config{Chain: c}),
		Reports:  reports,
	}
	for _, opt := range opts {
		opt(&cfg, st)
	}

	return &fixture{mem: mem, locker: locker, reports: reports, coord: New(cfg)}
}

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tenant_%02d", i)
	}
	return out
}

func failOn(ns string) func(*Config, *failingStore) {
	return func(cfg *Config, st *failingStore) { st.failNamespace = ns }
}

func workers(n int) func(*Config, *failingStore) {
	return func(cfg *Config, st *failingStore) { cfg.Workers = n }
}

func outcomes(r *migrator.FleetRunReport) []migrator.Outcome {
	out := make([]migrator.Outcome, len(r.Tenants))
	for i, t := range r.Tenants {
		out[i] = t.Outcome
	}
	return out
}

func TestRun_MigratesEveryTenantToHead(t *testing.T) {
	f := newFixture(t, names(3))
	ctx := context.Background()

	report, err := f.coord.Run(ctx, Request{Target: migrator.Head, Selector: registry.All(), CreateIfMissing: true})

	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, 0, report.ExitCode())
	assert.Equal(t, migrator.Revision("B"), report.Target)
	assert.Equal(t, "tenant", report.Chain)
	assert.Equal(t, migrator.FailFast, report.Policy)
	assert.NotEmpty(t, report.ID)
	for i, res := range report.Tenants {
		assert.Equal(t, names(3)[i], res.Namespace)
		assert.Equal(t, migrator.Base, res.From)
		assert.Equal(t, migrator.Revision("B"), res.Reached)
		assert.Equal(t, 2, res.StepsApplied)

		rev, err := f.mem.CurrentRevision(ctx, res.Namespace)
		require.NoError(t, err)
		assert.Equal(t, migrator.Revision("B"), rev)
	}
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	f := newFixture(t, names(3))
	ctx := context.Background()
	req := Request{Target: migrator.Head, Selector: registry.All(), CreateIfMissing: true}

	_, err := f.coord.Run(ctx, req)
	require.NoError(t, err)
	report, err := f.coord.Run(ctx, req)

	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	for _, res := range report.Tenants {
		assert.Equal(t, 0, res.StepsApplied)
		assert.Len(t, f.mem.Statements(res.Namespace), 2)
	}
}

func TestRun_ContinueOnErrorAttemptsEveryTenant(t *testing.T) {
	tenants := []string{"tenant_a", "tenant_b", "tenant_c", "tenant_d", "tenant_e"}
	f := newFixture(t, tenants, failOn("tenant_d"))

	report, err := f.coord.Run(context.Background(), Request{
		Target:          migrator.Head,
		Selector:        registry.All(),
		ErrorPolicy:     migrator.ContinueOnError,
		CreateIfMissing: true,
	})

	require.NoError(t, err)
	succeeded, failed, skipped := report.Counts()
	assert.Equal(t, 4, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 1, report.ExitCode())

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "tenant_d", failures[0].Namespace)
	assert.Equal(t, migrator.Revision("A"), failures[0].FailedRevision)
	assert.ErrorIs(t, failures[0].Err, migrator.ErrStepApply)
	assert.Equal(t, migrator.Base, failures[0].Reached)
}

func TestRun_FailFastSkipsRemainingTenants(t *testing.T) {
	tenants := []string{"tenant_a", "tenant_b", "tenant_c", "tenant_d", "tenant_e"}
	f := newFixture(t, tenants, failOn("tenant_d"))

	report, err := f.coord.Run(context.Background(), Request{
		Target:          migrator.Head,
		Selector:        registry.All(),
		ErrorPolicy:     migrator.FailFast,
		CreateIfMissing: true,
	})

	require.NoError(t, err)
	assert.Equal(t, []migrator.Outcome{
		migrator.OutcomeSucceeded,
		migrator.OutcomeSucceeded,
		migrator.OutcomeSucceeded,
		migrator.OutcomeFailed,
		migrator.OutcomeSkipped,
	}, outcomes(report))
	assert.Equal(t, migrator.SkipFailFast, report.Tenants[4].SkipReason)

	exists, err := f.mem.NamespaceExists(context.Background(), "tenant_e")
	require.NoError(t, err)
	assert.False(t, exists, "skipped tenant is never touched")
}

func TestRun_UnknownTargetTouchesNothing(t *testing.T) {
	f := newFixture(t, names(3))

	report, err := f.coord.Run(context.Background(), Request{Target: "Z", Selector: registry.All(), CreateIfMissing: true})

	assert.Nil(t, report)
	assert.ErrorIs(t, err, migrator.ErrUnknownRevision)
	namespaces, err := f.mem.ListNamespaces(context.Background())
	require.NoError(t, err)
	assert.Empty(t, namespaces)
}

func TestRun_EmptySelectionIsFatal(t *testing.T) {
	f := newFixture(t, names(3))

	_, err := f.coord.Run(context.Background(), Request{Target: migrator.Head, Selector: registry.Range(3, 3)})

	assert.ErrorIs(t, err, migrator.ErrEmptySelection)
}

func TestRun_EmptySelectionAllowed(t *testing.T) {
	f := newFixture(t, names(3))

	report, err := f.coord.Run(context.Background(), Request{Target: migrator.Head, Selector: registry.Range(3, 3), AllowEmpty: true})

	require.NoError(t, err)
	assert.Empty(t, report.Tenants)
	assert.True(t, report.Succeeded())
}

func TestRun_RangesPartitionTheFleet(t *testing.T) {
	f := newFixture(t, names(10))
	ctx := context.Background()

	first, err := f.coord.Run(ctx, Request{Target: migrator.Head, Selector: registry.Range(0, 5), CreateIfMissing: true})
	require.NoError(t, err)
	second, err := f.coord.Run(ctx, Request{Target: migrator.Head, Selector: registry.Range(5, 10), CreateIfMissing: true})
	require.NoError(t, err)

	assert.Len(t, first.Tenants, 5)
	assert.Len(t, second.Tenants, 5)
	for _, ns := range names(10) {
		rev, err := f.mem.CurrentRevision(ctx, ns)
		require.NoError(t, err)
		assert.Equal(t, migrator.Revision("B"), rev, ns)
		assert.Len(t, f.mem.Statements(ns), 2, "%s migrated exactly once", ns)
	}
}

func TestRun_MissingNamespaceWithoutCreate(t *testing.T) {
	f := newFixture(t, []string{"tenant_a"})

	report, err := f.coord.Run(context.Background(), Request{Target: migrator.Head, Selector: registry.All()})

	require.NoError(t, err)
	require.Len(t, report.Tenants, 1)
	assert.Equal(t, migrator.OutcomeFailed, report.Tenants[0].Outcome)
	assert.ErrorIs(t, report.Tenants[0].Err, migrator.ErrNamespaceNotFound)
}

func TestRun_LockedNamespaceFailsWithMigrationInProgress(t *testing.T) {
	f := newFixture(t, []string{"tenant_a", "tenant_b", "tenant_c"})
	ctx := context.Background()

	lease, err := f.locker.Acquire(ctx, "tenant_b", migrator.LockFailFast)
	require.NoError(t, err)
	defer func() { _ = lease.Release(ctx) }()

	report, err := f.coord.Run(ctx, Request{
		Target:          migrator.Head,
		Selector:        registry.All(),
		ErrorPolicy:     migrator.ContinueOnError,
		CreateIfMissing: true,
	})

	require.NoError(t, err)
	assert.Equal(t, []migrator.Outcome{
		migrator.OutcomeSucceeded,
		migrator.OutcomeFailed,
		migrator.OutcomeSucceeded,
	}, outcomes(report))
	assert.ErrorIs(t, report.Tenants[1].Err, migrator.ErrMigrationInProgress)
}

func TestRun_ParallelWorkers(t *testing.T) {
	f := newFixture(t, names(20), workers(4))
	ctx := context.Background()

	report, err := f.coord.Run(ctx, Request{Target: migrator.Head, Selector: registry.All(), CreateIfMissing: true})

	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	require.Len(t, report.Tenants, 20)
	for i, res := range report.Tenants {
		assert.Equal(t, names(20)[i], res.Namespace, "report keeps sorted order")
	}
}

func TestRun_DowngradeToBase(t *testing.T) {
	f := newFixture(t, names(2))
	ctx := context.Background()

	_, err := f.coord.Run(ctx, Request{Target: migrator.Head, Selector: registry.All(), CreateIfMissing: true})
	require.NoError(t, err)

	report, err := f.coord.Run(ctx, Request{Target: migrator.Base, Selector: registry.All()})

	require.NoError(t, err)
	assert.True(t, report.Succeeded())
	for _, ns := range names(2) {
		rev, err := f.mem.CurrentRevision(ctx, ns)
		require.NoError(t, err)
		assert.Equal(t, migrator.Base, rev)
		tables, err := f.mem.ListTables(ctx, ns)
		require.NoError(t, err)
		assert.Equal(t, []string{migrator.VersionTable}, tables)
	}
}

func TestRun_CancellationSkipsUnstartedTenants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := chain.New(
		migrator.Step{Revision: "A", Up: func(stepCtx context.Context, tx migrator.Tx) error {
			cancel()
			return tx.Exec(stepCtx, "CREATE TABLE a (id int)")
		}},
		migrator.Step{Revision: "B", Parent: "A", Up: migrator.SQL("CREATE TABLE b (id int)")},
	)
	require.NoError(t, err)

	mem := memory.New()
	coord := New(Config{
		Registry: registry.New(registry.Config{Source: registry.Static(names(3)...)}),
		Opener:   &session.Opener{Store: mem, Locker: memory.NewLocker()},
		Runner:   runner.New(runner.Config{Chain: c}),
	})

	report, err := coord.Run(ctx, Request{Target: migrator.Head, Selector: registry.All(), CreateIfMissing: true})

	require.NoError(t, err)
	for _, res := range report.Tenants {
		assert.Equal(t, migrator.OutcomeSkipped, res.Outcome, res.Namespace)
		assert.Equal(t, migrator.SkipCancelled, res.SkipReason, res.Namespace)
	}
	assert.Equal(t, migrator.Revision("A"), report.Tenants[0].Reached, "interrupted tenant records the revision it reached")

	rev, err := mem.CurrentRevision(context.Background(), "tenant_00")
	require.NoError(t, err)
	assert.Equal(t, migrator.Revision("A"), rev)
}

func TestRun_WrongDirectionFailsTenantWithoutTouchingIt(t *testing.T) {
	f := newFixture(t, []string{"tenant_a", "tenant_b"})
	ctx := context.Background()
	_, err := f.coord.Run(ctx, Request{Target: migrator.Head, Selector: registry.Explicit("tenant_a"), CreateIfMissing: true})
	require.NoError(t, err)

	report, err := f.coord.Run(ctx, Request{
		Target:          "A",
		Selector:        registry.All(),
		Direction:       migrator.Upgrade,
		ErrorPolicy:     migrator.ContinueOnError,
		CreateIfMissing: true,
	})

	require.NoError(t, err)
	assert.Equal(t, []migrator.Outcome{migrator.OutcomeFailed, migrator.OutcomeSucceeded}, outcomes(report))
	assert.ErrorIs(t, report.Tenants[0].Err, migrator.ErrWrongDirection)
	assert.Equal(t, migrator.Revision("B"), report.Tenants[0].Reached)
	assert.Equal(t, 0, report.Tenants[0].StepsApplied)
	assert.Equal(t, migrator.Revision("A"), report.Tenants[1].Reached)

	rev, err := f.mem.CurrentRevision(ctx, "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, migrator.Revision("B"), rev)
	assert.Len(t, f.mem.Statements("tenant_a"), 2, "no down step ran")
}

func TestRun_ConcurrentRunsOnOneNamespaceApplyEachStepOnce(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	c, err := chain.New(
		migrator.Step{Revision: "A", Up: func(ctx context.Context, tx migrator.Tx) error {
			once.Do(func() { close(started) })
			<-release
			return tx.Exec(ctx, "CREATE TABLE a (id int)")
		}},
		migrator.Step{Revision: "B", Parent: "A", Up: migrator.SQL("CREATE TABLE b (id int)")},
	)
	require.NoError(t, err)

	mem := memory.New()
	locker := memory.NewLocker()
	newCoord := func() *Coordinator {
		return New(Config{
			Registry: registry.New(registry.Config{Source: registry.Static("tenant_a"), Existence: mem}),
			Opener:   &session.Opener{Store: mem, Locker: locker, LockMode: migrator.LockWait},
			Runner:   runner.New(runner.Config{Chain: c}),
		})
	}
	req := Request{Target: migrator.Head, Selector: registry.All(), CreateIfMissing: true}

	var (
		wg      sync.WaitGroup
		reports [2]*migrator.FleetRunReport
		errs    [2]error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], errs[0] = newCoord().Run(context.Background(), req)
	}()
	<-started
	assert.True(t, locker.Held("tenant_a"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], errs[1] = newCoord().Run(context.Background(), req)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	applied := 0
	for i := range reports {
		require.NoError(t, errs[i])
		assert.True(t, reports[i].Succeeded(), "run %d", i)
		applied += reports[i].Tenants[0].StepsApplied
	}
	assert.Equal(t, c.Len(), applied)
	assert.Equal(t, []string{"CREATE TABLE a (id int)", "CREATE TABLE b (id int)"}, mem.Statements("tenant_a"))
}

func TestRun_SavesReport(t *testing.T) {
	f := newFixture(t, names(2))
	ctx := context.Background()

	report, err := f.coord.Run(ctx, Request{Target: migrator.Head, Selector: registry.All(), CreateIfMissing: true})
	require.NoError(t, err)

	saved, err := f.reports.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ID, saved.ID)
	assert.Len(t, saved.Tenants, 2)
}

func TestSummary(t *testing.T) {
	report := &migrator.FleetRunReport{
		ID:     "run-1",
		Chain:  "tenant",
		Target: "B",
		Tenants: []migrator.TenantResult{
			{Outcome: migrator.OutcomeSucceeded},
			{Outcome: migrator.OutcomeFailed},
			{Outcome: migrator.OutcomeSkipped},
		},
	}

	assert.Equal(t, "tenant run run-1 to B: 1 succeeded, 1 failed, 1 skipped", Summary(report))
}
