package migrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevision_String(t *testing.T) {
	assert.Equal(t, "base", Base.String())
	assert.Equal(t, "head", Head.String())
	assert.Equal(t, "3f2a91c0", Revision("3f2a91c0").String())
}

func TestParseRevision(t *testing.T) {
	tests := []struct {
		in   string
		want Revision
	}{
		{"", Head},
		{"head", Head},
		{" HEAD ", Head},
		{"base", Base},
		{"Base", Base},
		{"3f2a91c0", "3f2a91c0"},
		{" 3f2a91c0 ", "3f2a91c0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRevision(tt.in), "input %q", tt.in)
	}
}

type recordingTx struct {
	stmts []string
	fail  string
}

func (r *recordingTx) Exec(ctx context.Context, query string, args ...any) error {
	if query == r.fail {
		return errors.New("syntax error")
	}
	r.stmts = append(r.stmts, query)
	return nil
}

func TestSQL(t *testing.T) {
	t.Run("executes statements in order and skips blanks", func(t *testing.T) {
		tx := &recordingTx{}

		err := SQL("CREATE TABLE a (id int)", "  ", "CREATE TABLE b (id int)")(context.Background(), tx)

		require.NoError(t, err)
		assert.Equal(t, []string{"CREATE TABLE a (id int)", "CREATE TABLE b (id int)"}, tx.stmts)
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		tx := &recordingTx{fail: "BROKEN"}

		err := SQL("CREATE TABLE a (id int)", "BROKEN", "CREATE TABLE b (id int)")(context.Background(), tx)

		assert.Error(t, err)
		assert.Equal(t, []string{"CREATE TABLE a (id int)"}, tx.stmts)
	})
}

func TestParseErrorPolicy(t *testing.T) {
	for in, want := range map[string]ErrorPolicy{
		"":                  FailFast,
		"fail_fast":         FailFast,
		"failFast":          FailFast,
		"continue_on_error": ContinueOnError,
		"continueOnError":   ContinueOnError,
	} {
		got, err := ParseErrorPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseErrorPolicy("retry")
	assert.Error(t, err)
}

func TestParseLockMode(t *testing.T) {
	got, err := ParseLockMode("")
	require.NoError(t, err)
	assert.Equal(t, LockFailFast, got)

	got, err = ParseLockMode("wait")
	require.NoError(t, err)
	assert.Equal(t, LockWait, got)

	_, err = ParseLockMode("spin")
	assert.Error(t, err)
}

func TestValidateNamespace(t *testing.T) {
	valid := []string{"tenant_a", "_shared", "Tenant-42", strings.Repeat("a", 63)}
	for _, ns := range valid {
		assert.NoError(t, ValidateNamespace(ns), ns)
	}

	invalid := []string{"", "1tenant", "tenant a", "tenant;drop", `te"nant`, "../x", strings.Repeat("a", 64)}
	for _, ns := range invalid {
		assert.ErrorIs(t, ValidateNamespace(ns), ErrInvalidNamespace, ns)
	}
}

func TestFleetRunReport(t *testing.T) {
	t.Run("all succeeded", func(t *testing.T) {
		r := &FleetRunReport{Tenants: []TenantResult{
			{Namespace: "a", Outcome: OutcomeSucceeded},
			{Namespace: "b", Outcome: OutcomeSucceeded},
		}}

		s, f, k := r.Counts()
		assert.Equal(t, [3]int{2, 0, 0}, [3]int{s, f, k})
		assert.True(t, r.Succeeded())
		assert.Equal(t, 0, r.ExitCode())
		assert.Empty(t, r.Failures())
	})

	t.Run("failures and skips", func(t *testing.T) {
		r := &FleetRunReport{Tenants: []TenantResult{
			{Namespace: "a", Outcome: OutcomeSucceeded},
			{Namespace: "b", Outcome: OutcomeFailed, Err: errors.New("boom")},
			{Namespace: "c", Outcome: OutcomeSkipped, SkipReason: SkipFailFast},
		}}

		s, f, k := r.Counts()
		assert.Equal(t, [3]int{1, 1, 1}, [3]int{s, f, k})
		assert.False(t, r.Succeeded())
		assert.Equal(t, 1, r.ExitCode())
		require.Len(t, r.Failures(), 1)
		assert.Equal(t, "b", r.Failures()[0].Namespace)
	})

	t.Run("skips alone fail the run", func(t *testing.T) {
		r := &FleetRunReport{Tenants: []TenantResult{
			{Namespace: "a", Outcome: OutcomeSkipped, SkipReason: SkipCancelled},
		}}

		assert.Equal(t, 1, r.ExitCode())
	})

	t.Run("empty report succeeds", func(t *testing.T) {
		assert.Equal(t, 0, (&FleetRunReport{}).ExitCode())
	})
}

func TestExcludedTables(t *testing.T) {
	assert.True(t, ExcludedTables["kombu_message"])
	assert.True(t, ExcludedTables["kombu_queue"])
	assert.False(t, ExcludedTables[VersionTable])
}
