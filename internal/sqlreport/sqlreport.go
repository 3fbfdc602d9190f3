// Package sqlreport implements store.ReportStore on database/sql for every
// supported dialect.
package sqlreport

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/internal/sqltx"
	"github.com/getpup/pupsourcing-migrator/pkg/migrations"
	"github.com/getpup/pupsourcing-migrator/store"
)

// Store persists fleet reports in the run history tables created by
// migrations.HistoryStatements. MySQL connections need parseTime=true.
type Store struct {
	db      *sql.DB
	dialect migrations.Dialect
	tables  migrations.Tables
}

// New creates a report store over the given, already qualified, tables.
func New(db *sql.DB, dialect migrations.Dialect, tables migrations.Tables) *Store {
	return &Store{db: db, dialect: dialect, tables: tables}
}

// EnsureTables creates the history tables if they do not exist.
func (s *Store) EnsureTables(ctx context.Context) error {
	for _, stmt := range migrations.HistoryStatements(s.dialect, s.tables) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create history tables: %w", err)
		}
	}
	return nil
}

// bind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) bind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveReport stores the report and its tenant results in one transaction.
func (s *Store) SaveReport(ctx context.Context, report *migrator.FleetRunReport) error {
	runQuery := s.bind(fmt.Sprintf(`
		INSERT INTO %s (id, chain, target, policy, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.tables.Runs))
	tenantQuery := s.bind(fmt.Sprintf(`
		INSERT INTO %s (run_id, position, namespace, outcome, skip_reason, from_revision,
			reached_revision, steps_applied, failed_revision, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.tables.RunTenants))

	err := sqltx.Do(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, runQuery,
			report.ID, report.Chain, string(report.Target), string(report.Policy),
			report.StartedAt.UTC(), report.FinishedAt.UTC()); err != nil {
			return err
		}
		for i, t := range report.Tenants {
			errText := ""
			if t.Err != nil {
				errText = t.Err.Error()
			}
			if _, err := tx.ExecContext(ctx, tenantQuery,
				report.ID, i, t.Namespace, string(t.Outcome), string(t.SkipReason),
				string(t.From), string(t.Reached), t.StepsApplied, string(t.FailedRevision),
				errText, t.Duration.Milliseconds()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", report.ID, err)
	}
	return nil
}

// GetReport returns a report by ID.
// Returns store.ErrReportNotFound if the report does not exist.
func (s *Store) GetReport(ctx context.Context, id string) (*migrator.FleetRunReport, error) {
	query := s.bind(fmt.Sprintf(`
		SELECT id, chain, target, policy, started_at, finished_at
		FROM %s
		WHERE id = ?
	`, s.tables.Runs))

	report, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	if err := s.loadTenants(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ListReports returns the most recent reports for chain, newest first.
func (s *Store) ListReports(ctx context.Context, chain string, limit int) (reports []*migrator.FleetRunReport, err error) {
	query := fmt.Sprintf(`
		SELECT id, chain, target, policy, started_at, finished_at
		FROM %s
	`, s.tables.Runs)
	var args []any
	if chain != "" {
		query += " WHERE chain = ?"
		args = append(args, chain)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reports: %w", err)
	}

	for _, r := range reports {
		if err := s.loadTenants(ctx, r); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*migrator.FleetRunReport, error) {
	var (
		r              migrator.FleetRunReport
		target, policy string
	)
	if err := row.Scan(&r.ID, &r.Chain, &target, &policy, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.Target = migrator.Revision(target)
	r.Policy = migrator.ErrorPolicy(policy)
	return &r, nil
}

func (s *Store) loadTenants(ctx context.Context, report *migrator.FleetRunReport) (err error) {
	query := s.bind(fmt.Sprintf(`
		SELECT namespace, outcome, skip_reason, from_revision, reached_revision,
			steps_applied, failed_revision, error, duration_ms
		FROM %s
		WHERE run_id = ?
		ORDER BY position
	`, s.tables.RunTenants))

	rows, err := s.db.QueryContext(ctx, query, report.ID)
	if err != nil {
		return fmt.Errorf("failed to load results of report %s: %w", report.ID, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var (
			t                                    migrator.TenantResult
			outcome, skip, from, reached, failed string
			durationMS                           int64
			errText                              sql.NullString
		)
		if err := rows.Scan(&t.Namespace, &outcome, &skip, &from, &reached,
			&t.StepsApplied, &failed, &errText, &durationMS); err != nil {
			return fmt.Errorf("failed to scan result: %w", err)
		}
		t.Outcome = migrator.Outcome(outcome)
		t.SkipReason = migrator.SkipReason(skip)
		t.From = migrator.Revision(from)
		t.Reached = migrator.Revision(reached)
		t.FailedRevision = migrator.Revision(failed)
		t.Duration = time.Duration(durationMS) * time.Millisecond
		if errText.String != "" {
			t.Err = errors.New(errText.String)
		}
		report.Tenants = append(report.Tenants, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating results: %w", err)
	}
	return nil
}
