package memory

import (
	"context"
	"sync"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
)

// ReportStore keeps fleet run reports in memory.
type ReportStore struct {
	mu      sync.RWMutex
	reports []*migrator.FleetRunReport // in save order
}

// NewReportStore creates an empty report store.
func NewReportStore() *ReportStore {
	return &ReportStore{}
}

// SaveReport stores a copy of the report.
func (s *ReportStore) SaveReport(ctx context.Context, report *migrator.FleetRunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, copyReport(report))
	return nil
}

// GetReport returns a report by ID.
func (s *ReportStore) GetReport(ctx context.Context, id string) (*migrator.FleetRunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.reports {
		if r.ID == id {
			return copyReport(r), nil
		}
	}
	return nil, store.ErrReportNotFound
}

// ListReports returns the most recently saved reports for chain, newest first.
func (s *ReportStore) ListReports(ctx context.Context, chain string, limit int) ([]*migrator.FleetRunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*migrator.FleetRunReport
	for i := len(s.reports) - 1; i >= 0; i-- {
		r := s.reports[i]
		if chain != "" && r.Chain != chain {
			continue
		}
		out = append(out, copyReport(r))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func copyReport(r *migrator.FleetRunReport) *migrator.FleetRunReport {
	c := *r
	c.Tenants = make([]migrator.TenantResult, len(r.Tenants))
	copy(c.Tenants, r.Tenants)
	return &c
}
