package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	"hybridauth/pkg/logger"
)

// Recorder accepts login events. The service stores them directly; the queue
// publisher forwards them to the worker.
type Recorder interface {
	RecordLogin(ctx context.Context, e *LoginEvent) error
}

const (
	defaultWindow       = 30 * 24 * time.Hour
	defaultTenantRecent = 50
	defaultUserRecent   = 20
)

// Service stores login events and builds reports.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates the analytics service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// RecordLogin stores the event and, when it targets a tenant, folds it into
// that tenant's daily row.
func (s *Service) RecordLogin(ctx context.Context, e *LoginEvent) error {
	if err := s.repo.Insert(ctx, e); err != nil {
		return fmt.Errorf("insert login event: %w", err)
	}
	if e.TenantID == nil {
		return nil
	}
	if err := s.repo.IncrementDaily(ctx, *e.TenantID, e); err != nil {
		return fmt.Errorf("update daily stats: %w", err)
	}
	return nil
}

func (s *Service) window(from, to time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultWindow)
	}
	if from.After(to) {
		return from, to, apperror.NewValidation("start_date must not be after end_date")
	}
	return from, to, nil
}

// TenantReport summarizes logins into one tenant.
func (s *Service) TenantReport(ctx context.Context, tenantID string, from, to time.Time) (*TenantReport, error) {
	from, to, err := s.window(from, to)
	if err != nil {
		return nil, err
	}
	daily, err := s.repo.Daily(ctx, tenantID, Day(from), Day(to))
	if err != nil {
		return nil, fmt.Errorf("load daily stats: %w", err)
	}
	f := EventFilter{TenantID: tenantID, SuccessOnly: true, From: from, To: to}
	unique, err := s.repo.UniqueUsers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("count unique users: %w", err)
	}
	f.Limit = defaultTenantRecent
	recent, err := s.repo.Events(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load recent logins: %w", err)
	}

	totals := sumDaily(daily)
	totals.UniqueUsers = unique
	return &TenantReport{
		Daily:        daily,
		RecentLogins: recent,
		Totals:       totals,
		Period:       Period{From: from, To: to},
	}, nil
}

// UserReport summarizes one user's logins across all tenants.
func (s *Service) UserReport(ctx context.Context, centralID uuid.UUID, from, to time.Time) (*UserReport, error) {
	return s.userReport(ctx, EventFilter{CentralUserID: &centralID}, from, to)
}

// TenantUserReport summarizes one user's logins into a single tenant.
func (s *Service) TenantUserReport(ctx context.Context, tenantID string, centralID uuid.UUID, from, to time.Time) (*UserReport, error) {
	return s.userReport(ctx, EventFilter{TenantID: tenantID, CentralUserID: &centralID}, from, to)
}

func (s *Service) userReport(ctx context.Context, f EventFilter, from, to time.Time) (*UserReport, error) {
	from, to, err := s.window(from, to)
	if err != nil {
		return nil, err
	}
	f.From, f.To = from, to
	events, err := s.repo.Events(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load user logins: %w", err)
	}
	r := summarizeUser(events, defaultUserRecent)
	r.Period = Period{From: from, To: to}
	return &r, nil
}

// AggregateDay recomputes the daily rows of every tenant with events on day.
func (s *Service) AggregateDay(ctx context.Context, day time.Time) (int, error) {
	day = Day(day)
	end := day.Add(24*time.Hour - time.Nanosecond)

	tenants, err := s.repo.TenantsWithEvents(ctx, day)
	if err != nil {
		return 0, fmt.Errorf("list tenants with events: %w", err)
	}
	for _, tenantID := range tenants {
		f := EventFilter{TenantID: tenantID, From: day, To: end}
		events, err := s.repo.Events(ctx, f)
		if err != nil {
			return 0, fmt.Errorf("load events for %s: %w", tenantID, err)
		}
		stats := DailyStats{TenantID: tenantID, Date: day}
		for i := range events {
			stats.Add(&events[i])
		}
		f.SuccessOnly = true
		if stats.UniqueUsers, err = s.repo.UniqueUsers(ctx, f); err != nil {
			return 0, fmt.Errorf("count unique users for %s: %w", tenantID, err)
		}
		if err := s.repo.UpsertDaily(ctx, &stats); err != nil {
			return 0, fmt.Errorf("store daily stats for %s: %w", tenantID, err)
		}
	}
	logger.Info(ctx, "aggregated login analytics", "date", day.Format(time.DateOnly), "tenants", len(tenants))
	return len(tenants), nil
}

// Purge drops events older than retention.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, s.now().Add(-retention))
}
