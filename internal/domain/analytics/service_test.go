package analytics

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	events []LoginEvent
	daily  map[string]DailyStats
}

func newMemRepo() *memRepo { return &memRepo{daily: make(map[string]DailyStats)} }

func dailyKey(tenantID string, day time.Time) string {
	return tenantID + "|" + day.Format(time.DateOnly)
}

func (r *memRepo) match(e LoginEvent, f EventFilter) bool {
	if f.TenantID != "" && (e.TenantID == nil || *e.TenantID != f.TenantID) {
		return false
	}
	if f.CentralUserID != nil && (e.CentralUserID == nil || *e.CentralUserID != *f.CentralUserID) {
		return false
	}
	if f.SuccessOnly && !e.Success {
		return false
	}
	if !f.From.IsZero() && e.LoginAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.LoginAt.After(f.To) {
		return false
	}
	return true
}

func (r *memRepo) Insert(_ context.Context, e *LoginEvent) error {
	r.events = append(r.events, *e)
	return nil
}

func (r *memRepo) Events(_ context.Context, f EventFilter) ([]LoginEvent, error) {
	var out []LoginEvent
	for _, e := range r.events {
		if r.match(e, f) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginAt.After(out[j].LoginAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *memRepo) UniqueUsers(_ context.Context, f EventFilter) (int64, error) {
	seen := make(map[uuid.UUID]struct{})
	for _, e := range r.events {
		if r.match(e, f) && e.CentralUserID != nil {
			seen[*e.CentralUserID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (r *memRepo) Daily(_ context.Context, tenantID string, from, to time.Time) ([]DailyStats, error) {
	var out []DailyStats
	for _, s := range r.daily {
		if s.TenantID == tenantID && !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *memRepo) UpsertDaily(_ context.Context, s *DailyStats) error {
	r.daily[dailyKey(s.TenantID, s.Date)] = *s
	return nil
}

func (r *memRepo) TenantsWithEvents(_ context.Context, day time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range r.events {
		if e.TenantID == nil || !Day(e.LoginAt).Equal(day) {
			continue
		}
		if _, ok := seen[*e.TenantID]; !ok {
			seen[*e.TenantID] = struct{}{}
			out = append(out, *e.TenantID)
		}
	}
	return out, nil
}

func (r *memRepo) IncrementDaily(_ context.Context, tenantID string, e *LoginEvent) error {
	day := Day(e.LoginAt)
	k := dailyKey(tenantID, day)
	s, ok := r.daily[k]
	if !ok {
		s = DailyStats{TenantID: tenantID, Date: day}
	}
	s.Add(e)
	r.daily[k] = s
	return nil
}

func (r *memRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var kept []LoginEvent
	var n int64
	for _, e := range r.events {
		if e.LoginAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

func TestRateRoundsToTwoPlaces(t *testing.T) {
	assert.True(t, decimal.RequireFromString("75").Equal(Rate(3, 4)))
	assert.Equal(t, "66.67", Rate(2, 3).StringFixed(2))
	assert.True(t, Rate(1, 0).IsZero())
}

func TestTenantReportTotals(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo)

	alice, bob := uuid.New(), uuid.New()
	record := func(user uuid.UUID, method Method, success, twoFactor bool) {
		e := NewLoginEvent(method, success, "10.0.0.1", "Mozilla/5.0 (Windows NT 10.0) Chrome/120")
		e.ForUser(user, uuid.New()).InTenant("acme")
		e.TwoFactorUsed = twoFactor
		require.NoError(t, svc.RecordLogin(ctx, e))
	}
	record(alice, MethodPassword, true, true)
	record(alice, MethodMagicLink, true, false)
	record(bob, MethodPassword, true, false)
	record(bob, MethodPassword, false, false)

	report, err := svc.TenantReport(ctx, "acme", time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, int64(4), report.Totals.TotalLogins)
	assert.Equal(t, int64(3), report.Totals.SuccessfulLogins)
	assert.Equal(t, int64(1), report.Totals.FailedLogins)
	assert.Equal(t, int64(2), report.Totals.UniqueUsers)
	assert.Equal(t, int64(1), report.Totals.MagicLinkUsage)
	assert.Equal(t, "75.00", report.Totals.SuccessRate.StringFixed(2))
	assert.Equal(t, "33.33", report.Totals.TwoFactorRate.StringFixed(2))
	assert.Len(t, report.RecentLogins, 3)
}

func TestUserReportCountsTenants(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo)
	user := uuid.New()

	for _, tenantID := range []string{"acme", "globex", "acme"} {
		e := NewLoginEvent(MethodPassword, true, "10.0.0.1", "")
		e.ForUser(user, uuid.New()).InTenant(tenantID)
		require.NoError(t, svc.RecordLogin(ctx, e))
	}
	failed := NewLoginEvent(MethodPassword, false, "10.0.0.1", "")
	failed.ForUser(user, uuid.New())
	require.NoError(t, svc.RecordLogin(ctx, failed))

	report, err := svc.UserReport(ctx, user, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.TotalLogins)
	assert.Equal(t, 2, report.TenantsAccessed)
	assert.Equal(t, int64(3), report.LoginMethods[MethodPassword])
	assert.Equal(t, "75.00", report.SuccessRate.StringFixed(2))
}

func TestTenantUserReportStaysInTenant(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo)
	user := uuid.New()

	for _, tenantID := range []string{"acme", "globex", "acme"} {
		e := NewLoginEvent(MethodPassword, true, "10.0.0.1", "")
		e.ForUser(user, uuid.New()).InTenant(tenantID)
		require.NoError(t, svc.RecordLogin(ctx, e))
	}

	report, err := svc.TenantUserReport(ctx, "acme", user, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.TotalLogins)
	assert.Equal(t, 1, report.TenantsAccessed)
}

func TestAggregateDayRebuildsRows(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(repo)

	day := Day(time.Now())
	for i := 0; i < 3; i++ {
		e := NewLoginEvent(MethodPassword, i != 2, "10.0.0.1", "")
		e.ForUser(uuid.New(), uuid.New()).InTenant("acme")
		e.LoginAt = day.Add(time.Duration(i+1) * time.Hour)
		require.NoError(t, repo.Insert(ctx, e))
	}

	n, err := svc.AggregateDay(ctx, day.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row := repo.daily[dailyKey("acme", day)]
	assert.Equal(t, int64(3), row.LoginCount)
	assert.Equal(t, int64(2), row.SuccessfulLogins)
	assert.Equal(t, int64(2), row.UniqueUsers)
	assert.Equal(t, int64(2), row.PasswordLogins)
}

func TestDetectDevice(t *testing.T) {
	iphone := DetectDevice("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile Safari/604.1")
	assert.True(t, iphone.Mobile)
	assert.False(t, iphone.Desktop)
	assert.Equal(t, "iOS", iphone.Platform)
	assert.Equal(t, "Safari", iphone.Browser)

	desktop := DetectDevice("Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/121.0")
	assert.True(t, desktop.Desktop)
	assert.Equal(t, "Linux", desktop.Platform)
	assert.Equal(t, "Firefox", desktop.Browser)
}

func TestReportRejectsInvertedWindow(t *testing.T) {
	svc := NewService(newMemRepo())
	now := time.Now()
	_, err := svc.TenantReport(context.Background(), "acme", now, now.Add(-time.Hour))
	require.Error(t, err)
}
