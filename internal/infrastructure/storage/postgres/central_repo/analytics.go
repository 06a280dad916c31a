package central_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/infrastructure/storage/postgres"
)

// AnalyticsRepo implements analytics.Repository.
type AnalyticsRepo struct {
	txm *postgres.TxManager
}

// NewAnalyticsRepo creates the repository.
func NewAnalyticsRepo(txm *postgres.TxManager) *AnalyticsRepo {
	return &AnalyticsRepo{txm: txm}
}

func (r *AnalyticsRepo) Insert(ctx context.Context, e *analytics.LoginEvent) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO login_events (
			id, central_user_id, tenant_id, global_user_id, ip_address, user_agent,
			login_method, two_factor_used, success, failure_reason, login_at, device_info
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`,
		e.ID, e.CentralUserID, e.TenantID, e.GlobalID, e.IP, e.UserAgent,
		e.Method, e.TwoFactorUsed, e.Success, e.FailureReason, e.LoginAt, e.Device,
	)
	if err != nil {
		return fmt.Errorf("insert login event: %w", err)
	}
	return nil
}

func applyEventFilter(q squirrel.SelectBuilder, f analytics.EventFilter) squirrel.SelectBuilder {
	if f.TenantID != "" {
		q = q.Where(squirrel.Eq{"tenant_id": f.TenantID})
	}
	if f.CentralUserID != nil {
		q = q.Where(squirrel.Eq{"central_user_id": *f.CentralUserID})
	}
	if f.SuccessOnly {
		q = q.Where(squirrel.Eq{"success": true})
	}
	if !f.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"login_at": f.From})
	}
	if !f.To.IsZero() {
		q = q.Where(squirrel.LtOrEq{"login_at": f.To})
	}
	return q
}

func (r *AnalyticsRepo) Events(ctx context.Context, f analytics.EventFilter) ([]analytics.LoginEvent, error) {
	q := applyEventFilter(builder().
		Select("id", "central_user_id", "tenant_id", "global_user_id", "ip_address", "user_agent",
			"login_method", "two_factor_used", "success", "failure_reason", "login_at", "device_info").
		From("login_events").
		OrderBy("login_at DESC"), f)
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var out []analytics.LoginEvent
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, sql, args...); err != nil {
		return nil, fmt.Errorf("query login events: %w", err)
	}
	return out, nil
}

func (r *AnalyticsRepo) UniqueUsers(ctx context.Context, f analytics.EventFilter) (int64, error) {
	sql, args, err := applyEventFilter(builder().
		Select("COUNT(DISTINCT central_user_id)").
		From("login_events"), f).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	var n int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unique users: %w", err)
	}
	return n, nil
}

const dailyColumns = `tenant_id, date, login_count, successful_logins, failed_logins, unique_users,
	two_factor_logins, magic_link_logins, password_logins`

func (r *AnalyticsRepo) Daily(ctx context.Context, tenantID string, from, to time.Time) ([]analytics.DailyStats, error) {
	var out []analytics.DailyStats
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &out, `
		SELECT `+dailyColumns+` FROM login_daily_stats
		WHERE tenant_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date
	`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	return out, nil
}

func (r *AnalyticsRepo) UpsertDaily(ctx context.Context, s *analytics.DailyStats) error {
	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO login_daily_stats (`+dailyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, date) DO UPDATE SET
			login_count = EXCLUDED.login_count,
			successful_logins = EXCLUDED.successful_logins,
			failed_logins = EXCLUDED.failed_logins,
			unique_users = EXCLUDED.unique_users,
			two_factor_logins = EXCLUDED.two_factor_logins,
			magic_link_logins = EXCLUDED.magic_link_logins,
			password_logins = EXCLUDED.password_logins
	`,
		s.TenantID, s.Date, s.LoginCount, s.SuccessfulLogins, s.FailedLogins, s.UniqueUsers,
		s.TwoFactorLogins, s.MagicLinkLogins, s.PasswordLogins,
	)
	if err != nil {
		return fmt.Errorf("upsert daily stats: %w", err)
	}
	return nil
}

func (r *AnalyticsRepo) TenantsWithEvents(ctx context.Context, day time.Time) ([]string, error) {
	var ids []string
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &ids, `
		SELECT DISTINCT tenant_id FROM login_events
		WHERE tenant_id IS NOT NULL AND login_at >= $1 AND login_at < $2
		ORDER BY tenant_id
	`, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query tenants with events: %w", err)
	}
	return ids, nil
}

// IncrementDaily folds e into the day's row. unique_users is recounted from
// the events table, which already contains e.
func (r *AnalyticsRepo) IncrementDaily(ctx context.Context, tenantID string, e *analytics.LoginEvent) error {
	var delta analytics.DailyStats
	delta.Add(e)
	day := analytics.Day(e.LoginAt)

	_, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO login_daily_stats (`+dailyColumns+`)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COUNT(DISTINCT central_user_id) FROM login_events
			 WHERE tenant_id = $1 AND success AND login_at >= $2 AND login_at < $9),
			$6, $7, $8)
		ON CONFLICT (tenant_id, date) DO UPDATE SET
			login_count = login_daily_stats.login_count + EXCLUDED.login_count,
			successful_logins = login_daily_stats.successful_logins + EXCLUDED.successful_logins,
			failed_logins = login_daily_stats.failed_logins + EXCLUDED.failed_logins,
			unique_users = EXCLUDED.unique_users,
			two_factor_logins = login_daily_stats.two_factor_logins + EXCLUDED.two_factor_logins,
			magic_link_logins = login_daily_stats.magic_link_logins + EXCLUDED.magic_link_logins,
			password_logins = login_daily_stats.password_logins + EXCLUDED.password_logins
	`,
		tenantID, day, delta.LoginCount, delta.SuccessfulLogins, delta.FailedLogins,
		delta.TwoFactorLogins, delta.MagicLinkLogins, delta.PasswordLogins, day.Add(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("increment daily stats: %w", err)
	}
	return nil
}

func (r *AnalyticsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `DELETE FROM login_events WHERE login_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge login events: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ analytics.Repository = (*AnalyticsRepo)(nil)
