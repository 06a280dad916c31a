package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Rate returns part/total as a percentage rounded to two places, zero when
// total is zero.
func Rate(part, total int64) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(total)).Round(2)
}

// Period is the inclusive reporting window.
type Period struct {
	From time.Time `json:"start_date"`
	To   time.Time `json:"end_date"`
}

// Totals aggregates daily rows over a period.
type Totals struct {
	TotalLogins      int64           `json:"total_logins"`
	SuccessfulLogins int64           `json:"successful_logins"`
	FailedLogins     int64           `json:"failed_logins"`
	UniqueUsers      int64           `json:"unique_users"`
	TwoFactorUsage   int64           `json:"two_factor_usage"`
	MagicLinkUsage   int64           `json:"magic_link_usage"`
	SuccessRate      decimal.Decimal `json:"success_rate"`
	TwoFactorRate    decimal.Decimal `json:"two_factor_rate"`
}

// TenantReport is the login overview of one tenant.
type TenantReport struct {
	Daily        []DailyStats `json:"daily_stats"`
	RecentLogins []LoginEvent `json:"recent_logins"`
	Totals       Totals       `json:"totals"`
	Period       Period       `json:"period"`
}

// UserReport is the login overview of one central user across tenants.
type UserReport struct {
	TotalLogins      int64            `json:"total_logins"`
	SuccessfulLogins int64            `json:"successful_logins"`
	FailedLogins     int64            `json:"failed_logins"`
	SuccessRate      decimal.Decimal  `json:"success_rate"`
	TenantsAccessed  int              `json:"tenants_accessed"`
	LoginMethods     map[Method]int64 `json:"login_methods"`
	RecentLogins     []LoginEvent     `json:"recent_logins"`
	Period           Period           `json:"period"`
}

func sumDaily(rows []DailyStats) Totals {
	var t Totals
	for _, r := range rows {
		t.TotalLogins += r.LoginCount
		t.SuccessfulLogins += r.SuccessfulLogins
		t.FailedLogins += r.FailedLogins
		t.TwoFactorUsage += r.TwoFactorLogins
		t.MagicLinkUsage += r.MagicLinkLogins
	}
	t.SuccessRate = Rate(t.SuccessfulLogins, t.TotalLogins)
	t.TwoFactorRate = Rate(t.TwoFactorUsage, t.SuccessfulLogins)
	return t
}

func summarizeUser(events []LoginEvent, recent int) UserReport {
	r := UserReport{LoginMethods: make(map[Method]int64)}
	tenants := make(map[string]struct{})
	for _, e := range events {
		r.TotalLogins++
		if !e.Success {
			r.FailedLogins++
			continue
		}
		r.SuccessfulLogins++
		r.LoginMethods[e.Method]++
		if e.TenantID != nil {
			tenants[*e.TenantID] = struct{}{}
		}
	}
	r.SuccessRate = Rate(r.SuccessfulLogins, r.TotalLogins)
	r.TenantsAccessed = len(tenants)
	if len(events) > recent {
		events = events[:recent]
	}
	r.RecentLogins = events
	return r
}
