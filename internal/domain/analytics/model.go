// Package analytics records login attempts and rolls them up into per-tenant
// daily statistics and reports.
package analytics

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Method is how the user authenticated.
type Method string

const (
	MethodPassword  Method = "password"
	MethodMagicLink Method = "magic_link"
)

// Device is a coarse classification of the client.
type Device struct {
	Browser  string `json:"browser"`
	Platform string `json:"platform"`
	Mobile   bool   `json:"is_mobile"`
	Tablet   bool   `json:"is_tablet"`
	Desktop  bool   `json:"is_desktop"`
}

// LoginEvent is one login attempt.
type LoginEvent struct {
	ID            string     `db:"id" json:"id"`
	CentralUserID *uuid.UUID `db:"central_user_id" json:"central_user_id,omitempty"`
	TenantID      *string    `db:"tenant_id" json:"tenant_id,omitempty"`
	GlobalID      *uuid.UUID `db:"global_user_id" json:"global_user_id,omitempty"`
	IP            string     `db:"ip_address" json:"ip_address"`
	UserAgent     string     `db:"user_agent" json:"user_agent,omitempty"`
	Method        Method     `db:"login_method" json:"login_method"`
	TwoFactorUsed bool       `db:"two_factor_used" json:"two_factor_used"`
	Success       bool       `db:"success" json:"success"`
	FailureReason string     `db:"failure_reason" json:"failure_reason,omitempty"`
	LoginAt       time.Time  `db:"login_at" json:"login_at"`
	Device        *Device    `db:"device_info" json:"device_info,omitempty"`
}

// NewLoginEvent stamps a fresh id and time and classifies the user agent.
func NewLoginEvent(method Method, success bool, ip, userAgent string) *LoginEvent {
	e := &LoginEvent{
		ID:        ulid.Make().String(),
		IP:        ip,
		UserAgent: userAgent,
		Method:    method,
		Success:   success,
		LoginAt:   time.Now().UTC(),
	}
	if userAgent != "" {
		d := DetectDevice(userAgent)
		e.Device = &d
	}
	return e
}

// ForUser fills the identity columns.
func (e *LoginEvent) ForUser(centralID, globalID uuid.UUID) *LoginEvent {
	e.CentralUserID = &centralID
	e.GlobalID = &globalID
	return e
}

// InTenant sets the tenant the login targeted.
func (e *LoginEvent) InTenant(tenantID string) *LoginEvent {
	if tenantID != "" {
		e.TenantID = &tenantID
	}
	return e
}

// DetectDevice classifies a user agent string. Order matters: Chrome agents
// also mention Safari, Edge agents mention Chrome.
func DetectDevice(ua string) Device {
	d := Device{
		Mobile: containsAny(ua, "Mobile", "Android", "iPhone", "iPad"),
		Tablet: containsAny(ua, "iPad", "Tablet"),
	}
	d.Desktop = !d.Mobile && !d.Tablet

	switch {
	case strings.Contains(ua, "Edg"):
		d.Browser = "Edge"
	case strings.Contains(ua, "Chrome"):
		d.Browser = "Chrome"
	case strings.Contains(ua, "Firefox"):
		d.Browser = "Firefox"
	case strings.Contains(ua, "Safari"):
		d.Browser = "Safari"
	default:
		d.Browser = "Unknown"
	}

	switch {
	case strings.Contains(ua, "Android"):
		d.Platform = "Android"
	case containsAny(ua, "iPhone", "iPad", "iOS"):
		d.Platform = "iOS"
	case strings.Contains(ua, "Windows"):
		d.Platform = "Windows"
	case strings.Contains(ua, "Mac"):
		d.Platform = "macOS"
	case strings.Contains(ua, "Linux"):
		d.Platform = "Linux"
	default:
		d.Platform = "Unknown"
	}
	return d
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DailyStats is the per-tenant rollup of one calendar day (UTC).
type DailyStats struct {
	TenantID         string    `db:"tenant_id" json:"tenant_id"`
	Date             time.Time `db:"date" json:"date"`
	LoginCount       int64     `db:"login_count" json:"login_count"`
	SuccessfulLogins int64     `db:"successful_logins" json:"successful_logins"`
	FailedLogins     int64     `db:"failed_logins" json:"failed_logins"`
	UniqueUsers      int64     `db:"unique_users" json:"unique_users"`
	TwoFactorLogins  int64     `db:"two_factor_logins" json:"two_factor_logins"`
	MagicLinkLogins  int64     `db:"magic_link_logins" json:"magic_link_logins"`
	PasswordLogins   int64     `db:"password_logins" json:"password_logins"`
}

// Add folds one event into the counters. UniqueUsers is computed by the
// repository because it needs the distinct set of users for the day.
func (s *DailyStats) Add(e *LoginEvent) {
	s.LoginCount++
	if !e.Success {
		s.FailedLogins++
		return
	}
	s.SuccessfulLogins++
	switch e.Method {
	case MethodMagicLink:
		s.MagicLinkLogins++
	case MethodPassword:
		s.PasswordLogins++
		if e.TwoFactorUsed {
			s.TwoFactorLogins++
		}
	}
}

// Day truncates t to the UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
