package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventFilter narrows event queries. Zero values mean "any".
type EventFilter struct {
	TenantID      string
	CentralUserID *uuid.UUID
	SuccessOnly   bool
	From, To      time.Time
	Limit         int
}

// Repository persists login events and daily rollups in the central database.
type Repository interface {
	// Insert stores one event.
	Insert(ctx context.Context, e *LoginEvent) error

	// Events lists events newest first.
	Events(ctx context.Context, f EventFilter) ([]LoginEvent, error)

	// UniqueUsers counts distinct central users with a successful login.
	UniqueUsers(ctx context.Context, f EventFilter) (int64, error)

	// Daily returns rollup rows for a tenant within [from, to], ordered by date.
	Daily(ctx context.Context, tenantID string, from, to time.Time) ([]DailyStats, error)

	// UpsertDaily replaces the rollup row for (tenant, date).
	UpsertDaily(ctx context.Context, s *DailyStats) error

	// TenantsWithEvents lists tenants that have events on day.
	TenantsWithEvents(ctx context.Context, day time.Time) ([]string, error)

	// IncrementDaily folds one event into the (tenant, date) row in place.
	IncrementDaily(ctx context.Context, tenantID string, e *LoginEvent) error

	// DeleteOlderThan drops events before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
