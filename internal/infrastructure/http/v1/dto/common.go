// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"time"
)

// --- Pagination ---

// PageRequest contains limit/offset paging parameters.
type PageRequest struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// PeriodRequest is an optional reporting window. Dates are YYYY-MM-DD or RFC 3339.
type PeriodRequest struct {
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
}

// Bounds parses the window. Missing bounds are returned as zero times; a
// date-only end bound covers the whole day.
func (p PeriodRequest) Bounds() (from, to time.Time, err error) {
	if from, err = parseDate(p.StartDate, false); err != nil {
		return
	}
	to, err = parseDate(p.EndDate, true)
	return
}

func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t.UTC(), nil
}

// --- Generic responses ---

// IDResponse for created resources.
type IDResponse struct {
	ID string `json:"id"`
}

// SuccessResponse for operations without a payload.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ListResponse wraps a list.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewList builds a ListResponse, never with a null items array.
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}
