// Package id provides identifier generation for stored entities.
//
// Row identifiers are UUIDv7 (time-ordered). Global identities are UUIDv4:
// they are shared with every tenant database and must not leak creation time.
package id

import (
	"github.com/google/uuid"
)

// ID is a type alias for UUID, used for central row identifiers.
type ID = uuid.UUID

// New generates a new UUIDv7.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// NewGlobal generates the immutable global identifier of an identity.
func NewGlobal() ID {
	return uuid.New()
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// IsNil checks if ID is zero-value.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
