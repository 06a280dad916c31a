package tenant

import "errors"

var (
	// ErrTenantNotFound is returned when tenant does not exist in the central database.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantNotActive is returned when tenant exists but is not active.
	ErrTenantNotActive = errors.New("tenant is not active")

	// ErrMaxPoolLimit is returned when tenant manager reached pool limit.
	ErrMaxPoolLimit = errors.New("max tenant pool limit reached")

	// ErrTenantExists is returned when a tenant id is already registered.
	ErrTenantExists = errors.New("tenant already exists")

	// ErrDomainTaken is returned when a domain already belongs to a tenant.
	ErrDomainTaken = errors.New("domain already assigned")

	// ErrNoHint is returned when a request carries no tenant hint at all.
	ErrNoHint = errors.New("no tenant hint in request")
)
