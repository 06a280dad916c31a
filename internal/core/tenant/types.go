// Package tenant provides the tenant registry and per-tenant database management
// for a database-per-tenant deployment. Tenant records live in the central
// database; every tenant owns an isolated PostgreSQL database.
package tenant

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

// Status represents tenant lifecycle state.
type Status string

const (
	// StatusActive - tenant can accept requests
	StatusActive Status = "active"

	// StatusSuspended - tenant is temporarily disabled
	StatusSuspended Status = "suspended"

	// StatusDeleted - tenant is marked for deletion
	StatusDeleted Status = "deleted"

	// StatusProvisioning - registered, database not ready yet
	StatusProvisioning Status = "provisioning"
)

// Valid reports whether s is a status a tenant can be set to.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// Tenant is a tenant record from the central database.
// Version starts at 1 and is incremented on every successful update.
type Tenant struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Version   int64     `db:"version" json:"version"`
	Status    Status    `db:"status" json:"status"`
	DBName    string    `db:"db_name" json:"-"`
	DBHost    string    `db:"db_host" json:"-"`
	DBPort    int       `db:"db_port" json:"-"`
	Domains   []string  `db:"domains" json:"domains"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsActive returns true if tenant can accept requests.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}

// DSN builds PostgreSQL connection string for this tenant's database.
func (t *Tenant) DSN(user, password string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		user, password, t.DBHost, t.DBPort, t.DBName,
	)
}

// HasDomain reports whether host is one of the tenant's domains.
func (t *Tenant) HasDomain(host string) bool {
	host = NormalizeDomain(host)
	for _, d := range t.Domains {
		if d == host {
			return true
		}
	}
	return false
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// CreateInput contains data for creating a new tenant.
type CreateInput struct {
	ID      string
	Name    string
	Domains []string
	DBHost  string // Optional, defaults to localhost
	DBPort  int    // Optional, defaults to 5432
}

// Validate normalizes and checks the input.
func (i *CreateInput) Validate() error {
	i.ID = strings.ToLower(strings.TrimSpace(i.ID))
	if !idPattern.MatchString(i.ID) {
		return fmt.Errorf("id must match %s", idPattern.String())
	}
	i.Name = strings.TrimSpace(i.Name)
	if i.Name == "" {
		return fmt.Errorf("name is required")
	}
	for k, d := range i.Domains {
		d = NormalizeDomain(d)
		if d == "" || !strings.Contains(d, ".") {
			return fmt.Errorf("invalid domain %q", i.Domains[k])
		}
		i.Domains[k] = d
	}
	if i.DBHost == "" {
		i.DBHost = "localhost"
	}
	if i.DBPort == 0 {
		i.DBPort = 5432
	}
	return nil
}

// DBName derives the database name from the tenant id.
// Format: tenant_<id> with dashes replaced.
func (i *CreateInput) DBName() string {
	return "tenant_" + strings.ReplaceAll(i.ID, "-", "_")
}

// NormalizeDomain lowercases a host and strips port and trailing dot.
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
