package tenant

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Hint carries the request attributes a tenant can be resolved from.
type Hint struct {
	RouteParam string
	Query      string
	Header     string
	Host       string
}

// reservedLabels are leftmost host labels that never name a tenant.
var reservedLabels = map[string]bool{"www": true, "api": true, "admin": true}

// Value returns the first non-empty hint in priority order: route parameter,
// query parameter, header, then the leftmost subdomain label of Host. Hosts
// with fewer than three labels and IP hosts yield no subdomain hint.
func (h Hint) Value() string {
	for _, v := range []string{h.RouteParam, h.Query, h.Header} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return Subdomain(h.Host)
}

// Subdomain extracts the tenant label from a host name.
func Subdomain(host string) string {
	host = NormalizeDomain(host)
	if host == "" || net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return ""
	}
	if reservedLabels[labels[0]] {
		return ""
	}
	return labels[0]
}

// Resolver maps request hints to tenant records.
type Resolver struct {
	registry Registry
}

// NewResolver creates a resolver over the registry.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve finds the active tenant a hint refers to. The hint value is tried as
// a tenant id first; if that fails, the full Host is tried as a custom domain.
// Returns ErrNoHint, ErrTenantNotFound or ErrTenantNotActive.
func (r *Resolver) Resolve(ctx context.Context, h Hint) (*Tenant, error) {
	value := h.Value()

	var (
		t   *Tenant
		err error
	)
	if value != "" {
		t, err = r.registry.GetByID(ctx, strings.ToLower(value))
	} else {
		err = ErrNoHint
	}
	if errors.Is(err, ErrTenantNotFound) || errors.Is(err, ErrNoHint) {
		if host := NormalizeDomain(h.Host); host != "" && strings.Contains(host, ".") && net.ParseIP(host) == nil {
			if byDomain, derr := r.registry.GetByDomain(ctx, host); derr == nil {
				t, err = byDomain, nil
			} else if !errors.Is(derr, ErrTenantNotFound) {
				return nil, derr
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if !t.IsActive() {
		return nil, ErrTenantNotActive
	}
	return t, nil
}
