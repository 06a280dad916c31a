package dto

import (
	"time"

	"hybridauth/internal/core/tenant"
	"hybridauth/internal/domain/tenancy"
)

// ProvisionTenantRequest creates a tenant owned by the caller.
type ProvisionTenantRequest struct {
	ID      string   `json:"id" binding:"required"`
	Name    string   `json:"name" binding:"required,max=255"`
	Domains []string `json:"domains"`
}

// ToInput converts to the domain input.
func (r *ProvisionTenantRequest) ToInput() tenancy.ProvisionInput {
	return tenancy.ProvisionInput{
		CreateInput: tenant.CreateInput{
			ID:      r.ID,
			Name:    r.Name,
			Domains: r.Domains,
		},
	}
}

// UpdateTenantRequest is a version-checked partial update.
type UpdateTenantRequest struct {
	Version int64   `json:"version" binding:"required,min=1"`
	Name    *string `json:"name"`
	Status  *string `json:"status" binding:"omitempty,oneof=active suspended"`
}

// ToPatch converts to the domain patch.
func (r *UpdateTenantRequest) ToPatch() tenancy.Patch {
	p := tenancy.Patch{Name: r.Name}
	if r.Status != nil {
		s := tenant.Status(*r.Status)
		p.Status = &s
	}
	return p
}

// DomainRequest names a custom domain.
type DomainRequest struct {
	Domain string `json:"domain" binding:"required,fqdn"`
}

// TenantResponse is a tenant record without connection details.
type TenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	Status    string    `json:"status"`
	Domains   []string  `json:"domains"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromTenant creates a response from a tenant record.
func FromTenant(t *tenant.Tenant) TenantResponse {
	domains := t.Domains
	if domains == nil {
		domains = []string{}
	}
	return TenantResponse{
		ID:        t.ID,
		Name:      t.Name,
		Version:   t.Version,
		Status:    string(t.Status),
		Domains:   domains,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// TenantSummary is a tenant in a membership listing.
type TenantSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FromTenants creates summaries.
func FromTenants(ts []*tenant.Tenant) []TenantSummary {
	out := make([]TenantSummary, 0, len(ts))
	for _, t := range ts {
		out = append(out, TenantSummary{ID: t.ID, Name: t.Name})
	}
	return out
}
