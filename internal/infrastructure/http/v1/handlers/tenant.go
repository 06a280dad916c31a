package handlers

import (
	"github.com/gin-gonic/gin"

	"hybridauth/internal/domain/membership"
	"hybridauth/internal/domain/tenancy"
	"hybridauth/internal/infrastructure/http/v1/dto"
	"hybridauth/internal/infrastructure/http/v1/middleware"
)

// TenantHandler handles tenant provisioning and administration.
type TenantHandler struct {
	*BaseHandler
	tenants *tenancy.Service
	members *membership.Service
}

// NewTenantHandler creates a new tenant handler.
func NewTenantHandler(base *BaseHandler, tenants *tenancy.Service, members *membership.Service) *TenantHandler {
	return &TenantHandler{
		BaseHandler: base,
		tenants:     tenants,
		members:     members,
	}
}

// Provision handles POST /tenants. The caller becomes the owner.
func (h *TenantHandler) Provision(c *gin.Context) {
	p, ok := h.Principal(c)
	if !ok {
		return
	}
	var req dto.ProvisionTenantRequest
	if !h.BindJSON(c, &req) {
		return
	}

	in := req.ToInput()
	owner := p.GlobalID
	in.OwnerGlobalID = &owner

	t, err := h.tenants.Provision(c.Request.Context(), in)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromTenant(t))
}

// Mine handles GET /tenants/mine
func (h *TenantHandler) Mine(c *gin.Context) {
	p, ok := h.Principal(c)
	if !ok {
		return
	}

	tenants, err := h.members.TenantsOf(c.Request.Context(), p.GlobalID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.NewList(dto.FromTenants(tenants)))
}

// Get handles GET /tenants/:tenant
func (h *TenantHandler) Get(c *gin.Context) {
	h.OK(c, dto.FromTenant(middleware.Tenant(c)))
}

// Update handles PUT /tenants/:tenant. The body must carry the version the
// client read; a stale version is rejected with 409.
func (h *TenantHandler) Update(c *gin.Context) {
	var req dto.UpdateTenantRequest
	if !h.BindJSON(c, &req) {
		return
	}

	t, err := h.tenants.Update(c.Request.Context(), middleware.Tenant(c).ID, req.Version, req.ToPatch())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromTenant(t))
}

// AddDomain handles POST /tenants/:tenant/domains
func (h *TenantHandler) AddDomain(c *gin.Context) {
	var req dto.DomainRequest
	if !h.BindJSON(c, &req) {
		return
	}

	tenantID := middleware.Tenant(c).ID
	if err := h.tenants.AddDomain(c.Request.Context(), tenantID, req.Domain); err != nil {
		h.Error(c, err)
		return
	}
	h.current(c, tenantID)
}

// RemoveDomain handles DELETE /tenants/:tenant/domains/:domain
func (h *TenantHandler) RemoveDomain(c *gin.Context) {
	tenantID := middleware.Tenant(c).ID
	if err := h.tenants.RemoveDomain(c.Request.Context(), tenantID, c.Param("domain")); err != nil {
		h.Error(c, err)
		return
	}
	h.current(c, tenantID)
}

func (h *TenantHandler) current(c *gin.Context, tenantID string) {
	t, err := h.tenants.Get(c.Request.Context(), tenantID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromTenant(t))
}
