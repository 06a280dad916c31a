package handlers

import (
	"github.com/gin-gonic/gin"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/analytics"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/infrastructure/http/v1/dto"
	"hybridauth/internal/infrastructure/http/v1/middleware"
)

// AnalyticsHandler serves login reports.
type AnalyticsHandler struct {
	*BaseHandler
	reports    *analytics.Service
	identities identity.CentralRepository
	members    *membership.Service
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(base *BaseHandler, reports *analytics.Service, identities identity.CentralRepository, members *membership.Service) *AnalyticsHandler {
	return &AnalyticsHandler{
		BaseHandler: base,
		reports:     reports,
		identities:  identities,
		members:     members,
	}
}

func (h *AnalyticsHandler) period(c *gin.Context) (dto.PeriodRequest, bool) {
	var req dto.PeriodRequest
	if !h.BindQuery(c, &req) {
		return req, false
	}
	if _, _, err := req.Bounds(); err != nil {
		h.Error(c, apperror.NewValidation("invalid date").WithDetail("error", err.Error()))
		return req, false
	}
	return req, true
}

// Tenant handles GET /t/:tenant/analytics
func (h *AnalyticsHandler) Tenant(c *gin.Context) {
	req, ok := h.period(c)
	if !ok {
		return
	}
	from, to, _ := req.Bounds()

	report, err := h.reports.TenantReport(c.Request.Context(), middleware.Tenant(c).ID, from, to)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, report)
}

// User handles GET /t/:tenant/analytics/users/:user. Only logins into the
// current tenant are reported.
func (h *AnalyticsHandler) User(c *gin.Context) {
	globalID, ok := h.UUIDParam(c, "user")
	if !ok {
		return
	}
	req, ok := h.period(c)
	if !ok {
		return
	}
	from, to, _ := req.Bounds()

	ctx := c.Request.Context()
	tenantID := middleware.Tenant(c).ID
	member, err := h.members.UserCanAccessTenant(ctx, tenantID, globalID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if !member {
		h.Error(c, apperror.NewNotFound("user", globalID))
		return
	}
	user, err := h.identities.GetByGlobalID(ctx, globalID)
	if err != nil {
		h.Error(c, err)
		return
	}

	report, err := h.reports.TenantUserReport(ctx, tenantID, user.ID, from, to)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, report)
}

// Me handles GET /analytics/me: the caller's logins across all tenants.
func (h *AnalyticsHandler) Me(c *gin.Context) {
	centralID, ok := h.CentralID(c)
	if !ok {
		return
	}
	req, ok := h.period(c)
	if !ok {
		return
	}
	from, to, _ := req.Bounds()

	report, err := h.reports.UserReport(c.Request.Context(), centralID, from, to)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, report)
}
