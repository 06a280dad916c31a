package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/infrastructure/http/v1/dto"
	"hybridauth/internal/infrastructure/http/v1/middleware"
)

// UserHandler manages the members of the tenant bound by the gate.
type UserHandler struct {
	*BaseHandler
	members     *membership.Service
	invitations *auth.InvitationService
}

// NewUserHandler creates a new user handler. invitations may be nil, in which
// case inviting an unknown email is a 404.
func NewUserHandler(base *BaseHandler, members *membership.Service, invitations *auth.InvitationService) *UserHandler {
	return &UserHandler{BaseHandler: base, members: members, invitations: invitations}
}

// List handles GET /t/:tenant/users
func (h *UserHandler) List(c *gin.Context) {
	var req dto.ListUsersRequest
	if !h.BindQuery(c, &req) {
		return
	}

	page, err := h.members.ListTenantUsers(c.Request.Context(), req.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, page)
}

// Attach handles POST /t/:tenant/users
func (h *UserHandler) Attach(c *gin.Context) {
	p, ok := h.Principal(c)
	if !ok {
		return
	}
	var req dto.AttachUserRequest
	if !h.BindJSON(c, &req) {
		return
	}

	inviter := p.GlobalID
	edge, err := h.members.Attach(c.Request.Context(), membership.AttachInput{
		TenantID:  middleware.Tenant(c).ID,
		GlobalID:  req.GlobalID,
		Role:      req.Role,
		InvitedBy: &inviter,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromEdge(edge))
}

// Invite handles POST /t/:tenant/users/invite. An existing account is
// attached (201); an email without one gets an emailed invitation (202).
func (h *UserHandler) Invite(c *gin.Context) {
	p, ok := h.Principal(c)
	if !ok {
		return
	}
	var req dto.InviteUserRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	tenantID := middleware.Tenant(c).ID
	edge, err := h.members.Invite(ctx, tenantID, req.Email, req.Role, p.GlobalID)
	if errors.Is(err, membership.ErrNoAccount) && h.invitations != nil {
		inviter := p.GlobalID
		inv, err := h.invitations.CreateInvitation(ctx, auth.InvitationInput{
			TenantID:  tenantID,
			Email:     req.Email,
			Role:      req.Role,
			InvitedBy: &inviter,
		})
		if err != nil {
			h.Error(c, err)
			return
		}
		c.JSON(http.StatusAccepted, dto.FromInvitation(inv))
		return
	}
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromEdge(edge))
}

// Roles handles GET /t/:tenant/users/:user/roles
func (h *UserHandler) Roles(c *gin.Context) {
	globalID, ok := h.UUIDParam(c, "user")
	if !ok {
		return
	}

	roles, err := h.members.GetUserRoles(c.Request.Context(), middleware.Tenant(c).ID, globalID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if roles == nil {
		roles = []string{}
	}

	h.OK(c, dto.UserRolesResponse{GlobalID: globalID, Roles: roles})
}

// UpdateRole handles PUT /t/:tenant/users/:user/role
func (h *UserHandler) UpdateRole(c *gin.Context) {
	globalID, ok := h.UUIDParam(c, "user")
	if !ok {
		return
	}
	var req dto.UpdateUserRoleRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.members.UpdateUserRole(c.Request.Context(), middleware.Tenant(c).ID, globalID, req.Role); err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.UserRolesResponse{GlobalID: globalID, Roles: []string{req.Role}})
}

// Detach handles DELETE /t/:tenant/users/:user
func (h *UserHandler) Detach(c *gin.Context) {
	globalID, ok := h.UUIDParam(c, "user")
	if !ok {
		return
	}

	if err := h.members.Detach(c.Request.Context(), middleware.Tenant(c).ID, globalID); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}
