package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/rbac"
	"hybridauth/internal/infrastructure/http/v1/dto"
	"hybridauth/internal/infrastructure/http/v1/middleware"
)

// RoleHandler manages tenant roles. Every route runs inside the scope the
// gate activated, so the role service talks to the tenant database.
type RoleHandler struct {
	*BaseHandler
	roles   *rbac.RoleService
	catalog rbac.Catalog
	local   identity.LocalRepository
}

// NewRoleHandler creates a new role handler.
func NewRoleHandler(base *BaseHandler, roles *rbac.RoleService, catalog rbac.Catalog, local identity.LocalRepository) *RoleHandler {
	return &RoleHandler{
		BaseHandler: base,
		roles:       roles,
		catalog:     catalog,
		local:       local,
	}
}

// List handles GET /t/:tenant/roles
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.roles.ListRoles(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.NewList(dto.FromRoles(roles)))
}

// Get handles GET /t/:tenant/roles/:role
func (h *RoleHandler) Get(c *gin.Context) {
	role, err := h.roles.GetRole(c.Request.Context(), c.Param("role"))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromRole(role))
}

// Create handles POST /t/:tenant/roles
func (h *RoleHandler) Create(c *gin.Context) {
	var req dto.CreateRoleRequest
	if !h.BindJSON(c, &req) {
		return
	}

	role, err := h.roles.CreateRoleWithPermissions(c.Request.Context(), req.Name, req.Permissions)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromRole(role))
}

// UpdatePermissions handles PUT /t/:tenant/roles/:role/permissions
func (h *RoleHandler) UpdatePermissions(c *gin.Context) {
	var req dto.RolePermissionsRequest
	if !h.BindJSON(c, &req) {
		return
	}

	role, err := h.roles.UpdateRolePermissions(c.Request.Context(), c.Param("role"), req.Permissions)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromRole(role))
}

// Delete handles DELETE /t/:tenant/roles/:role
func (h *RoleHandler) Delete(c *gin.Context) {
	if err := h.roles.DeleteRole(c.Request.Context(), c.Param("role")); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// Assign handles POST /t/:tenant/roles/:role/assign
func (h *RoleHandler) Assign(c *gin.Context) {
	h.assignment(c, h.roles.AssignRole)
}

// Remove handles POST /t/:tenant/roles/:role/remove
func (h *RoleHandler) Remove(c *gin.Context) {
	h.assignment(c, h.roles.RemoveRole)
}

func (h *RoleHandler) assignment(c *gin.Context, apply func(ctx context.Context, localID int64, role string) error) {
	var req dto.RoleAssignmentRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	localID, err := h.localID(c, req.GlobalID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := apply(ctx, localID, c.Param("role")); err != nil {
		h.Error(c, err)
		return
	}

	roles, err := h.roles.RolesOf(ctx, localID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if roles == nil {
		roles = []string{}
	}
	h.OK(c, dto.UserRolesResponse{GlobalID: req.GlobalID, Roles: roles})
}

// localID maps a member's global id to the projection row in the active
// tenant database.
func (h *RoleHandler) localID(c *gin.Context, globalID uuid.UUID) (int64, error) {
	local, err := h.local.GetByGlobalID(c.Request.Context(), globalID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return 0, apperror.NewNotSynchronized(middleware.Tenant(c).ID).WithDetail("global_id", globalID)
		}
		return 0, err
	}
	return local.ID, nil
}

// Permissions handles GET /t/:tenant/permissions. The optional module query
// parameter narrows the catalog.
func (h *RoleHandler) Permissions(c *gin.Context) {
	perms, err := h.catalog.List(c.Request.Context(), c.Query("module"))
	if err != nil {
		h.Error(c, err)
		return
	}
	if perms == nil {
		perms = []rbac.Permission{}
	}

	h.OK(c, dto.NewList(perms))
}
