package dto

import (
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/domain/rbac"
)

// ListUsersRequest filters the tenant user listing.
type ListUsersRequest struct {
	PageRequest
	Search string `form:"search"`
	Status string `form:"status" binding:"omitempty,oneof=pending_verification active suspended inactive"`
	Role   string `form:"role"`
}

// ToFilter converts to the domain filter.
func (r *ListUsersRequest) ToFilter() membership.UserFilter {
	return membership.UserFilter{
		Search: r.Search,
		Status: identity.Status(r.Status),
		Role:   r.Role,
		Limit:  r.Limit,
		Offset: r.Offset,
	}
}

// AttachUserRequest attaches an existing identity by global id.
type AttachUserRequest struct {
	GlobalID uuid.UUID `json:"global_id" binding:"required"`
	Role     string    `json:"role"`
}

// InviteUserRequest attaches an existing identity by email, or invites the
// email when it has no account yet.
type InviteUserRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

// UpdateUserRoleRequest replaces a member's roles.
type UpdateUserRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// MembershipResponse describes a membership edge.
type MembershipResponse struct {
	TenantID   string     `json:"tenant_id"`
	GlobalID   uuid.UUID  `json:"global_id"`
	InvitedBy  *uuid.UUID `json:"invited_by,omitempty"`
	AttachedAt time.Time  `json:"attached_at"`
}

// FromEdge creates a response from a membership edge.
func FromEdge(e *membership.Edge) MembershipResponse {
	return MembershipResponse{
		TenantID:   e.TenantID,
		GlobalID:   e.GlobalID,
		InvitedBy:  e.InvitedBy,
		AttachedAt: e.AttachedAt,
	}
}

// InvitationResponse describes a pending invitation.
type InvitationResponse struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	InvitedBy *uuid.UUID `json:"invited_by,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// FromInvitation creates a response from an invitation.
func FromInvitation(inv *auth.Invitation) InvitationResponse {
	return InvitationResponse{
		ID:        inv.ID.String(),
		TenantID:  inv.TenantID,
		Email:     inv.Email,
		Role:      inv.Role,
		InvitedBy: inv.InvitedBy,
		ExpiresAt: inv.ExpiresAt,
	}
}

// UserRolesResponse lists a member's roles.
type UserRolesResponse struct {
	GlobalID uuid.UUID `json:"global_id"`
	Roles    []string  `json:"roles"`
}

// --- Roles ---

// CreateRoleRequest creates a tenant role.
type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Permissions []string `json:"permissions"`
}

// RolePermissionsRequest replaces a role's permissions.
type RolePermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}

// RoleAssignmentRequest assigns or removes a role.
type RoleAssignmentRequest struct {
	GlobalID uuid.UUID `json:"global_id" binding:"required"`
}

// RoleResponse is a tenant role with its permission names.
type RoleResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Guard       string    `json:"guard"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromRole creates a response from a role.
func FromRole(r *rbac.Role) RoleResponse {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	return RoleResponse{
		ID:          r.ID,
		Name:        r.Name,
		Guard:       r.Guard,
		Permissions: perms,
		CreatedAt:   r.CreatedAt,
	}
}

// FromRoles creates responses from roles.
func FromRoles(rs []*rbac.Role) []RoleResponse {
	out := make([]RoleResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, FromRole(r))
	}
	return out
}
