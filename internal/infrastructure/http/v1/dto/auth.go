package dto

import (
	"time"

	"github.com/google/uuid"

	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/identity"
)

// --- Request DTOs ---

// RegisterRequest for self-service sign-up.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	TenantID string `json:"tenant_id,omitempty"`
}

// ToInput converts to the domain input.
func (r *RegisterRequest) ToInput() auth.RegisterInput {
	return auth.RegisterInput{
		Name:     r.Name,
		Email:    r.Email,
		Password: r.Password,
		TenantID: r.TenantID,
	}
}

// TokenRequest carries a one-time token from an emailed link.
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// AcceptInvitationRequest sets up the account of an invitee.
type AcceptInvitationRequest struct {
	Token    string `json:"token" binding:"required,len=64,hexadecimal"`
	Name     string `json:"name" binding:"required,max=255"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest for password login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TwoFactorLoginRequest completes a login challenged for a second factor.
// Code is a TOTP code or a recovery code.
type TwoFactorLoginRequest struct {
	ChallengeToken string `json:"challenge_token" binding:"required"`
	Code           string `json:"code" binding:"required"`
}

// RefreshTokenRequest for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required,len=64,hexadecimal"`
}

// LogoutRequest optionally names the refresh token to revoke.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MagicLinkRequest asks for a login or verification link.
type MagicLinkRequest struct {
	Email string `json:"email" binding:"required,email"`
	Type  string `json:"type" binding:"omitempty,oneof=login email_verification"`
}

// LinkType returns the requested type, login by default.
func (r *MagicLinkRequest) LinkType() auth.MagicLinkType {
	if r.Type == "" {
		return auth.MagicLinkLogin
	}
	return auth.MagicLinkType(r.Type)
}

// ConsumeMagicLinkRequest redeems a link.
type ConsumeMagicLinkRequest struct {
	Token string `json:"token" binding:"required"`
	Type  string `json:"type" binding:"omitempty,oneof=login email_verification"`
}

// LinkType returns the link type, login by default.
func (r *ConsumeMagicLinkRequest) LinkType() auth.MagicLinkType {
	if r.Type == "" {
		return auth.MagicLinkLogin
	}
	return auth.MagicLinkType(r.Type)
}

// CodeRequest carries a TOTP code.
type CodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// UpdateProfileRequest changes central profile attributes.
type UpdateProfileRequest struct {
	Name        *string        `json:"name" binding:"omitempty,min=1,max=255"`
	Email       *string        `json:"email" binding:"omitempty,email"`
	Preferences map[string]any `json:"preferences"`
}

// ToUpdate converts to the domain update.
func (r *UpdateProfileRequest) ToUpdate() identity.ProfileUpdate {
	return identity.ProfileUpdate{
		Name:        r.Name,
		Email:       r.Email,
		Preferences: r.Preferences,
	}
}

// ChangePasswordRequest replaces the password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// --- Response DTOs ---

// UserResponse is the central identity as returned to its owner.
type UserResponse struct {
	ID               id.ID      `json:"id"`
	GlobalID         uuid.UUID  `json:"global_id"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Status           string     `json:"status"`
	EmailVerified    bool       `json:"email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// FromIdentity creates a response from a central identity.
func FromIdentity(c *identity.CentralIdentity) UserResponse {
	return UserResponse{
		ID:               c.ID,
		GlobalID:         c.GlobalID,
		Name:             c.Name,
		Email:            c.Email,
		Status:           string(c.Status),
		EmailVerified:    c.HasVerifiedEmail(),
		TwoFactorEnabled: c.TwoFactorEnabled,
		LastLoginAt:      c.LastLoginAt,
		CreatedAt:        c.CreatedAt,
	}
}

// LoginResponse is either tokens plus the user, or a two-factor challenge.
type LoginResponse struct {
	User              *UserResponse   `json:"user,omitempty"`
	Tokens            *auth.TokenPair `json:"tokens,omitempty"`
	TwoFactorRequired bool            `json:"two_factor_required,omitempty"`
	ChallengeToken    string          `json:"challenge_token,omitempty"`
}

// FromLoginResult creates the login response.
func FromLoginResult(r *auth.LoginResult) LoginResponse {
	if r.TwoFactorRequired {
		return LoginResponse{TwoFactorRequired: true, ChallengeToken: r.ChallengeToken}
	}
	resp := LoginResponse{Tokens: r.Tokens}
	if r.Identity != nil {
		u := FromIdentity(r.Identity)
		resp.User = &u
	}
	return resp
}

// MeResponse is the caller plus the tenants it belongs to.
type MeResponse struct {
	UserResponse
	Tenants []TenantSummary `json:"tenants"`
}

// RecoveryCodesResponse is returned once when two-factor is enabled.
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}
