// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hybridauth/internal/core/apperror"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/domain/identity"
	"hybridauth/internal/domain/membership"
	"hybridauth/internal/infrastructure/http/v1/dto"
	"hybridauth/internal/infrastructure/http/v1/middleware"
)

// AuthServices groups the services behind the auth endpoints.
type AuthServices struct {
	Register    *auth.RegisterService
	Login       *auth.LoginService
	Sessions    *auth.SessionService
	MagicLinks  *auth.MagicLinkService
	TwoFactor   *auth.TwoFactorService
	Invitations *auth.InvitationService
	Identities  *identity.Service
	Members     *membership.Service
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	*BaseHandler
	svc AuthServices
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(base *BaseHandler, svc AuthServices) *AuthHandler {
	return &AuthHandler{
		BaseHandler: base,
		svc:         svc,
	}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if !h.BindJSON(c, &req) {
		return
	}

	user, err := h.svc.Register.Register(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromIdentity(user))
}

// VerifyEmail handles POST /auth/verify-email
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req dto.TokenRequest
	if !h.BindJSON(c, &req) {
		return
	}

	user, err := h.svc.Register.VerifyEmail(c.Request.Context(), req.Token, h.Meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromIdentity(user))
}

// AcceptInvitation handles POST /auth/invitations/accept
func (h *AuthHandler) AcceptInvitation(c *gin.Context) {
	var req dto.AcceptInvitationRequest
	if !h.BindJSON(c, &req) {
		return
	}

	user, err := h.svc.Invitations.AcceptInvitation(c.Request.Context(), req.Token, req.Name, req.Password)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.FromIdentity(user))
}

// Login handles POST /auth/login. A 200 with two_factor_required carries a
// challenge token for POST /auth/login/2fa.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.svc.Login.Login(c.Request.Context(), req.Email, req.Password, h.Meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromLoginResult(res))
}

// LoginTwoFactor handles POST /auth/login/2fa
func (h *AuthHandler) LoginTwoFactor(c *gin.Context) {
	var req dto.TwoFactorLoginRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.svc.Login.CompleteTwoFactor(c.Request.Context(), req.ChallengeToken, req.Code, h.Meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromLoginResult(res))
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshTokenRequest
	if !h.BindJSON(c, &req) {
		return
	}

	tokens, err := h.svc.Sessions.Refresh(c.Request.Context(), req.RefreshToken, h.Meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, tokens)
}

// MagicLink handles POST /auth/magic-link. The response is the same whether
// or not the email is known.
func (h *AuthHandler) MagicLink(c *gin.Context) {
	var req dto.MagicLinkRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.svc.MagicLinks.Request(c.Request.Context(), req.Email, req.LinkType()); err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.SuccessResponse{
		Success: true,
		Message: "If the address belongs to an account, a link has been sent",
	})
}

// ConsumeMagicLink handles POST /auth/magic-link/consume
func (h *AuthHandler) ConsumeMagicLink(c *gin.Context) {
	var req dto.ConsumeMagicLinkRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.svc.MagicLinks.Consume(c.Request.Context(), req.Token, req.LinkType(), h.Meta(c))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromLoginResult(res))
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		h.Error(c, apperror.NewUnauthenticated("authentication required"))
		return
	}

	var req dto.LogoutRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	if err := h.svc.Sessions.Logout(c.Request.Context(), claims, req.RefreshToken); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.CentralIdentity(c)
	if user == nil {
		h.Error(c, apperror.NewUnauthenticated("authentication required"))
		return
	}

	tenants, err := h.svc.Members.TenantsOf(c.Request.Context(), user.GlobalID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.MeResponse{
		UserResponse: dto.FromIdentity(user),
		Tenants:      dto.FromTenants(tenants),
	})
}

// UpdateProfile handles PATCH /auth/me
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	centralID, ok := h.CentralID(c)
	if !ok {
		return
	}
	var req dto.UpdateProfileRequest
	if !h.BindJSON(c, &req) {
		return
	}

	user, err := h.svc.Identities.UpdateProfile(c.Request.Context(), centralID, req.ToUpdate())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromIdentity(user))
}

// ChangePassword handles POST /auth/password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	centralID, ok := h.CentralID(c)
	if !ok {
		return
	}
	var req dto.ChangePasswordRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.svc.Identities.ChangePassword(c.Request.Context(), centralID, req.CurrentPassword, req.NewPassword); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "Password changed")
}

// SetupTwoFactor handles POST /auth/2fa/setup
func (h *AuthHandler) SetupTwoFactor(c *gin.Context) {
	centralID, ok := h.CentralID(c)
	if !ok {
		return
	}

	setup, err := h.svc.TwoFactor.Setup(c.Request.Context(), centralID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, setup)
}

// EnableTwoFactor handles POST /auth/2fa/enable
func (h *AuthHandler) EnableTwoFactor(c *gin.Context) {
	centralID, ok := h.CentralID(c)
	if !ok {
		return
	}
	var req dto.CodeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	codes, err := h.svc.TwoFactor.Enable(c.Request.Context(), centralID, req.Code)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.RecoveryCodesResponse{RecoveryCodes: codes})
}

// DisableTwoFactor handles POST /auth/2fa/disable
func (h *AuthHandler) DisableTwoFactor(c *gin.Context) {
	centralID, ok := h.CentralID(c)
	if !ok {
		return
	}
	var req dto.CodeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	if err := h.svc.TwoFactor.Disable(c.Request.Context(), centralID, req.Code); err != nil {
		h.Error(c, err)
		return
	}

	h.Success(c, "Two-factor authentication disabled")
}
