package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hybridauth/internal/core/apperror"
	appctx "hybridauth/internal/core/context"
	"hybridauth/internal/core/id"
	"hybridauth/internal/domain/auth"
	"hybridauth/internal/infrastructure/http/v1/dto"
	"hybridauth/internal/infrastructure/http/v1/middleware"
)

// BaseHandler provides common handler utilities.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler.
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// BindJSON binds and validates JSON request body.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// BindQuery binds and validates query parameters.
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.Error(c, apperror.NewValidation("invalid query parameters").WithDetail("error", err.Error()))
		return false
	}
	return true
}

// Error registers err on the Gin context and aborts the request.
// The JSON body is produced by middleware.ErrorHandler.
func (h *BaseHandler) Error(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// UUIDParam parses a UUID route parameter.
func (h *BaseHandler) UUIDParam(c *gin.Context, key string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(key))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid "+key).WithDetail(key, c.Param(key)))
		return uuid.Nil, false
	}
	return v, true
}

// Principal returns the caller bound by the gate or fails with 401.
func (h *BaseHandler) Principal(c *gin.Context) (*appctx.Principal, bool) {
	p := appctx.GetPrincipal(c.Request.Context())
	if p == nil {
		h.Error(c, apperror.NewUnauthenticated("authentication required"))
		return nil, false
	}
	return p, true
}

// CentralID returns the caller's central user id.
func (h *BaseHandler) CentralID(c *gin.Context) (id.ID, bool) {
	p, ok := h.Principal(c)
	if !ok {
		return id.ID{}, false
	}
	cid, err := id.Parse(p.CentralUserID)
	if err != nil {
		h.Error(c, apperror.NewUnauthenticated("invalid token subject"))
		return id.ID{}, false
	}
	return cid, true
}

// Meta describes the client for login analytics and refresh token tracking.
func (h *BaseHandler) Meta(c *gin.Context) auth.Meta {
	ip, ua := appctx.Client(c.Request.Context())
	if ip == "" {
		ip, ua = c.ClientIP(), c.Request.UserAgent()
	}
	return auth.Meta{
		IP:        ip,
		UserAgent: ua,
		TenantID:  c.GetHeader(middleware.TenantHeader),
	}
}

// Created sends 201 response with data.
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, data)
}

// OK sends 200 response with data.
func (h *BaseHandler) OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// NoContent sends 204 response.
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Success sends success response.
func (h *BaseHandler) Success(c *gin.Context, message string) {
	c.JSON(http.StatusOK, dto.SuccessResponse{Success: true, Message: message})
}
