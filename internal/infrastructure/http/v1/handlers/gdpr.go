package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"hybridauth/internal/domain/gdpr"
	"hybridauth/internal/infrastructure/http/v1/dto"
	"hybridauth/internal/infrastructure/http/v1/middleware"
)

// GDPRHandler serves data exports and the deletion request workflow.
type GDPRHandler struct {
	*BaseHandler
	gdpr *gdpr.Service
}

// NewGDPRHandler creates a new GDPR handler.
func NewGDPRHandler(base *BaseHandler, svc *gdpr.Service) *GDPRHandler {
	return &GDPRHandler{BaseHandler: base, gdpr: svc}
}

// Export handles POST /gdpr/export. The archive is mailed, never returned.
func (h *GDPRHandler) Export(c *gin.Context) {
	centralID, ok := h.CentralID(c)
	if !ok {
		return
	}

	archive, err := h.gdpr.Export(c.Request.Context(), centralID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromArchive(archive))
}

// RequestDeletion handles POST /gdpr/delete-request
func (h *GDPRHandler) RequestDeletion(c *gin.Context) {
	centralID, ok := h.CentralID(c)
	if !ok {
		return
	}
	var req dto.DeletionRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	r, err := h.gdpr.RequestDeletion(c.Request.Context(), centralID, req.Reason)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, r)
}

// ListPending handles GET /t/:tenant/gdpr/requests
func (h *GDPRHandler) ListPending(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	rs, err := h.gdpr.ListPending(c.Request.Context(), middleware.Tenant(c).ID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	if rs == nil {
		rs = []*gdpr.DeleteRequest{}
	}

	h.OK(c, dto.NewList(rs))
}

// Approve handles POST /t/:tenant/gdpr/requests/:id/approve
func (h *GDPRHandler) Approve(c *gin.Context) {
	p, ok := h.Principal(c)
	if !ok {
		return
	}
	requestID, ok := h.UUIDParam(c, "id")
	if !ok {
		return
	}

	r, err := h.gdpr.Approve(c.Request.Context(), middleware.Tenant(c).ID, requestID, p.GlobalID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, r)
}

// Deny handles POST /t/:tenant/gdpr/requests/:id/deny
func (h *GDPRHandler) Deny(c *gin.Context) {
	p, ok := h.Principal(c)
	if !ok {
		return
	}
	requestID, ok := h.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req dto.DenyDeletionRequest
	if c.Request.ContentLength > 0 && !h.BindJSON(c, &req) {
		return
	}

	r, err := h.gdpr.Deny(c.Request.Context(), middleware.Tenant(c).ID, requestID, p.GlobalID, req.Note)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, r)
}
