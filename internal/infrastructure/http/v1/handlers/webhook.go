package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"hybridauth/internal/domain/webhooks"
	"hybridauth/internal/infrastructure/http/v1/dto"
)

// WebhookHandler manages the webhook subscriptions of the current tenant.
type WebhookHandler struct {
	*BaseHandler
	webhooks *webhooks.Service
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(base *BaseHandler, svc *webhooks.Service) *WebhookHandler {
	return &WebhookHandler{BaseHandler: base, webhooks: svc}
}

// List handles GET /t/:tenant/webhooks
func (h *WebhookHandler) List(c *gin.Context) {
	ws, err := h.webhooks.List(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.NewList(dto.FromWebhooks(ws)))
}

// Create handles POST /t/:tenant/webhooks. The signing secret is only
// returned here.
func (h *WebhookHandler) Create(c *gin.Context) {
	var req dto.CreateWebhookRequest
	if !h.BindJSON(c, &req) {
		return
	}

	w, err := h.webhooks.Create(c.Request.Context(), req.ToInput())
	if err != nil {
		h.Error(c, err)
		return
	}

	resp := dto.FromWebhook(w)
	resp.Secret = w.Secret
	h.Created(c, resp)
}

// Get handles GET /t/:tenant/webhooks/:id
func (h *WebhookHandler) Get(c *gin.Context) {
	webhookID, ok := h.UUIDParam(c, "id")
	if !ok {
		return
	}

	w, err := h.webhooks.Get(c.Request.Context(), webhookID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromWebhook(w))
}

// SetStatus handles PUT /t/:tenant/webhooks/:id/status
func (h *WebhookHandler) SetStatus(c *gin.Context) {
	webhookID, ok := h.UUIDParam(c, "id")
	if !ok {
		return
	}
	var req dto.WebhookStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	w, err := h.webhooks.SetStatus(c.Request.Context(), webhookID, webhooks.Status(req.Status))
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromWebhook(w))
}

// Delete handles DELETE /t/:tenant/webhooks/:id
func (h *WebhookHandler) Delete(c *gin.Context) {
	webhookID, ok := h.UUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.webhooks.Delete(c.Request.Context(), webhookID); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// Deliveries handles GET /t/:tenant/webhooks/:id/deliveries?limit=N
func (h *WebhookHandler) Deliveries(c *gin.Context) {
	webhookID, ok := h.UUIDParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	ds, err := h.webhooks.Deliveries(c.Request.Context(), webhookID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	if ds == nil {
		ds = []*webhooks.Delivery{}
	}

	h.OK(c, dto.NewList(ds))
}
