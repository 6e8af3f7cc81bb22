package controllers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"pasarela/internal/services"
	"pasarela/pkg/utils"
)

// 1 MiB is far beyond any PSP event payload.
const maxWebhookBody = 1 << 20

type WebhooksController struct {
	webhookService services.WebhookServiceInterface
}

func NewWebhooksController(webhookService services.WebhookServiceInterface) *WebhooksController {
	return &WebhooksController{
		webhookService: webhookService,
	}
}

func (w *WebhooksController) Receive(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.RespondError(c, http.StatusBadRequest, "unreadable body")
		return
	}

	ack, err := w.webhookService.ProcessWebhook(c.Request.Context(), c.Param("provider"), c.Request, payload)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}
