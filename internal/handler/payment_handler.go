package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harmonia-studio/mls-api/internal/service"
	appErrors "github.com/harmonia-studio/mls-api/pkg/errors"
	"github.com/harmonia-studio/mls-api/pkg/response"
)

// PaymentHandler receives payment provider callbacks.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// Webhook godoc
// @Summary Stripe webhook endpoint
// @Description Receives checkout completion events. Signature verification
// @Description uses the raw request body, so this route must not run through
// @Description any body-rewriting middleware.
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /payments/webhook [post]
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unreadable webhook body"))
		return
	}

	if err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"received": true}, nil)
}
