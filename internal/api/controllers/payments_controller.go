package controllers

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pasarela/internal/models/db_models"
	"pasarela/internal/models/request_models"
	"pasarela/internal/services"
	"pasarela/pkg/utils"
)

type PaymentsController struct {
	paymentsService services.PaymentsServiceInterface
}

func NewPaymentsController(paymentsService services.PaymentsServiceInterface) *PaymentsController {
	return &PaymentsController{
		paymentsService: paymentsService,
	}
}

// Create godoc
// @Summary Create a payment and open a PSP checkout session
// @Description Create a payment and open a PSP checkout session
// @Tags Payments
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key for safe retries"
// @Param request body request_models.CreatePaymentRequest true "Create Payment Request"
// @Success 200 {object} utils.APIResponse
// @Security ApiKeyAuth
// @Router /payments [post]
func (p *PaymentsController) Create(c *gin.Context) {
	var request request_models.CreatePaymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	companyID, ok := companyFromContext(c)
	if !ok {
		return
	}
	idempotencyKey := c.GetHeader("Idempotency-Key")

	response, err := p.paymentsService.Create(c.Request.Context(), companyID, request, idempotencyKey)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	utils.RespondSuccess(c, response, "Payment created successfully")
}

// Return handles the buyer coming back from the PSP. Webpay posts a form,
// Stripe and PayPal redirect with query params; both verbs land here.
func (p *PaymentsController) Return(c *gin.Context) {
	provider := c.Param("provider")
	token, canceled := returnToken(c, provider)
	if token == "" {
		utils.RespondError(c, http.StatusBadRequest, "missing transaction token")
		return
	}

	outcome, err := p.paymentsService.CommitReturn(c.Request.Context(), provider, token, canceled)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}

	if target := redirectTarget(outcome); target != "" {
		c.Redirect(http.StatusFound, target)
		return
	}
	utils.RespondSuccess(c, gin.H{
		"payment_id": outcome.PaymentID,
		"buy_order":  outcome.BuyOrder,
		"status":     outcome.Status,
	}, "Payment committed")
}

// Status godoc
// @Summary Get the current status of a payment
// @Tags Payments
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Security ApiKeyAuth
// @Router /payments/{provider}/status/{token} [get]
func (p *PaymentsController) Status(c *gin.Context) {
	companyID, ok := companyFromContext(c)
	if !ok {
		return
	}

	response, err := p.paymentsService.GetStatus(c.Request.Context(), companyID, c.Param("provider"), c.Param("token"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response, "")
}

// Refund godoc
// @Summary Refund an authorized payment, fully or partially
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body request_models.RefundPaymentRequest false "Refund Payment Request"
// @Success 200 {object} utils.APIResponse
// @Security ApiKeyAuth
// @Router /payments/{provider}/refund/{token} [post]
func (p *PaymentsController) Refund(c *gin.Context) {
	var request request_models.RefundPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	companyID, ok := companyFromContext(c)
	if !ok {
		return
	}

	response, err := p.paymentsService.Refund(c.Request.Context(), companyID, c.Param("provider"), c.Param("token"), request.AmountMinor, request.Reason)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response, "Refund processed")
}

func companyFromContext(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetString("company_id")
	if raw == "" {
		utils.RespondError(c, http.StatusUnauthorized, "company authentication required")
		return uuid.Nil, false
	}
	companyID, err := uuid.Parse(raw)
	if err != nil {
		utils.RespondError(c, http.StatusUnauthorized, "invalid company id")
		return uuid.Nil, false
	}
	return companyID, true
}

// returnToken digs the PSP token out of the return callback. Each provider
// names it differently; Webpay signals buyer abort with TBK_TOKEN instead of
// token_ws, PayPal and Stripe use an explicit cancel flag on the URL.
func returnToken(c *gin.Context, provider string) (token string, canceled bool) {
	param := func(name string) string {
		if v := c.PostForm(name); v != "" {
			return v
		}
		return c.Query(name)
	}

	switch provider {
	case "webpay":
		if v := param("token_ws"); v != "" {
			return v, false
		}
		if v := param("TBK_TOKEN"); v != "" {
			return v, true
		}
		return "", false
	case "stripe":
		return param("session_id"), param("canceled") == "true"
	case "paypal":
		return param("token"), param("cancel") == "true"
	}
	return param("token"), false
}

// redirectTarget picks the client-registered URL for the outcome and tacks on
// status and buy_order so the shop can render without another API call.
func redirectTarget(outcome *services.CommitOutcome) string {
	var base string
	switch outcome.Status {
	case db_models.PaymentStatusAuthorized:
		base = outcome.SuccessURL
	case db_models.PaymentStatusCanceled, db_models.PaymentStatusAbandoned:
		base = outcome.CancelURL
		if base == "" {
			base = outcome.FailureURL
		}
	default:
		base = outcome.FailureURL
	}
	if base == "" {
		return ""
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	query.Set("status", string(outcome.Status))
	query.Set("buy_order", outcome.BuyOrder)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
