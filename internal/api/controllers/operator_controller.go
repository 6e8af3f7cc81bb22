package controllers

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pasarela/internal/models/request_models"
	"pasarela/internal/models/response_models"
	"pasarela/internal/repositories"
	"pasarela/internal/services"
	"pasarela/pkg/utils"
)

const operatorTokenTTL = 8 * time.Hour

// OperatorController is the back-office surface: listing, reconciliation and
// the stale-pending sweep. Authenticated with a JWT, not a company API token.
type OperatorController struct {
	paymentsService services.PaymentsServiceInterface
}

func NewOperatorController(paymentsService services.PaymentsServiceInterface) *OperatorController {
	return &OperatorController{
		paymentsService: paymentsService,
	}
}

func (o *OperatorController) Login(c *gin.Context) {
	var request request_models.OperatorLoginRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request payload")
		return
	}

	username := os.Getenv("OPERATOR_USERNAME")
	password := os.Getenv("OPERATOR_PASSWORD")
	if username == "" || password == "" {
		utils.RespondError(c, http.StatusServiceUnavailable, "operator access not configured")
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(request.Username), []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(request.Password), []byte(password)) == 1
	if !userOK || !passOK {
		utils.RespondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := utils.CreateOperatorToken(request.Username, operatorTokenTTL)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response_models.OperatorLoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	}, "Login successful")
}

func (o *OperatorController) ListPayments(c *gin.Context) {
	filter := repositories.ListFilter{
		Provider: c.Query("provider"),
		Status:   c.Query("status"),
		BuyOrder: c.Query("buy_order"),
	}
	if raw := c.Query("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			utils.RespondError(c, http.StatusBadRequest, "invalid company_id")
			return
		}
		filter.CompanyID = id
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	payments, err := o.paymentsService.List(c.Request.Context(), filter)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, payments, "")
}

// Reconcile probes the PSP for the payment's real status and applies it.
func (o *OperatorController) Reconcile(c *gin.Context) {
	response, err := o.paymentsService.ReconcileStatus(c.Request.Context(), c.Param("provider"), c.Param("token"))
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, response, "")
}

// AbandonStale closes out PENDING payments older than the given age
// (default 24h) whose buyers never came back.
func (o *OperatorController) AbandonStale(c *gin.Context) {
	olderThan := 24 * time.Hour
	if raw := c.Query("older_than_hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			utils.RespondError(c, http.StatusBadRequest, "invalid older_than_hours")
			return
		}
		olderThan = time.Duration(hours) * time.Hour
	}

	count, err := o.paymentsService.AbandonStale(c.Request.Context(), olderThan)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.RespondSuccess(c, gin.H{"abandoned": count}, "Stale pending sweep completed")
}
