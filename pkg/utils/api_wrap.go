package utils

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIResponse struct {
	Status  string      `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	TraceID string      `json:"trace_id,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func traceID(c *gin.Context) string {
	if v, ok := c.Get("trace_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func RespondSuccess(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, APIResponse{
		Status:  "success",
		Code:    http.StatusOK,
		Message: message,
		TraceID: traceID(c),
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, message string) {
	c.JSON(code, APIResponse{
		Status:  "error",
		Code:    code,
		Message: message,
		TraceID: traceID(c),
	})
}

// HandleServiceError maps the service error taxonomy onto HTTP codes.
// Provider unavailability is the only 502; persistence failures stay 500.
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnsupportedProvider),
		errors.Is(err, ErrUnsupportedCurrency),
		errors.Is(err, ErrRefundExceedsAvailable),
		errors.Is(err, ErrNotRefundable),
		errors.Is(err, ErrAlreadyRefunded),
		errors.Is(err, ErrProviderRejected):
		RespondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrPaymentNotFound):
		RespondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnauthorized):
		RespondError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrWebhookVerificationFailed):
		RespondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrProviderUnavailable):
		RespondError(c, http.StatusBadGateway, err.Error())
	default:
		log.Printf("Unknown error: %v", err)
		RespondError(c, http.StatusInternalServerError, "Internal server error")
	}
}
