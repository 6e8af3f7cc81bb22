package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pasarela/internal/repositories"
	"pasarela/pkg/utils"
)

// CompanyAuthMiddleware authenticates merchant API traffic: the X-Company-Id
// header names the company, the bearer token must match its stored hash.
func CompanyAuthMiddleware(companies repositories.CompanyRepositoryInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawID := c.GetHeader("X-Company-Id")
		companyID, err := uuid.Parse(rawID)
		if rawID == "" || err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "X-Company-Id header missing or invalid")
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			c.Abort()
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		company, err := companies.GetByID(c.Request.Context(), companyID)
		if err != nil {
			utils.RespondError(c, http.StatusInternalServerError, "Internal server error")
			c.Abort()
			return
		}
		if company == nil || !company.Active || utils.CheckAPIToken(company.APITokenHash, token) != nil {
			utils.RespondError(c, http.StatusUnauthorized, "invalid company credentials")
			c.Abort()
			return
		}

		c.Set("company_id", company.ID.String())
		c.Next()
	}
}
