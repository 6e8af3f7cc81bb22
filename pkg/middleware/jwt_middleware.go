package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pasarela/pkg/utils"
)

// OperatorAuthMiddleware guards the back-office routes with the JWT minted by
// the operator login endpoint.
func OperatorAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := utils.ValidateOperatorToken(tokenString)
		if err != nil {
			utils.RespondError(c, http.StatusUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set("operator", claims.Username)
		c.Next()
	}
}
