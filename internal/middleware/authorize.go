package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tu2l/identity-platform/internal/gateway"
	"github.com/tu2l/identity-platform/internal/models"
)

// RequireRole gates a route group on the role header the gateway derived
// from the access token. The service sits behind the gateway, which strips
// inbound copies of that header, so its value is trusted here.
func RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	roleSet := make(map[models.UserRole]struct{}, len(roles))
	for _, role := range roles {
		roleSet[role] = struct{}{}
	}

	return func(c *gin.Context) {
		role := models.UserRole(c.GetHeader(gateway.HeaderUserRole))
		if role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if _, ok := roleSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Next()
	}
}
