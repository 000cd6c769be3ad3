package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/yoocall/internal/utils"
)

// Operator roles carried in the admin token's role claim.
const (
	RoleAdmin   = "admin"
	RoleSupport = "support"
)

// RequireRole admits operators whose role claim matches one of allowed,
// ignoring case. It runs after JWTAuth.
func RequireRole(allowed ...string) gin.HandlerFunc {
	roles := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			roles = append(roles, a)
		}
	}

	return func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.GetString("role")))
		if role == "" || !slices.Contains(roles, role) {
			c.AbortWithStatusJSON(http.StatusForbidden, apiError{
				Code:    utils.CodeForbidden,
				Message: "operator role not allowed",
			})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc { return RequireRole(RoleAdmin) }
