package rbac

import (
	"net/http"

	"callcenter-engine/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAgentSeat rejects callers whose token carries no agent seat.
// Agent self-service endpoints (login, status, break) need one; admins
// acting on behalf of an agent pass the agent id explicitly instead.
func RequireAgentSeat() gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth.AgentID(c.Request.Context()) == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "agent seat required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
