package httpapi

import (
	"net/http"
	"time"

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/auth"
	"callcenter-engine/internal/callbacks"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/dispatch"
	"callcenter-engine/internal/domain"
	"callcenter-engine/internal/queues"
	"callcenter-engine/internal/rbac"
	"callcenter-engine/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Agents    *agents.Service
	Calls     *calls.Service
	Queues    *queues.Service
	Callbacks *callbacks.Service
	Dispatch  *dispatch.Dispatcher
	Reports   *reporting.Service
}

// writeErr maps domain error codes to HTTP statuses. Handlers never branch
// on error text.
func writeErr(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.CodeValidation:
		status = http.StatusBadRequest
	case domain.CodeNotFound:
		status = http.StatusNotFound
	case domain.CodeInvalidState, domain.CodeInvalidTransition,
		domain.CodeConflict, domain.CodeAgentBusy, domain.CodeDuplicateCallback:
		status = http.StatusConflict
	case domain.CodeQueueFull:
		status = http.StatusTooManyRequests
	case domain.CodeGateway:
		status = http.StatusBadGateway
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": string(code)})
}

// canActOnAgent allows agents to operate on their own seat only; supervisors
// and admins may operate on any seat.
func canActOnAgent(c *gin.Context, agentID string) bool {
	role, _ := auth.Role(c.Request.Context())
	if role == rbac.RoleSupervisor || rbac.IsAdmin(role) {
		return true
	}
	return auth.AgentID(c.Request.Context()) == agentID
}

func actor(c *gin.Context) string {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		return "system"
	}
	return uid
}

// --- Auth ---

type tokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken issues a JWT token pair. When the user owns an agent seat the
// seat id is embedded in the claims.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}

	agentID := ""
	if h.Agents != nil {
		if a, err := h.Agents.GetByUserID(c.Request.Context(), req.UserID); err == nil {
			agentID = a.ID
		}
	}

	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, agentID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"user_id":  uid,
		"agent_id": auth.AgentID(c.Request.Context()),
		"role":     role,
	})
}

// periodFromQuery reads from/to RFC3339 query params, defaulting to the
// trailing 24 hours.
func periodFromQuery(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, domain.Errorf(domain.CodeValidation, "malformed from %q", raw)
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, domain.Errorf(domain.CodeValidation, "malformed to %q", raw)
		}
		to = t
	}
	return from, to, nil
}
