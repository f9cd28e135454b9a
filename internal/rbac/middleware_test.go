package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"callcenter-engine/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveWithIdentity(userID, agentID, role string, handlers ...gin.HandlerFunc) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	chain := append([]gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, agentID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}, handlers...)
	chain = append(chain, func(c *gin.Context) { c.Status(200) })
	r.GET("/x", chain...)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveWithIdentity("u", "", RoleAdmin, RequireAnyRole(RoleSupervisor)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_Forbidden(t *testing.T) {
	if code := serveWithIdentity("u", "a", RoleAgent, RequireAnyRole(RoleSupervisor)); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_Allowed(t *testing.T) {
	if code := serveWithIdentity("u", "a", RoleAgent, RequireAnyRole(RoleAgent, RoleSupervisor)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_MissingRole(t *testing.T) {
	if code := serveWithIdentity("u", "a", "", RequireAnyRole(RoleAgent)); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireAgentSeat(t *testing.T) {
	if code := serveWithIdentity("u", "agent-1", RoleAgent, RequireAgentSeat()); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := serveWithIdentity("u", "", RoleSupervisor, RequireAgentSeat()); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}
