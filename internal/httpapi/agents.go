package httpapi

import (
	"net/http"

	"callcenter-engine/internal/agents"

	"github.com/gin-gonic/gin"
)

type createAgentRequest struct {
	UserID             string            `json:"user_id"`
	Name               string            `json:"name"`
	Extension          string            `json:"extension"`
	PhoneNumber        string            `json:"phone_number,omitempty"`
	Skills             []string          `json:"skills,omitempty"`
	QueueIDs           []string          `json:"queue_ids,omitempty"`
	MaxConcurrentCalls int               `json:"max_concurrent_calls,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

func (h Handlers) CreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Agents.Create(c.Request.Context(), agents.CreateRequest{
		UserID:             req.UserID,
		Name:               req.Name,
		Extension:          req.Extension,
		PhoneNumber:        req.PhoneNumber,
		Skills:             req.Skills,
		QueueIDs:           req.QueueIDs,
		MaxConcurrentCalls: req.MaxConcurrentCalls,
		Metadata:           req.Metadata,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h Handlers) ListAgents(c *gin.Context) {
	list, err := h.Agents.List(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}

func (h Handlers) GetAgent(c *gin.Context) {
	a, err := h.Agents.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// LoginAgent brings an agent online and sweeps their queues for waiting calls.
func (h Handlers) LoginAgent(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !canActOnAgent(c, agentID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	a, err := h.Dispatch.LoginAgent(c.Request.Context(), agentID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) LogoutAgent(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !canActOnAgent(c, agentID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	a, err := h.Dispatch.LogoutAgent(c.Request.Context(), agentID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type setStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (h Handlers) SetAgentStatus(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !canActOnAgent(c, agentID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Dispatch.SetAgentStatus(c.Request.Context(), agentID, agents.Status(req.Status), actor(c), req.Reason)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) StartBreak(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !canActOnAgent(c, agentID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	a, err := h.Agents.StartBreak(c.Request.Context(), agentID, actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) EndBreak(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !canActOnAgent(c, agentID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	a, err := h.Agents.EndBreak(c.Request.Context(), agentID, actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type updateSkillsRequest struct {
	Skills []string `json:"skills"`
}

// UpdateAgentSkills is supervisor-only; wired under rbac in routes.
func (h Handlers) UpdateAgentSkills(c *gin.Context) {
	var req updateSkillsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Agents.UpdateSkills(c.Request.Context(), c.Param("agent_id"), req.Skills, actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type setQueuesRequest struct {
	QueueIDs []string `json:"queue_ids"`
}

func (h Handlers) SetAgentQueues(c *gin.Context) {
	var req setQueuesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a, err := h.Agents.SetQueues(c.Request.Context(), c.Param("agent_id"), req.QueueIDs, actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) DeactivateAgent(c *gin.Context) {
	a, err := h.Agents.Deactivate(c.Request.Context(), c.Param("agent_id"), actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) ActivateAgent(c *gin.Context) {
	a, err := h.Agents.Activate(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h Handlers) AgentActivity(c *gin.Context) {
	from, to, err := periodFromQuery(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	evs, err := h.Agents.Activity(c.Request.Context(), c.Param("agent_id"), from, to)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
