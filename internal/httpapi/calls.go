package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createCallRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// CreateCall places an outbound call through the telephony provider.
func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Dispatch.CreateOutboundCall(c.Request.Context(), req.To, req.From, req.AgentID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// ListCalls returns call history for a period, optionally filtered by queue
// or agent.
func (h Handlers) ListCalls(c *gin.Context) {
	from, to, err := periodFromQuery(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	list, err := h.Calls.ListByPeriod(c.Request.Context(), from, to, c.Query("queue_id"), c.Query("agent_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

func (h Handlers) CallHistory(c *gin.Context) {
	evs, err := h.Calls.History(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (h Handlers) HoldCall(c *gin.Context) {
	call, err := h.Dispatch.HoldCall(c.Request.Context(), c.Param("call_id"), actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) ResumeCall(c *gin.Context) {
	call, err := h.Dispatch.ResumeCall(c.Request.Context(), c.Param("call_id"), actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) EndCall(c *gin.Context) {
	call, err := h.Dispatch.EndCall(c.Request.Context(), c.Param("call_id"), actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

type transferRequest struct {
	AgentID string `json:"agent_id"`
}

func (h Handlers) TransferCall(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Dispatch.TransferCall(c.Request.Context(), c.Param("call_id"), req.AgentID, actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

type enqueueRequest struct {
	QueueID string `json:"queue_id"`
}

func (h Handlers) EnqueueCall(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	call, err := h.Dispatch.Enqueue(c.Request.Context(), c.Param("call_id"), req.QueueID, actor(c))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}
