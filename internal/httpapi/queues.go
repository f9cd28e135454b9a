package httpapi

import (
	"net/http"

	"callcenter-engine/internal/queues"

	"github.com/gin-gonic/gin"
)

type createQueueRequest struct {
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Strategy       string            `json:"strategy,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	MaxSize        int               `json:"max_size,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	RequiredSkills []string          `json:"required_skills,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (h Handlers) CreateQueue(c *gin.Context) {
	var req createQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	q, err := h.Queues.Create(c.Request.Context(), queues.CreateRequest{
		Name:           req.Name,
		Description:    req.Description,
		Strategy:       queues.Strategy(req.Strategy),
		Priority:       req.Priority,
		MaxSize:        req.MaxSize,
		TimeoutSeconds: req.TimeoutSeconds,
		RequiredSkills: req.RequiredSkills,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (h Handlers) ListQueues(c *gin.Context) {
	list, err := h.Queues.List(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": list})
}

func (h Handlers) GetQueue(c *gin.Context) {
	q, err := h.Queues.Get(c.Request.Context(), c.Param("queue_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type updateQueueRequest struct {
	Description    *string           `json:"description,omitempty"`
	Strategy       *string           `json:"strategy,omitempty"`
	Priority       *int              `json:"priority,omitempty"`
	MaxSize        *int              `json:"max_size,omitempty"`
	TimeoutSeconds *int              `json:"timeout_seconds,omitempty"`
	RequiredSkills []string          `json:"required_skills,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (h Handlers) UpdateQueue(c *gin.Context) {
	var req updateQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	upd := queues.UpdateRequest{
		Description:    req.Description,
		Priority:       req.Priority,
		MaxSize:        req.MaxSize,
		TimeoutSeconds: req.TimeoutSeconds,
		RequiredSkills: req.RequiredSkills,
		Metadata:       req.Metadata,
	}
	if req.Strategy != nil {
		s := queues.Strategy(*req.Strategy)
		upd.Strategy = &s
	}
	q, err := h.Queues.Update(c.Request.Context(), c.Param("queue_id"), upd)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Handlers) ActivateQueue(c *gin.Context) {
	q, err := h.Queues.Activate(c.Request.Context(), c.Param("queue_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h Handlers) DeactivateQueue(c *gin.Context) {
	q, err := h.Queues.Deactivate(c.Request.Context(), c.Param("queue_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// RouteQueue runs one routing pass over the queue and returns any pairings
// it produced.
func (h Handlers) RouteQueue(c *gin.Context) {
	pairings, err := h.Dispatch.RouteNext(c.Request.Context(), c.Param("queue_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	out := make([]gin.H, 0, len(pairings))
	for _, p := range pairings {
		out = append(out, gin.H{"call_id": p.Call.ID, "agent_id": p.Agent.ID})
	}
	c.JSON(http.StatusOK, gin.H{"pairings": out})
}

func (h Handlers) QueueDepth(c *gin.Context) {
	queueID := c.Param("queue_id")
	q, err := h.Queues.Get(c.Request.Context(), queueID)
	if err != nil {
		writeErr(c, err)
		return
	}
	n, err := h.Calls.CountQueued(c.Request.Context(), queueID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue_id": q.ID, "depth": n, "max_size": q.MaxSize})
}
