package httpapi

import (
	"net/http"
	"time"

	"callcenter-engine/internal/callbacks"

	"github.com/gin-gonic/gin"
)

type callbackRequest struct {
	CallID        string `json:"call_id,omitempty"`
	QueueID       string `json:"queue_id"`
	PhoneNumber   string `json:"phone_number"`
	PreferredTime string `json:"preferred_time,omitempty"`
	Notes         string `json:"notes,omitempty"`
	Priority      int    `json:"priority,omitempty"`
}

func (h Handlers) RequestCallback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var preferred time.Time
	if req.PreferredTime != "" {
		t, err := time.Parse(time.RFC3339, req.PreferredTime)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed preferred_time"})
			return
		}
		preferred = t
	}

	cb, err := h.Dispatch.RequestCallback(c.Request.Context(), callbacks.Request{
		CallID:        req.CallID,
		QueueID:       req.QueueID,
		PhoneNumber:   req.PhoneNumber,
		PreferredTime: preferred,
		Notes:         req.Notes,
		Priority:      req.Priority,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, cb)
}

type cancelCallbackRequest struct {
	PhoneNumber string `json:"phone_number"`
}

func (h Handlers) CancelCallback(c *gin.Context) {
	var req cancelCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	canceled, err := h.Dispatch.CancelCallback(c.Request.Context(), req.PhoneNumber)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": canceled})
}

func (h Handlers) ListQueueCallbacks(c *gin.Context) {
	list, err := h.Callbacks.ListByQueue(c.Request.Context(), c.Param("queue_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"callbacks": list})
}

func (h Handlers) QueueCallbackStats(c *gin.Context) {
	stats, err := h.Callbacks.Stats(c.Request.Context(), c.Param("queue_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": stats})
}
