package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h Handlers) QueueReport(c *gin.Context) {
	from, to, err := periodFromQuery(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	stats, err := h.Reports.QueueReport(c.Request.Context(), c.Param("queue_id"), from, to)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) AgentReport(c *gin.Context) {
	from, to, err := periodFromQuery(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	perf, err := h.Reports.AgentReport(c.Request.Context(), c.Param("agent_id"), from, to)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

// AgentsSummary is the live wallboard view.
func (h Handlers) AgentsSummary(c *gin.Context) {
	list, err := h.Reports.AgentsSummary(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": list})
}
