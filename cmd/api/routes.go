package main

import (
	"callcenter-engine/internal/httpapi"
	"callcenter-engine/internal/metrics"
	"callcenter-engine/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, m *metrics.Metrics, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	r.POST("/webhooks/telephony/voice", h.InboundVoice)
	r.POST("/webhooks/telephony/status", h.StatusCallback)

	// Token issuance (public; placeholder credential validation).
	r.POST("/v1/auth/token", h.IssueToken)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", h.Me)

		// AGENT routes. Presence and breaks are self-service; handlers
		// additionally restrict agents to their own seat.
		ag := v1.Group("/agents")
		ag.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			ag.GET("", h.ListAgents)
			ag.GET("/:agent_id", h.GetAgent)
			ag.GET("/:agent_id/activity", h.AgentActivity)
			ag.POST("/:agent_id/login", h.LoginAgent)
			ag.POST("/:agent_id/logout", h.LogoutAgent)
			ag.PUT("/:agent_id/status", h.SetAgentStatus)
			ag.POST("/:agent_id/break/start", h.StartBreak)
			ag.POST("/:agent_id/break/end", h.EndBreak)
		}

		// Agent administration is supervisor-only.
		agAdmin := v1.Group("/agents")
		agAdmin.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			agAdmin.POST("", h.CreateAgent)
			agAdmin.PUT("/:agent_id/skills", h.UpdateAgentSkills)
			agAdmin.PUT("/:agent_id/queues", h.SetAgentQueues)
			agAdmin.POST("/:agent_id/activate", h.ActivateAgent)
			agAdmin.POST("/:agent_id/deactivate", h.DeactivateAgent)
		}

		// CALL routes
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			calls.POST("", h.CreateCall)
			calls.GET("", h.ListCalls)
			calls.GET("/:call_id", h.GetCall)
			calls.GET("/:call_id/events", h.CallHistory)
			calls.POST("/:call_id/hold", h.HoldCall)
			calls.POST("/:call_id/resume", h.ResumeCall)
			calls.POST("/:call_id/end", h.EndCall)
			calls.POST("/:call_id/transfer", h.TransferCall)
			calls.POST("/:call_id/enqueue", h.EnqueueCall)
		}

		// QUEUE routes. Reads are open to agents; mutation is supervisor-only.
		q := v1.Group("/queues")
		q.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			q.GET("", h.ListQueues)
			q.GET("/:queue_id", h.GetQueue)
			q.GET("/:queue_id/depth", h.QueueDepth)
			q.GET("/:queue_id/callbacks", h.ListQueueCallbacks)
			q.GET("/:queue_id/callbacks/stats", h.QueueCallbackStats)
		}
		qAdmin := v1.Group("/queues")
		qAdmin.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			qAdmin.POST("", h.CreateQueue)
			qAdmin.PATCH("/:queue_id", h.UpdateQueue)
			qAdmin.POST("/:queue_id/activate", h.ActivateQueue)
			qAdmin.POST("/:queue_id/deactivate", h.DeactivateQueue)
			qAdmin.POST("/:queue_id/route", h.RouteQueue)
		}

		// CALLBACK routes
		cb := v1.Group("/callbacks")
		cb.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
		{
			cb.POST("", h.RequestCallback)
			cb.POST("/cancel", h.CancelCallback)
		}

		// REPORT routes are supervisor-only.
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
		{
			reports.GET("/agents", h.AgentsSummary)
			reports.GET("/queues/:queue_id", h.QueueReport)
			reports.GET("/agents/:agent_id", h.AgentReport)
		}
	}
}
