package httpapi

import (
	"net/http"

	"callcenter-engine/internal/telephony"
	"callcenter-engine/pkg/logger"

	"github.com/gin-gonic/gin"
)

const twimlContentType = "text/xml; charset=utf-8"

// Provider webhooks. These endpoints speak TwiML, not JSON, and must answer
// 200 with valid instructions even on engine errors or the provider drops
// the call leg.
//
// NOTE: Protect these with Twilio signature validation in production.

func writeTwiML(c *gin.Context, resp telephony.Response) {
	c.Data(http.StatusOK, twimlContentType, telephony.Render(resp))
}

// InboundVoice answers a new inbound call leg. The target queue comes from
// the webhook URL configured per dialed number (?queue_id=...).
func (h Handlers) InboundVoice(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	in, err := telephony.ParseInboundCall(c.Request.PostForm)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	resp, err := h.Dispatch.HandleInboundCall(c.Request.Context(), in, c.Query("queue_id"))
	if err != nil {
		logger.FromGin(c).Error("inbound webhook failed", "provider_call_id", in.ProviderCallID, "err", err)
		writeTwiML(c, telephony.Say("We are unable to take your call right now. Please try again later."))
		return
	}
	writeTwiML(c, resp)
}

// StatusCallback ingests call lifecycle updates from the provider.
func (h Handlers) StatusCallback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	cb, err := telephony.ParseStatusCallback(c.Request.PostForm)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	resp, err := h.Dispatch.HandleStatusCallback(c.Request.Context(), cb)
	if err != nil {
		logger.FromGin(c).Error("status webhook failed", "provider_call_id", cb.ProviderCallID, "status", cb.CallStatus, "err", err)
		writeTwiML(c, telephony.Ack())
		return
	}
	writeTwiML(c, resp)
}
