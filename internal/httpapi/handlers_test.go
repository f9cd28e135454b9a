package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/auth"
	"callcenter-engine/internal/callbacks"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/dispatch"
	"callcenter-engine/internal/events"
	"callcenter-engine/internal/locks"
	"callcenter-engine/internal/metrics"
	"callcenter-engine/internal/notify"
	"callcenter-engine/internal/queues"
	"callcenter-engine/internal/rbac"
	"callcenter-engine/internal/reporting"
	"callcenter-engine/internal/routing"
	"callcenter-engine/internal/telephony"
)

type apiFixture struct {
	h       Handlers
	r       *gin.Engine
	gateway *telephony.NoopGateway
}

// identity injects a caller into the request context, standing in for the
// JWT middleware.
func identity(userID, agentID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, agentID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newAPIFixture(t *testing.T, who gin.HandlerFunc) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gateway := &telephony.NoopGateway{}
	sink := events.NewMemoryRepo()
	evSvc := events.NewService(sink)
	callSvc := calls.NewService(calls.NewMemoryRepo(sink), evSvc)
	agentSvc := agents.NewService(agents.NewMemoryRepo(sink), evSvc, callSvc)
	locker := locks.NewMemoryLocker()
	queueSvc := queues.NewService(queues.NewMemoryRepo(), callSvc, locker)
	callbackSvc := callbacks.NewService(callbacks.NewMemoryRepo(), locker)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := routing.New(callSvc, agentSvc, queueSvc, gateway, locker, log)
	d := dispatch.New(dispatch.Config{
		PublicBaseURL:   "https://engine.example.com",
		DefaultCallerID: "+15550009999",
	}, callSvc, agentSvc, queueSvc, callbackSvc, router, gateway, locker,
		notify.NoopNotifier{}, metrics.New(), log)

	h := Handlers{
		Agents:    agentSvc,
		Calls:     callSvc,
		Queues:    queueSvc,
		Callbacks: callbackSvc,
		Dispatch:  d,
		Reports:   reporting.New(callSvc, agentSvc, queueSvc),
	}

	r := gin.New()
	r.POST("/webhooks/telephony/voice", h.InboundVoice)
	r.POST("/webhooks/telephony/status", h.StatusCallback)

	v1 := r.Group("/v1")
	v1.Use(who)
	{
		v1.POST("/queues", h.CreateQueue)
		v1.GET("/queues/:queue_id/depth", h.QueueDepth)
		v1.POST("/agents", h.CreateAgent)
		v1.POST("/agents/:agent_id/login", h.LoginAgent)
		v1.PUT("/agents/:agent_id/status", h.SetAgentStatus)
		v1.POST("/calls", h.CreateCall)
		v1.GET("/calls/:call_id", h.GetCall)
		v1.POST("/calls/:call_id/end", h.EndCall)
		v1.POST("/callbacks", h.RequestCallback)
		v1.GET("/reports/queues/:queue_id", h.QueueReport)
	}

	return &apiFixture{h: h, r: r, gateway: gateway}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func (f *apiFixture) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestCreateQueueAndDepth(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))

	w := f.do(t, http.MethodPost, "/v1/queues", gin.H{"name": "support", "strategy": "fifo"})
	require.Equal(t, http.StatusCreated, w.Code)

	var q queues.Queue
	decode(t, w, &q)
	require.NotEmpty(t, q.ID)
	require.Equal(t, queues.DefaultMaxSize, q.MaxSize)

	w = f.do(t, http.MethodGet, "/v1/queues/"+q.ID+"/depth", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var depth struct {
		Depth   int `json:"depth"`
		MaxSize int `json:"max_size"`
	}
	decode(t, w, &depth)
	require.Equal(t, 0, depth.Depth)
	require.Equal(t, queues.DefaultMaxSize, depth.MaxSize)
}

func TestCreateQueueValidationMapsTo400(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))

	w := f.do(t, http.MethodPost, "/v1/queues", gin.H{"name": ""})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body struct {
		Code string `json:"code"`
	}
	decode(t, w, &body)
	require.Equal(t, "validation", body.Code)
}

func TestGetCallNotFoundMapsTo404(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))
	w := f.do(t, http.MethodGet, "/v1/calls/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSupervisorCreatesAndLogsInAgent(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))
	w := f.do(t, http.MethodPost, "/v1/agents", gin.H{
		"user_id": "u-1", "name": "Erin", "extension": "1001",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var a agents.Agent
	decode(t, w, &a)

	w = f.do(t, http.MethodPost, "/v1/agents/"+a.ID+"/login", nil)
	require.Equal(t, http.StatusOK, w.Code)

	decode(t, w, &a)
	require.Equal(t, agents.StatusAvailable, a.Status)
}

func TestAgentCannotActOnOtherSeat(t *testing.T) {
	f := newAPIFixture(t, identity("u-9", "agent-9", rbac.RoleAgent))

	a, err := f.h.Agents.Create(context.Background(), agents.CreateRequest{UserID: "u-1", Name: "Erin", Extension: "1001"})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/v1/agents/"+a.ID+"/login", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestSetAgentStatusInvalidTransitionMapsTo409(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))

	a, err := f.h.Agents.Create(context.Background(), agents.CreateRequest{UserID: "u-1", Name: "Erin", Extension: "1001"})
	require.NoError(t, err)

	// offline -> busy is not a legal transition
	w := f.do(t, http.MethodPut, "/v1/agents/"+a.ID+"/status", gin.H{"status": "busy"})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestInboundWebhookReturnsTwiML(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))

	w := f.do(t, http.MethodPost, "/v1/queues", gin.H{"name": "support"})
	require.Equal(t, http.StatusCreated, w.Code)
	var q queues.Queue
	decode(t, w, &q)

	form := url.Values{}
	form.Set("CallSid", "CA100")
	form.Set("From", "+15550001111")
	form.Set("To", "+15550002222")
	form.Set("Direction", "inbound")

	wh := f.postForm(t, "/webhooks/telephony/voice?queue_id="+q.ID, form)
	require.Equal(t, http.StatusOK, wh.Code)
	require.Contains(t, wh.Header().Get("Content-Type"), "text/xml")
	require.Contains(t, wh.Body.String(), "<Enqueue")

	c, err := f.h.Calls.GetByProviderID(context.Background(), "CA100")
	require.NoError(t, err)
	require.Equal(t, calls.StatusQueued, c.Status)
}

func TestStatusWebhookRejectsMissingSid(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))

	form := url.Values{}
	form.Set("CallStatus", "completed")
	w := f.postForm(t, "/webhooks/telephony/status", form)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOutboundCallAndEnd(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))

	w := f.do(t, http.MethodPost, "/v1/calls", gin.H{"to": "+15550003333"})
	require.Equal(t, http.StatusCreated, w.Code)
	var c calls.Call
	decode(t, w, &c)
	require.Equal(t, calls.DirectionOutbound, c.Direction)
	require.Len(t, f.gateway.Placed, 1)

	// Ringing call cannot be ended by an agent command.
	w = f.do(t, http.MethodPost, "/v1/calls/"+c.ID+"/end", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestRequestCallbackDuplicateMapsTo409(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))

	w := f.do(t, http.MethodPost, "/v1/queues", gin.H{"name": "support"})
	var q queues.Queue
	decode(t, w, &q)

	body := gin.H{"queue_id": q.ID, "phone_number": "+15550004444"}
	w = f.do(t, http.MethodPost, "/v1/callbacks", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/v1/callbacks", body)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestQueueReportEmptyPeriod(t *testing.T) {
	f := newAPIFixture(t, identity("sup-1", "", rbac.RoleSupervisor))

	w := f.do(t, http.MethodPost, "/v1/queues", gin.H{"name": "support"})
	var q queues.Queue
	decode(t, w, &q)

	w = f.do(t, http.MethodGet, "/v1/reports/queues/"+q.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats reporting.QueueStats
	decode(t, w, &stats)
	require.Equal(t, 0, stats.Total)
}
