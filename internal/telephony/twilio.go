package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig carries the REST API credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the API host, for tests.
	BaseURL string

	// HoldMusicURL is played to the caller while on hold.
	HoldMusicURL string

	Timeout time.Duration
}

func (c TwilioConfig) withDefaults() TwilioConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.twilio.com"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// TwilioGateway implements Gateway against the Twilio REST API.
type TwilioGateway struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioGateway(cfg TwilioConfig) *TwilioGateway {
	cfg = cfg.withDefaults()
	return &TwilioGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (g *TwilioGateway) PlaceCall(ctx context.Context, to, from, instructionsURL string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Url", instructionsURL)

	var resp struct {
		SID string `json:"sid"`
	}
	if err := g.post(ctx, "/Calls.json", form, &resp); err != nil {
		return "", err
	}
	return resp.SID, nil
}

func (g *TwilioGateway) Bridge(ctx context.Context, providerCallID, agentEndpoint string) error {
	form := url.Values{}
	form.Set("Twiml", string(Render(Dial(agentEndpoint))))
	return g.post(ctx, "/Calls/"+providerCallID+".json", form, nil)
}

func (g *TwilioGateway) Hold(ctx context.Context, providerCallID string) error {
	form := url.Values{}
	form.Set("Twiml", string(Render(HoldMusic(g.cfg.HoldMusicURL))))
	return g.post(ctx, "/Calls/"+providerCallID+".json", form, nil)
}

func (g *TwilioGateway) Resume(ctx context.Context, providerCallID string) error {
	// Resuming re-bridges the parties; the provider keeps the existing leg,
	// we just stop the hold loop.
	form := url.Values{}
	form.Set("Twiml", string(Render(Say("Reconnecting you now."))))
	return g.post(ctx, "/Calls/"+providerCallID+".json", form, nil)
}

func (g *TwilioGateway) End(ctx context.Context, providerCallID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return g.post(ctx, "/Calls/"+providerCallID+".json", form, nil)
}

func (g *TwilioGateway) post(ctx context.Context, path string, form url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s%s", g.cfg.BaseURL, g.cfg.AccountSID, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return GatewayError("0", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return GatewayError("0", "provider unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayError("0", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		return GatewayError(fmt.Sprintf("%d", apiErr.Code), apiErr.Message, fmt.Errorf("http %d", resp.StatusCode))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return GatewayError("0", "decode response", err)
		}
	}
	return nil
}
