package telephony

import (
	"context"

	"callcenter-engine/internal/domain"
)

// Gateway is the provider boundary. Every method is blocking I/O with a
// short timeout; failures surface as domain errors with CodeGateway, the only
// retryable code, so the external task layer can back off and retry.
type Gateway interface {
	// PlaceCall originates an outbound call and returns the provider's call
	// id. instructionsURL is fetched by the provider when the callee answers.
	PlaceCall(ctx context.Context, to, from, instructionsURL string) (string, error)

	// Bridge connects an active provider call to an agent endpoint
	// (extension or phone number).
	Bridge(ctx context.Context, providerCallID, agentEndpoint string) error

	Hold(ctx context.Context, providerCallID string) error
	Resume(ctx context.Context, providerCallID string) error
	End(ctx context.Context, providerCallID string) error
}

// GatewayError wraps a provider failure with its provider error code.
func GatewayError(providerCode, message string, err error) error {
	return domain.Wrap(domain.CodeGateway, "provider "+providerCode+": "+message, err)
}

// NoopGateway acknowledges every instruction without contacting a provider.
// It backs tests and local development.
type NoopGateway struct {
	// Fail, when set, makes every method return a gateway error. Tests use
	// it to exercise revert paths.
	Fail bool

	Placed  []string
	Bridged []string
}

func (g *NoopGateway) PlaceCall(ctx context.Context, to, from, instructionsURL string) (string, error) {
	if g.Fail {
		return "", GatewayError("0", "noop gateway configured to fail", nil)
	}
	id := "noop-" + to
	g.Placed = append(g.Placed, id)
	return id, nil
}

func (g *NoopGateway) Bridge(ctx context.Context, providerCallID, agentEndpoint string) error {
	if g.Fail {
		return GatewayError("0", "noop gateway configured to fail", nil)
	}
	g.Bridged = append(g.Bridged, providerCallID+"->"+agentEndpoint)
	return nil
}

func (g *NoopGateway) Hold(ctx context.Context, providerCallID string) error   { return g.ack() }
func (g *NoopGateway) Resume(ctx context.Context, providerCallID string) error { return g.ack() }
func (g *NoopGateway) End(ctx context.Context, providerCallID string) error    { return g.ack() }

func (g *NoopGateway) ack() error {
	if g.Fail {
		return GatewayError("0", "noop gateway configured to fail", nil)
	}
	return nil
}
