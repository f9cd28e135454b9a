package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier pushes operational alerts to the supervisor channel.
type Notifier interface {
	QueueOverflow(ctx context.Context, queueName string, depth, maxSize int)
	CallEvicted(ctx context.Context, queueName, callID, outcome string)
	GatewayDown(ctx context.Context, detail string)
}

// SlackNotifier posts alerts to a Slack channel. Delivery is best effort,
// failures are logged and dropped.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	log     *slog.Logger
}

func NewSlackNotifier(token, channel string, log *slog.Logger) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel, log: log}
}

func (n *SlackNotifier) QueueOverflow(ctx context.Context, queueName string, depth, maxSize int) {
	n.post(ctx, fmt.Sprintf(":rotating_light: queue *%s* is full (%d/%d), new callers are being rejected", queueName, depth, maxSize))
}

func (n *SlackNotifier) CallEvicted(ctx context.Context, queueName, callID, outcome string) {
	n.post(ctx, fmt.Sprintf(":hourglass: call %s timed out in queue *%s* (%s)", callID, queueName, outcome))
}

func (n *SlackNotifier) GatewayDown(ctx context.Context, detail string) {
	n.post(ctx, fmt.Sprintf(":warning: telephony provider failure: %s", detail))
}

func (n *SlackNotifier) post(ctx context.Context, text string) {
	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		n.log.Warn("slack notification dropped", "error", err)
	}
}

// NoopNotifier is used when Slack is not configured.
type NoopNotifier struct{}

func (NoopNotifier) QueueOverflow(ctx context.Context, queueName string, depth, maxSize int) {}
func (NoopNotifier) CallEvicted(ctx context.Context, queueName, callID, outcome string)     {}
func (NoopNotifier) GatewayDown(ctx context.Context, detail string)                         {}
