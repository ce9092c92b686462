// Package notify implements a best-effort Slack admin-notification
// side-channel: executor token issuance and revocation are posted to a
// configured channel, so operators see token churn without polling the
// admin surface. Never on the request's critical path.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts gateway admin events to Slack.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New builds a Notifier. If botToken is empty, the notifier is a no-op
// (logs at debug level instead of posting).
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// Enabled reports whether Slack posting is configured.
func (n *Notifier) Enabled() bool {
	return n.client != nil && n.channel != ""
}

// ExecutorTokenEvent posts about an executor token lifecycle event. Intended
// to be called as the notify callback wired into pkg/admin's Handler —
// never returns an error to its caller; failures are logged only.
func (n *Notifier) ExecutorTokenEvent(event, clusterID string) {
	if !n.Enabled() {
		n.logger.Debug("slack notifier disabled, skipping admin event", "event", event, "cluster_id", clusterID)
		return
	}

	text := fmt.Sprintf("%s for cluster `%s`", describe(event), clusterID)
	_, _, err := n.client.PostMessageContext(context.Background(), n.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("posting admin event to slack failed", "event", event, "cluster_id", clusterID, "error", err)
	}
}

func describe(event string) string {
	switch event {
	case "executor_token_created":
		return "Executor token created"
	case "executor_token_revoked":
		return "Executor token revoked"
	default:
		return event
	}
}
