// Package notify posts orchestration lifecycle notices to Slack. The
// notifier is optional: a nil *Notifier is safe to call and does nothing, so
// wiring code never branches on whether Slack is configured.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/codeready-toolchain/conductor/pkg/config"
)

// Notifier posts messages to a single configured channel.
type Notifier struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// New creates a Notifier, or nil when no token is configured.
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil || cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Notifier{
		client:  slack.New(cfg.Token),
		channel: cfg.Channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// OrchestrationCompleted announces a successful run with its quality grade.
func (n *Notifier) OrchestrationCompleted(ctx context.Context, orchestrationID string, score int, grade string) {
	n.post(ctx, fmt.Sprintf(":white_check_mark: Orchestration %s completed (quality %d/100, grade %s)",
		orchestrationID, score, grade))
}

// OrchestrationFailed announces a terminal failure.
func (n *Notifier) OrchestrationFailed(ctx context.Context, orchestrationID, code, message string) {
	n.post(ctx, fmt.Sprintf(":x: Orchestration %s failed [%s]: %s", orchestrationID, code, message))
}

// AgentTimedOut announces a reaped agent.
func (n *Notifier) AgentTimedOut(ctx context.Context, agentID string, iterations int) {
	n.post(ctx, fmt.Sprintf(":hourglass: Agent %s timed out after %d iterations and was stopped",
		agentID, iterations))
}

// post sends one message, logging failures instead of returning them.
// Notification delivery must never affect orchestration outcomes.
func (n *Notifier) post(ctx context.Context, text string) {
	if n == nil {
		return
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Warn("Failed to post Slack notification", "error", err)
	}
}
