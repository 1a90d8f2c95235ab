package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/conductor/pkg/models"
	"github.com/codeready-toolchain/conductor/pkg/webhook"
)

// directInvokeTimeout bounds the fallback processing path when the broker is
// absent. The handler never waits on it; processing runs in a goroutine.
const directInvokeTimeout = 5 * time.Minute

// receipt is the always-200 webhook acknowledgement body.
type receipt struct {
	Event        string `json:"event"`
	WebhookEvent string `json:"webhookEvent,omitempty"`
	AgentID      string `json:"agentId,omitempty"`
	Status       string `json:"status,omitempty"`
	Processed    bool   `json:"processed"`
}

// handleWebhook is the gateway: verify, parse, enqueue (or fall back to
// direct invocation), acknowledge. Only a bad signature produces a non-2xx.
func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errorBody(c, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := c.GetHeader(webhook.HeaderSignature)
	if err := webhook.VerifySignature(s.cfg.WebhookSecret, body, signature); err != nil {
		s.logger.Warn("Webhook signature rejected",
			"webhook_id", c.GetHeader(webhook.HeaderID), "error", err)
		errorBody(c, http.StatusUnauthorized, "invalid signature")
		return
	}
	if s.cfg.WebhookSecret == "" {
		s.logger.Warn("Accepting unsigned webhook: no secret configured")
	}

	webhookEvent := c.GetHeader(webhook.HeaderEvent)
	event, err := webhook.ParseStatusChange(body)
	if err != nil {
		s.logger.Warn("Unparseable webhook body accepted",
			"webhook_id", c.GetHeader(webhook.HeaderID), "error", err)
		c.JSON(http.StatusOK, gin.H{"ok": true, "received": receipt{
			WebhookEvent: webhookEvent,
			Processed:    false,
		}})
		return
	}

	processed := false
	if event.Actionable() {
		processed = s.deliver(c.Request.Context(), event)
	} else {
		s.logger.Info("Non-actionable webhook logged",
			"agent_id", event.ID, "status", event.Status)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "received": receipt{
		Event:        event.Event,
		WebhookEvent: webhookEvent,
		AgentID:      event.ID,
		Status:       event.Status,
		Processed:    processed,
	}})
}

// deliver hands the event to the broker, falling back to direct asynchronous
// invocation when the broker is absent or the enqueue fails. A delivery
// failure never surfaces to the caller; the external service redelivers on
// its own schedule.
func (s *Server) deliver(ctx context.Context, event *models.StatusChangeEvent) bool {
	if s.broker != nil {
		payload := models.ProcessWebhookPayload{Version: 1, Event: *event}
		if err := s.broker.Enqueue(ctx, models.JobTypeProcessWebhook, "", payload); err == nil {
			return true
		} else {
			s.logger.Warn("Broker enqueue failed, falling back to direct invocation",
				"agent_id", event.ID, "error", err)
		}
	}

	go func(event models.StatusChangeEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), directInvokeTimeout)
		defer cancel()
		if err := s.orch.ExecuteStatusChange(ctx, &event); err != nil {
			s.logger.Error("Direct webhook processing failed",
				"agent_id", event.ID, "error", err)
		}
	}(*event)
	return true
}
