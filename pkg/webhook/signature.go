// Package webhook verifies and parses status-change callbacks from the
// Cloud Agent service.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

// Signature header names used by the Cloud Agent service.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-ID"
	HeaderEvent     = "X-Webhook-Event"
)

// ErrBadSignature is returned when the supplied signature does not match the
// HMAC of the raw body, or is missing while a secret is configured.
var ErrBadSignature = errors.New("webhook signature verification failed")

// VerifySignature checks the HMAC-SHA256 of body against the supplied
// signature using constant-time comparison. An empty secret skips
// verification (permitted for first-run deployments; the gateway logs a
// warning). The "sha256=" prefix is stripped if present.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	if signature == "" {
		return ErrBadSignature
	}

	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the signature header value for a body (used by tests and by
// the outbound webhook registration).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseStatusChange decodes the webhook body. Unknown event kinds are not an
// error; the caller logs and acknowledges them.
func ParseStatusChange(body []byte) (*models.StatusChangeEvent, error) {
	var event models.StatusChangeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("invalid status-change body: %w", err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("status-change body missing agent id")
	}
	return &event, nil
}
