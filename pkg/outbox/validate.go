package outbox

import (
	"errors"
	"fmt"

	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/models"
)

// Payload bounds enforced before any external call is made. Oversized or
// malformed payloads fail fast and terminally.
const (
	maxPromptLen = 100_000
	maxRefLen    = 255
	minAPIKeyLen = 10
)

// terminalError wraps failures that no amount of retrying can fix.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal marks err as non-retryable.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err (or anything it wraps) is non-retryable.
// Validation failures are always terminal; transport and rate-limit errors
// from the external API never are.
func IsTerminal(err error) bool {
	var te *terminalError
	if errors.As(err, &te) {
		return true
	}
	var ae *cursor.APIError
	if errors.As(err, &ae) {
		return !cursor.Retryable(err)
	}
	return false
}

// ValidateStartPayload checks and normalizes a start-orchestration payload in
// place. Ref defaults to "main" when unset.
func ValidateStartPayload(p *models.StartOrchestrationPayload) error {
	if p.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if len(p.Prompt) > maxPromptLen {
		return fmt.Errorf("prompt exceeds %d characters", maxPromptLen)
	}

	if p.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	p.Repository = cursor.NormalizeRepository(p.Repository)

	if p.Ref == "" {
		p.Ref = "main"
	}
	if len(p.Ref) > maxRefLen {
		return fmt.Errorf("ref exceeds %d characters", maxRefLen)
	}

	if len(p.APIKey) < minAPIKeyLen {
		return fmt.Errorf("api key is missing or too short")
	}

	if p.Options.Mode != "" && !p.Options.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", p.Options.Mode)
	}
	return nil
}
