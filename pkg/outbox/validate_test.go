package outbox

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/models"
)

func validPayload() *models.StartOrchestrationPayload {
	return &models.StartOrchestrationPayload{
		Version:    1,
		Prompt:     "build the api",
		Repository: "owner/repo",
		APIKey:     "key_1234567890",
	}
}

func TestValidateStartPayload(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.StartOrchestrationPayload)
		wantErr string
	}{
		{"valid", func(p *models.StartOrchestrationPayload) {}, ""},
		{"empty prompt", func(p *models.StartOrchestrationPayload) { p.Prompt = "" }, "prompt is required"},
		{"prompt too long", func(p *models.StartOrchestrationPayload) {
			p.Prompt = strings.Repeat("x", maxPromptLen+1)
		}, "exceeds"},
		{"empty repository", func(p *models.StartOrchestrationPayload) { p.Repository = "" }, "repository is required"},
		{"ref too long", func(p *models.StartOrchestrationPayload) {
			p.Ref = strings.Repeat("r", maxRefLen+1)
		}, "ref exceeds"},
		{"api key too short", func(p *models.StartOrchestrationPayload) { p.APIKey = "short" }, "api key"},
		{"invalid mode", func(p *models.StartOrchestrationPayload) {
			p.Options.Mode = "TURBO"
		}, "invalid mode"},
		{"valid mode", func(p *models.StartOrchestrationPayload) {
			p.Options.Mode = models.ModePipeline
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)
			err := ValidateStartPayload(p)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateStartPayloadNormalizes(t *testing.T) {
	p := validPayload()
	require.NoError(t, ValidateStartPayload(p))
	assert.Equal(t, "https://github.com/owner/repo", p.Repository)
	assert.Equal(t, "main", p.Ref, "ref defaults to main")
}

func TestTerminalClassification(t *testing.T) {
	assert.Nil(t, Terminal(nil))

	plain := errors.New("something broke")
	assert.False(t, IsTerminal(plain))
	assert.True(t, IsTerminal(Terminal(plain)))
	assert.True(t, IsTerminal(fmt.Errorf("wrapped: %w", Terminal(plain))))

	apiErr := &cursor.APIError{Code: cursor.CodeRateLimit, StatusCode: 429, Op: "create agent"}
	assert.False(t, IsTerminal(apiErr), "rate limits are retried")
	assert.False(t, IsTerminal(&cursor.APIError{Code: cursor.CodeNetworkError, Op: "get agent"}))
}

func TestFailureCode(t *testing.T) {
	assert.Equal(t, "RATE_LIMIT", failureCode(&cursor.APIError{Code: cursor.CodeRateLimit}))
	assert.Equal(t, "VALIDATION_ERROR", failureCode(Terminal(errors.New("bad payload"))))
	assert.Equal(t, "UNKNOWN_ERROR", failureCode(errors.New("mystery")))
}

func TestSummarizeTruncates(t *testing.T) {
	long := errors.New(strings.Repeat("e", 500))
	assert.Len(t, summarize(long), 200)
	assert.Equal(t, "short", summarize(errors.New("short")))
}

func TestFailureSummary(t *testing.T) {
	assert.Equal(t, "Job failed after 3 attempts: boom",
		failureSummary(3, errors.New("boom")))
}
