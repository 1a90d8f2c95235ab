package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStartOrchestration(t *testing.T) {
	raw := json.RawMessage(`{"version":1,"prompt":"build it","repository":"github.com/org/repo","ref":"main","api_key":"key-1234567890"}`)
	p, err := DecodeStartOrchestration(raw)
	require.NoError(t, err)
	assert.Equal(t, "build it", p.Prompt)
	assert.Equal(t, "main", p.Ref)
}

func TestDecodeStartOrchestrationLegacyVersionZero(t *testing.T) {
	p, err := DecodeStartOrchestration(json.RawMessage(`{"prompt":"x","repository":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Version)
}

func TestDecodeStartOrchestrationRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeStartOrchestration(json.RawMessage(`{"version":2,"prompt":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version 2")
}

func TestDecodeStartOrchestrationRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeStartOrchestration(json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestDecodeProcessWebhook(t *testing.T) {
	raw := json.RawMessage(`{"version":1,"event":{"event":"statusChange","id":"agent-1","status":"FINISHED"}}`)
	p, err := DecodeProcessWebhook(raw)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", p.Event.ID)
	assert.True(t, p.Event.Actionable())
}

func TestDecodeProcessWebhookRejectsUnknownVersion(t *testing.T) {
	_, err := DecodeProcessWebhook(json.RawMessage(`{"version":9}`))
	assert.Error(t, err)
}

func TestStatusChangeEventActionable(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{RemoteStatusFinished, true},
		{RemoteStatusError, true},
		{RemoteStatusRunning, false},
		{RemoteStatusExpired, false},
		{"CREATING", false},
		{"", false},
	}
	for _, tt := range tests {
		e := &StatusChangeEvent{Status: tt.status}
		assert.Equal(t, tt.want, e.Actionable(), tt.status)
	}
}
