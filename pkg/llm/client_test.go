package llm

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conductor/pkg/config"
)

type fakeChat struct {
	lastReq openai.ChatCompletionRequest
	resp    openai.ChatCompletionResponse
	err     error
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = request
	return f.resp, f.err
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	assert.Nil(t, NewClient(nil))
	assert.Nil(t, NewClient(&config.LLMConfig{Model: "gpt-4o-mini"}))
	assert.NotNil(t, NewClient(&config.LLMConfig{APIKey: "sk-test", Model: "gpt-4o-mini"}))
}

func TestNilClientCompleteJSON(t *testing.T) {
	var c *Client
	_, err := c.CompleteJSON(context.Background(), "sys", "user")
	assert.Error(t, err)
}

func TestCompleteJSONRequestShape(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: `{"action":"CONTINUE"}`}},
		},
	}}
	c := NewClientWithChat(chat, "gpt-4o-mini", 0.1)

	out, err := c.CompleteJSON(context.Background(), "you are an analyzer", "analyze this")
	require.NoError(t, err)
	assert.Equal(t, `{"action":"CONTINUE"}`, out)

	assert.Equal(t, "gpt-4o-mini", chat.lastReq.Model)
	require.Len(t, chat.lastReq.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, chat.lastReq.Messages[0].Role)
	require.NotNil(t, chat.lastReq.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, chat.lastReq.ResponseFormat.Type)
}

func TestCompleteJSONErrors(t *testing.T) {
	c := NewClientWithChat(&fakeChat{err: errors.New("rate limited")}, "m", 0)
	_, err := c.CompleteJSON(context.Background(), "s", "u")
	assert.Error(t, err)

	c = NewClientWithChat(&fakeChat{}, "m", 0)
	_, err = c.CompleteJSON(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
