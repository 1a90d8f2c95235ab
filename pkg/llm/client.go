// Package llm wraps the chat-completion API used by the analyzer and the
// planner. A failed call is never fatal: callers fall back to deterministic
// behavior.
package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codeready-toolchain/conductor/pkg/config"
)

// ChatClient is the subset of the go-openai client used here, extracted for
// testing.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client requests JSON-object completions from a chat model.
type Client struct {
	chat        ChatClient
	model       string
	temperature float32
}

// NewClient builds a client from configuration. Returns nil when no api key
// is configured; callers treat a nil client as "LLM unreachable".
func NewClient(cfg *config.LLMConfig) *Client {
	if cfg == nil || cfg.APIKey == "" {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Client{
		chat:        openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}
}

// NewClientWithChat wires a pre-built chat client (used by tests).
func NewClientWithChat(chat ChatClient, model string, temperature float32) *Client {
	return &Client{chat: chat, model: model, temperature: temperature}
}

// CompleteJSON sends a system+user prompt and returns the raw completion
// content, requesting a JSON object response format.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	if c == nil {
		return "", errors.New("llm client not configured")
	}
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
