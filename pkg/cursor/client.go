// Package cursor is the typed client for the Cursor Cloud Agent API. It is
// a parameterized facade: the api key travels with every call so per-job
// credentials never touch process-global state.
package cursor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the production Cloud Agent API endpoint.
const DefaultBaseURL = "https://api.cursor.com/v0"

// Client calls the Cloud Agent service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint (used by tests).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Cloud Agent API client with a 60 second per-call
// timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Agent is the remote agent record returned by the service.
type Agent struct {
	ID      string       `json:"id"`
	Status  string       `json:"status,omitempty"`
	Target  *AgentTarget `json:"target,omitempty"`
	Summary string       `json:"summary,omitempty"`
}

// AgentTarget carries the agent's output branch and PR.
type AgentTarget struct {
	BranchName string `json:"branchName,omitempty"`
	PrURL      string `json:"prUrl,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Message is one entry of an agent conversation. Conversations are opaque
// ordered sequences of typed text messages.
type Message struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Repository is one entry of the accessible-repositories list.
type Repository struct {
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	Repository string `json:"repository"`
}

// Me describes the authenticated api key.
type Me struct {
	APIKeyName string `json:"apiKeyName,omitempty"`
	UserEmail  string `json:"userEmail,omitempty"`
}

// CreateAgentRequest is the input for CreateAgent. A nil Model omits the
// model field entirely so the service chooses (Auto mode).
type CreateAgentRequest struct {
	Prompt        string
	Repository    string
	Ref           string
	Model         *string
	AutoCreatePR  bool
	WebhookURL    string
	WebhookSecret string
}

type createAgentBody struct {
	Prompt  promptBody   `json:"prompt"`
	Source  sourceBody   `json:"source"`
	Target  *targetBody  `json:"target,omitempty"`
	Model   *string      `json:"model,omitempty"`
	Webhook *webhookBody `json:"webhook,omitempty"`
}

type promptBody struct {
	Text string `json:"text"`
}

type sourceBody struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref,omitempty"`
}

type targetBody struct {
	AutoCreatePr bool `json:"autoCreatePr"`
}

type webhookBody struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// CreateAgent launches a new remote agent and returns its id.
func (c *Client) CreateAgent(ctx context.Context, apiKey string, req CreateAgentRequest) (*Agent, error) {
	body := createAgentBody{
		Prompt: promptBody{Text: req.Prompt},
		Source: sourceBody{Repository: req.Repository, Ref: req.Ref},
		Model:  req.Model,
	}
	if req.AutoCreatePR {
		body.Target = &targetBody{AutoCreatePr: true}
	}
	if req.WebhookURL != "" {
		body.Webhook = &webhookBody{URL: req.WebhookURL, Secret: req.WebhookSecret}
	}

	var agent Agent
	if err := c.do(ctx, apiKey, http.MethodPost, "/agents", body, &agent, "create agent"); err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetAgent fetches the current status of an agent.
func (c *Client) GetAgent(ctx context.Context, apiKey, agentID string) (*Agent, error) {
	var agent Agent
	if err := c.do(ctx, apiKey, http.MethodGet, "/agents/"+agentID, nil, &agent, "get agent"); err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetConversation fetches the full message transcript of an agent.
func (c *Client) GetConversation(ctx context.Context, apiKey, agentID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.do(ctx, apiKey, http.MethodGet, "/agents/"+agentID+"/conversation", nil, &resp, "get conversation"); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendFollowup posts a follow-up prompt to a running agent.
func (c *Client) SendFollowup(ctx context.Context, apiKey, agentID, text string) error {
	body := map[string]any{"prompt": map[string]string{"text": text}}
	return c.do(ctx, apiKey, http.MethodPost, "/agents/"+agentID+"/followup", body, nil, "send followup")
}

// StopAgent asks the service to stop a running agent.
func (c *Client) StopAgent(ctx context.Context, apiKey, agentID string) error {
	return c.do(ctx, apiKey, http.MethodPost, "/agents/"+agentID+"/stop", nil, nil, "stop agent")
}

// DeleteAgent removes an agent record.
func (c *Client) DeleteAgent(ctx context.Context, apiKey, agentID string) error {
	return c.do(ctx, apiKey, http.MethodDelete, "/agents/"+agentID, nil, nil, "delete agent")
}

// ListModels returns the model names currently offered by the service.
func (c *Client) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	var resp struct {
		Models []string `json:"models"`
	}
	if err := c.do(ctx, apiKey, http.MethodGet, "/models", nil, &resp, "list models"); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// ListRepositories returns the repositories the api key can reach.
func (c *Client) ListRepositories(ctx context.Context, apiKey string) ([]Repository, error) {
	var resp struct {
		Repositories []Repository `json:"repositories"`
	}
	if err := c.do(ctx, apiKey, http.MethodGet, "/repositories", nil, &resp, "list repositories"); err != nil {
		return nil, err
	}
	return resp.Repositories, nil
}

// GetMe returns metadata about the authenticated api key.
func (c *Client) GetMe(ctx context.Context, apiKey string) (*Me, error) {
	var me Me
	if err := c.do(ctx, apiKey, http.MethodGet, "/me", nil, &me, "get me"); err != nil {
		return nil, err
	}
	return &me, nil
}

// do performs one authenticated round trip and classifies the outcome.
func (c *Client) do(ctx context.Context, apiKey, method, path string, body, out any, op string) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Basic "+basicAuth(apiKey))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(op, resp.StatusCode, string(raw))
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", op, err)
		}
	}
	return nil
}

// basicAuth encodes "<key>:" per the service's Basic auth convention.
func basicAuth(apiKey string) string {
	return base64.StdEncoding.EncodeToString([]byte(apiKey + ":"))
}
