package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxJobStatus represents the lifecycle state of a durable outbox job.
type OutboxJobStatus string

// Outbox job statuses.
const (
	OutboxPending    OutboxJobStatus = "pending"
	OutboxProcessing OutboxJobStatus = "processing"
	OutboxCompleted  OutboxJobStatus = "completed"
	OutboxFailed     OutboxJobStatus = "failed"
)

// Outbox job types. Each type has exactly one payload schema; unknown types
// route to the dead-letter path instead of raising.
const (
	JobTypeStartOrchestration = "start-orchestration"
	JobTypeProcessWebhook     = "process-webhook"
)

// OutboxJob is a durable instruction claimed and executed by the processor.
type OutboxJob struct {
	ID              string          `json:"id"`
	OrchestrationID string          `json:"orchestration_id"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload"`
	Status          OutboxJobStatus `json:"status"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	NextRunAt       time.Time       `json:"next_run_at"`
	LastError       *string         `json:"last_error,omitempty"`
	WorkerID        *string         `json:"worker_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// StartOrchestrationPayload is the versioned payload for start-orchestration
// jobs. Version 1 is the only schema; zero means version 1 for rows written
// before the version field existed.
type StartOrchestrationPayload struct {
	Version    int     `json:"version"`
	Prompt     string  `json:"prompt"`
	Repository string  `json:"repository"`
	Ref        string  `json:"ref"`
	Model      *string `json:"model,omitempty"`
	APIKey     string  `json:"api_key"`
	Options    Options `json:"options"`
}

// ProcessWebhookPayload is the versioned payload for process-webhook jobs.
type ProcessWebhookPayload struct {
	Version int               `json:"version"`
	Event   StatusChangeEvent `json:"event"`
}

// DecodeStartOrchestration parses and version-checks a start-orchestration
// payload. An unrecognized version is an error, not a guess.
func DecodeStartOrchestration(raw json.RawMessage) (*StartOrchestrationPayload, error) {
	var p StartOrchestrationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid start-orchestration payload: %w", err)
	}
	if p.Version != 0 && p.Version != 1 {
		return nil, fmt.Errorf("unsupported start-orchestration payload version %d", p.Version)
	}
	return &p, nil
}

// DecodeProcessWebhook parses and version-checks a process-webhook payload.
func DecodeProcessWebhook(raw json.RawMessage) (*ProcessWebhookPayload, error) {
	var p ProcessWebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid process-webhook payload: %w", err)
	}
	if p.Version != 0 && p.Version != 1 {
		return nil, fmt.Errorf("unsupported process-webhook payload version %d", p.Version)
	}
	return &p, nil
}
