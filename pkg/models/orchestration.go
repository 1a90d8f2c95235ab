// Package models defines the shared domain types persisted by the store and
// exchanged between the gateway, outbox, and orchestrator.
package models

import (
	"time"
)

// OrchestrationStatus represents the lifecycle state of an orchestration.
type OrchestrationStatus string

// Orchestration statuses.
const (
	OrchestrationQueued    OrchestrationStatus = "queued"
	OrchestrationRunning   OrchestrationStatus = "running"
	OrchestrationCompleted OrchestrationStatus = "completed"
	OrchestrationError     OrchestrationStatus = "error"
	OrchestrationTimeout   OrchestrationStatus = "timeout"
	OrchestrationStopped   OrchestrationStatus = "stopped"
)

// IsTerminal reports whether the status is sticky (no further transitions
// except the explicit fix-and-retry path for error).
func (s OrchestrationStatus) IsTerminal() bool {
	switch s {
	case OrchestrationCompleted, OrchestrationError, OrchestrationTimeout, OrchestrationStopped:
		return true
	}
	return false
}

// Mode selects the dispatch strategy for an orchestration.
type Mode string

// Dispatch modes.
const (
	ModeSingleAgent Mode = "SINGLE_AGENT"
	ModePipeline    Mode = "PIPELINE"
	ModeBatch       Mode = "BATCH"
	ModeAuto        Mode = "AUTO"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingleAgent, ModePipeline, ModeBatch, ModeAuto:
		return true
	}
	return false
}

// Options are per-orchestration settings stored on the orchestration row and
// frozen into the agent state at start.
type Options struct {
	Mode              Mode   `json:"mode,omitempty"`
	MaxParallelAgents int    `json:"maxParallelAgents,omitempty"`
	EnableAutoFix     bool   `json:"enableAutoFix,omitempty"`
	EnableTesting     bool   `json:"enableTesting,omitempty"`
	EnableValidation  bool   `json:"enableValidation,omitempty"`
	Priority          string `json:"priority,omitempty"` // speed, quality, balanced
	TaskSize          string `json:"taskSize,omitempty"`  // small, medium, large, auto
}

// Orchestration is the top-level unit of work initiated by a user prompt.
type Orchestration struct {
	ID            string              `json:"id"`
	MasterAgentID *string             `json:"master_agent_id,omitempty"`
	RepositoryURL string              `json:"repository_url"`
	Prompt        string              `json:"prompt"`
	PromptLength  int                 `json:"prompt_length"`
	Ref           string              `json:"ref"`
	Model         *string             `json:"model,omitempty"` // nil = auto
	Mode          Mode                `json:"mode"`
	Status        OrchestrationStatus `json:"status"`
	TasksTotal    int                 `json:"tasks_total"`
	TasksComplete int                 `json:"tasks_completed"`
	ActiveAgents  int                 `json:"active_agents"`
	Metadata      map[string]any      `json:"metadata,omitempty"` // holds the frozen task plan
	Options       Options             `json:"options"`
	ErrorCode     *string             `json:"error_code,omitempty"`
	ErrorMessage  *string             `json:"error_message,omitempty"`
	ErrorSummary  *string             `json:"error_summary,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
