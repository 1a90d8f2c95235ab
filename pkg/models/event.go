package models

import (
	"encoding/json"
	"time"
)

// EventLevel is the severity of an orchestration event.
type EventLevel string

// Event levels.
const (
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
	EventDebug EventLevel = "debug"
)

// StepPhase marks the position of an event within a logical step.
type StepPhase string

// Step phases. Empty phase is allowed for point-in-time events.
const (
	PhaseStart    StepPhase = "start"
	PhaseProgress StepPhase = "progress"
	PhaseEnd      StepPhase = "end"
)

// Event is an append-only audit record attached to an orchestration.
// Events are never modified after creation.
type Event struct {
	ID              int64           `json:"id"`
	OrchestrationID string          `json:"orchestration_id"`
	Level           EventLevel      `json:"level"`
	StepKey         string          `json:"step_key"`
	StepPhase       StepPhase       `json:"step_phase,omitempty"`
	Message         string          `json:"message"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Well-known step keys written by the outbox processor and orchestrator.
const (
	StepWorkerReceived       = "worker_received"
	StepOrchestrationStarted = "orchestration_started"
	StepWorkerError          = "worker_error"
	StepTaskDispatched       = "task_dispatched"
	StepTaskCompleted        = "task_completed"
	StepAnalysis             = "analysis"
	StepDecision             = "decision"
	StepQualityGate          = "quality_gate"
	StepWebhookReceived      = "webhook_received"
	StepModelResolved        = "model_resolved"
	StepMasterCompleted      = "master_completed"
	StepRetryRequested       = "retry_requested"
	StepDeadLetter           = "dead_letter"
)
