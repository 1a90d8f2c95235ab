package models

import (
	"time"
)

// AgentStatus is the coordination status of a tracked agent (master or
// single).
type AgentStatus string

// Agent statuses.
const (
	AgentActive               AgentStatus = "ACTIVE"
	AgentCompleted            AgentStatus = "COMPLETED"
	AgentError                AgentStatus = "ERROR"
	AgentMaxIterationsReached AgentStatus = "MAX_ITERATIONS_REACHED"
	AgentTimeout              AgentStatus = "TIMEOUT"
)

// IsTerminal reports whether the agent status ends the loop.
func (s AgentStatus) IsTerminal() bool {
	return s != AgentActive
}

// LastAnalysis is the recorded context of the most recent reducer step,
// persisted as jsonb on the agent state row. It carries the frozen plan and
// the active subagent assignments so a restarted worker can rebuild its
// in-memory registry.
type LastAnalysis struct {
	Plan            *TaskPlan         `json:"plan,omitempty"`
	Mode            Mode              `json:"mode"`
	Options         Options           `json:"options"`
	OrchestrationID string            `json:"orchestration_id,omitempty"`
	Subagents       map[string]string `json:"subagents,omitempty"` // agent_id -> task_id
	Action          string            `json:"action,omitempty"`
	Reasoning       string            `json:"reasoning,omitempty"`
	Confidence      float64           `json:"confidence,omitempty"`
	QualityScore    int               `json:"quality_score,omitempty"`
	QualityGrade    string            `json:"quality_grade,omitempty"`
	NeedsRefinement bool              `json:"needsRefinement,omitempty"`
	TestsPassed     int               `json:"tests_passed,omitempty"`
	TestsTotal      int               `json:"tests_total,omitempty"`
	ErrorsFixed     int               `json:"errors_fixed,omitempty"`
	ErrorsTotal     int               `json:"errors_total,omitempty"`
	AnalyzedAt      time.Time         `json:"analyzed_at,omitempty"`
}

// AgentState is the per-agent coordination record keyed by the external
// agent id.
type AgentState struct {
	ID              string        `json:"id"`
	AgentID         string        `json:"agent_id"`
	TaskDescription string        `json:"task_description"`
	Repository      string        `json:"repository"`
	BranchName      *string       `json:"branch_name,omitempty"`
	Iterations      int           `json:"iterations"`
	Status          AgentStatus   `json:"status"`
	TasksCompleted  []string      `json:"tasks_completed"`
	TasksRemaining  []string      `json:"tasks_remaining"`
	LastAnalysis    *LastAnalysis `json:"last_analysis,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ActiveSubagent is the in-memory record of a dispatched subtask. The
// authoritative completed-task list lives in the database; this set is
// rebuilt from LastAnalysis.Subagents on restart.
type ActiveSubagent struct {
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	StartedAt time.Time `json:"started_at"`
}
