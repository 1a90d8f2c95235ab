// Package planner transforms a large prompt into a frozen task plan: an
// ordered DAG of subtasks with priorities and dependencies. Planning happens
// exactly once per orchestration; the plan is stored in the agent state and
// never recomputed.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

// JSONCompleter is the LLM surface the planner needs.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// Planner produces task plans.
type Planner struct {
	llm    JSONCompleter
	logger *slog.Logger
}

// New creates a Planner. llm may be nil; every plan is then the single-task
// fallback.
func New(llm JSONCompleter) *Planner {
	return &Planner{
		llm:    llm,
		logger: slog.Default().With("component", "planner"),
	}
}

// taskCountHint maps the taskSize option to a target range for the model.
func taskCountHint(taskSize string) string {
	switch taskSize {
	case "small":
		return "Produce 5-10 small, narrowly scoped tasks."
	case "medium":
		return "Produce 3-6 medium-sized tasks."
	case "large":
		return "Produce 2-4 large tasks."
	default:
		return "Choose a task breakdown that fits the work, typically 3-8 tasks."
	}
}

const planSystemPrompt = `You are the planning stage of an autonomous coding orchestrator.
Decompose the project description into an ordered list of implementation tasks.
Respond with a single JSON object:
{
  "project_description": "one-line restatement",
  "tasks": [
    {
      "id": "task-1",
      "title": "short title",
      "description": "what to implement, specific enough to hand to a coding agent",
      "priority": "high" | "medium" | "low",
      "estimated_complexity": "low" | "medium" | "high",
      "dependencies": ["ids of tasks that must finish first"]
    }
  ]
}
Dependencies must form a DAG and reference only listed task ids.`

// Plan decomposes the prompt into a validated task plan. On any LLM or
// validation failure it returns the deterministic single-task fallback.
func (p *Planner) Plan(ctx context.Context, prompt string, opts models.Options) *models.TaskPlan {
	if p.llm == nil {
		return p.fallbackPlan(prompt, "llm not configured")
	}

	user := fmt.Sprintf("%s\n\nProject description:\n%s", taskCountHint(opts.TaskSize), prompt)
	raw, err := p.llm.CompleteJSON(ctx, planSystemPrompt, user)
	if err != nil {
		return p.fallbackPlan(prompt, fmt.Sprintf("llm call failed: %v", err))
	}

	plan, err := parsePlan(raw)
	if err != nil {
		return p.fallbackPlan(prompt, fmt.Sprintf("invalid plan: %v", err))
	}
	return plan
}

func parsePlan(raw string) (*models.TaskPlan, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object found in output")
	}
	obj := raw[start : end+1]

	var plan models.TaskPlan
	if err := json.Unmarshal([]byte(obj), &plan); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(obj)
		if repairErr != nil {
			return nil, fmt.Errorf("invalid JSON (repair failed: %v): %w", repairErr, err)
		}
		if err := json.Unmarshal([]byte(repaired), &plan); err != nil {
			return nil, fmt.Errorf("invalid JSON after repair: %w", err)
		}
	}

	if len(plan.Tasks) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}
	for i := range plan.Tasks {
		if plan.Tasks[i].Priority == "" {
			plan.Tasks[i].Priority = models.PriorityMedium
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// fallbackPlan wraps the entire prompt in one task so the orchestration can
// proceed as if it were SINGLE_AGENT.
func (p *Planner) fallbackPlan(prompt, reason string) *models.TaskPlan {
	p.logger.Warn("Using single-task fallback plan", "reason", reason)
	return &models.TaskPlan{
		ProjectDescription: firstLine(prompt),
		Tasks: []models.Task{
			{
				ID:          "task-1",
				Title:       "Implement the requested work",
				Description: prompt,
				Priority:    models.PriorityHigh,
			},
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return strings.TrimSpace(s)
}
