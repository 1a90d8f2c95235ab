// Package analyzer is the decision engine: given a conversation transcript
// and the recorded agent state, it produces one of four actions (CONTINUE,
// TEST, FIX, COMPLETE) with a follow-up message. The LLM path degrades to a
// deterministic rule-based policy whenever the model is unreachable or its
// output cannot be parsed: the loop drives external resource usage and must
// keep advancing slowly rather than stall or thrash.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/models"
)

// Action is the analyzer's decision.
type Action string

// Decisions.
const (
	ActionContinue Action = "CONTINUE"
	ActionTest     Action = "TEST"
	ActionFix      Action = "FIX"
	ActionComplete Action = "COMPLETE"
)

// Valid reports whether a is in the allowed set.
func (a Action) Valid() bool {
	switch a {
	case ActionContinue, ActionTest, ActionFix, ActionComplete:
		return true
	}
	return false
}

// Analysis is the structured decision returned to the orchestrator.
type Analysis struct {
	Action          Action   `json:"action"`
	Reasoning       string   `json:"reasoning"`
	FollowupMessage string   `json:"followup_message,omitempty"`
	Confidence      float64  `json:"confidence"`
	TasksCompleted  []string `json:"tasks_completed,omitempty"`
	TasksRemaining  []string `json:"tasks_remaining,omitempty"`
	RuleBased       bool     `json:"-"` // true when the fallback produced this
}

// DefaultFollowup is sent when the LLM picks CONTINUE without a message.
const DefaultFollowup = "Continue working on the task. Complete any remaining items and make sure everything works."

// testIterationThreshold: the fallback switches to TEST after this many
// iterations without a decision from the model.
const testIterationThreshold = 5

// JSONCompleter is the LLM surface the analyzer needs.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// Analyzer builds prompts, queries the LLM, and parses decisions.
type Analyzer struct {
	llm    JSONCompleter
	logger *slog.Logger
}

// New creates an Analyzer. llm may be nil; every analysis then uses the
// rule-based policy.
func New(llm JSONCompleter) *Analyzer {
	return &Analyzer{
		llm:    llm,
		logger: slog.Default().With("component", "analyzer"),
	}
}

// Analyze produces a decision for the given transcript and state.
func (a *Analyzer) Analyze(ctx context.Context, conversation []cursor.Message, agent *cursor.Agent, state *models.AgentState) *Analysis {
	if a.llm == nil {
		return a.fallback(conversation, state, "llm not configured")
	}

	prompt := buildPrompt(conversation, agent, state)
	raw, err := a.llm.CompleteJSON(ctx, systemPrompt, prompt)
	if err != nil {
		return a.fallback(conversation, state, fmt.Sprintf("llm call failed: %v", err))
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		return a.fallback(conversation, state, fmt.Sprintf("unparseable llm output: %v", err))
	}
	return analysis
}

const systemPrompt = `You are the progress analyzer of an autonomous coding orchestrator.
Given an agent conversation and task state, decide the next action.
Respond with a single JSON object:
{
  "action": "CONTINUE" | "TEST" | "FIX" | "COMPLETE",
  "reasoning": "why",
  "followup_message": "message to send the agent (for CONTINUE and FIX)",
  "confidence": 0.0-1.0,
  "tasks_completed": ["task ids now complete"],
  "tasks_remaining": ["task ids still open"]
}`

func buildPrompt(conversation []cursor.Message, agent *cursor.Agent, state *models.AgentState) string {
	var b strings.Builder

	b.WriteString("Task: ")
	b.WriteString(state.TaskDescription)
	b.WriteString("\n")

	if agent != nil && agent.Target != nil {
		if agent.Target.BranchName != "" {
			fmt.Fprintf(&b, "Branch: %s\n", agent.Target.BranchName)
		}
		if agent.Target.PrURL != "" {
			fmt.Fprintf(&b, "PR: %s\n", agent.Target.PrURL)
		}
	}
	if agent != nil && agent.Summary != "" {
		fmt.Fprintf(&b, "Agent summary: %s\n", agent.Summary)
	}

	fmt.Fprintf(&b, "Iteration: %d\n", state.Iterations)
	fmt.Fprintf(&b, "Tasks completed: %s\n", strings.Join(state.TasksCompleted, ", "))
	fmt.Fprintf(&b, "Tasks remaining: %s\n", strings.Join(state.TasksRemaining, ", "))

	b.WriteString("\nConversation:\n")
	for _, msg := range conversation {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Type, msg.Text)
	}

	return b.String()
}

// parseAnalysis extracts the outermost JSON object from the completion and
// decodes it, repairing almost-JSON when necessary.
func parseAnalysis(raw string) (*Analysis, error) {
	obj := extractJSONObject(raw)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object found in output")
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(obj), &analysis); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(obj)
		if repairErr != nil {
			return nil, fmt.Errorf("invalid JSON (repair failed: %v): %w", repairErr, err)
		}
		if err := json.Unmarshal([]byte(repaired), &analysis); err != nil {
			return nil, fmt.Errorf("invalid JSON after repair: %w", err)
		}
	}

	if !analysis.Action.Valid() {
		return nil, fmt.Errorf("action %q not in allowed set", analysis.Action)
	}

	// Normalize to safe defaults.
	if analysis.Confidence < 0 {
		analysis.Confidence = 0
	}
	if analysis.Confidence > 1 {
		analysis.Confidence = 1
	}
	if analysis.Action == ActionContinue && analysis.FollowupMessage == "" {
		analysis.FollowupMessage = DefaultFollowup
	}
	return &analysis, nil
}

// extractJSONObject returns the outermost {...} block of s, or "".
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// fallback is the deterministic policy used when the LLM path fails.
func (a *Analyzer) fallback(conversation []cursor.Message, state *models.AgentState, reason string) *Analysis {
	a.logger.Warn("Using rule-based fallback", "agent_id", state.AgentID, "reason", reason)

	last := lastAssistantText(conversation)
	lower := strings.ToLower(last)

	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return &Analysis{
			Action:          ActionFix,
			Reasoning:       "rule-based: last message reports an error",
			FollowupMessage: "The previous step reported errors. Identify and fix them, then verify the fix.",
			Confidence:      0.6,
			TasksCompleted:  state.TasksCompleted,
			TasksRemaining:  state.TasksRemaining,
			RuleBased:       true,
		}
	case state.Iterations >= testIterationThreshold:
		return &Analysis{
			Action:         ActionTest,
			Reasoning:      "rule-based: enough iterations elapsed, verify with tests",
			Confidence:     0.7,
			TasksCompleted: state.TasksCompleted,
			TasksRemaining: state.TasksRemaining,
			RuleBased:      true,
		}
	default:
		return &Analysis{
			Action:          ActionContinue,
			Reasoning:       "rule-based: no signal, keep working",
			FollowupMessage: DefaultFollowup,
			Confidence:      0.5,
			TasksCompleted:  state.TasksCompleted,
			TasksRemaining:  state.TasksRemaining,
			RuleBased:       true,
		}
	}
}

func lastAssistantText(conversation []cursor.Message) string {
	for i := len(conversation) - 1; i >= 0; i-- {
		t := strings.ToLower(conversation[i].Type)
		if t == "assistant" || t == "assistant_message" {
			return conversation[i].Text
		}
	}
	if len(conversation) > 0 {
		return conversation[len(conversation)-1].Text
	}
	return ""
}
