package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/models"
)

// stubLLM returns a canned completion or error.
type stubLLM struct {
	out string
	err error
}

func (s *stubLLM) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return s.out, s.err
}

func activeState(iterations int) *models.AgentState {
	return &models.AgentState{
		AgentID:         "agent-1",
		TaskDescription: "build the thing",
		Status:          models.AgentActive,
		Iterations:      iterations,
	}
}

func TestParseAnalysisValid(t *testing.T) {
	a, err := parseAnalysis(`Some preamble {"action":"COMPLETE","reasoning":"done","confidence":0.9} trailing`)
	require.NoError(t, err)
	assert.Equal(t, ActionComplete, a.Action)
	assert.Equal(t, 0.9, a.Confidence)
}

func TestParseAnalysisRepairsAlmostJSON(t *testing.T) {
	// Trailing comma is invalid JSON but repairable.
	a, err := parseAnalysis(`{"action":"CONTINUE","reasoning":"more to do",}`)
	require.NoError(t, err)
	assert.Equal(t, ActionContinue, a.Action)
	assert.Equal(t, DefaultFollowup, a.FollowupMessage)
}

func TestParseAnalysisClampsConfidence(t *testing.T) {
	a, err := parseAnalysis(`{"action":"FIX","confidence":3.5}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Confidence)

	a, err = parseAnalysis(`{"action":"FIX","confidence":-1}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Confidence)
}

func TestParseAnalysisRejectsUnknownAction(t *testing.T) {
	_, err := parseAnalysis(`{"action":"PONDER"}`)
	assert.Error(t, err)
}

func TestParseAnalysisRejectsNonJSON(t *testing.T) {
	_, err := parseAnalysis(`no json here`)
	assert.Error(t, err)
}

func TestAnalyzeFallsBackOnLLMError(t *testing.T) {
	a := New(&stubLLM{err: errors.New("connection refused")})
	analysis := a.Analyze(context.Background(), nil, nil, activeState(1))
	assert.True(t, analysis.RuleBased)
	assert.Equal(t, ActionContinue, analysis.Action)
	assert.Equal(t, 0.5, analysis.Confidence)
}

func TestAnalyzeFallsBackOnUnparseableOutput(t *testing.T) {
	a := New(&stubLLM{out: "I think the agent is doing great"})
	analysis := a.Analyze(context.Background(), nil, nil, activeState(1))
	assert.True(t, analysis.RuleBased)
}

func TestFallbackRules(t *testing.T) {
	a := New(nil)

	tests := []struct {
		name         string
		conversation []cursor.Message
		iterations   int
		wantAction   Action
		wantConf     float64
	}{
		{
			name: "last assistant message reports an error",
			conversation: []cursor.Message{
				{Type: "user_message", Text: "do it"},
				{Type: "assistant", Text: "The build failed with 3 errors"},
			},
			iterations: 1,
			wantAction: ActionFix,
			wantConf:   0.6,
		},
		{
			name:       "iteration threshold reached",
			iterations: 5,
			wantAction: ActionTest,
			wantConf:   0.7,
		},
		{
			name: "no signal keeps working",
			conversation: []cursor.Message{
				{Type: "assistant", Text: "Making progress on the parser"},
			},
			iterations: 2,
			wantAction: ActionContinue,
			wantConf:   0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis := a.Analyze(context.Background(), tt.conversation, nil, activeState(tt.iterations))
			assert.True(t, analysis.RuleBased)
			assert.Equal(t, tt.wantAction, analysis.Action)
			assert.Equal(t, tt.wantConf, analysis.Confidence)
		})
	}
}

func TestAnalyzeUsesLLMDecision(t *testing.T) {
	a := New(&stubLLM{out: `{"action":"TEST","reasoning":"looks done","confidence":0.8}`})
	analysis := a.Analyze(context.Background(), nil, nil, activeState(3))
	assert.False(t, analysis.RuleBased)
	assert.Equal(t, ActionTest, analysis.Action)
}

func TestBuildPromptIncludesContext(t *testing.T) {
	state := activeState(4)
	state.TasksCompleted = []string{"task-1"}
	state.TasksRemaining = []string{"task-2"}
	agent := &cursor.Agent{
		ID:      "agent-1",
		Summary: "implemented the parser",
		Target:  &cursor.AgentTarget{BranchName: "feature/x", PrURL: "https://github.com/o/r/pull/1"},
	}
	conversation := []cursor.Message{{Type: "assistant", Text: "done with step one"}}

	prompt := buildPrompt(conversation, agent, state)
	assert.Contains(t, prompt, "build the thing")
	assert.Contains(t, prompt, "feature/x")
	assert.Contains(t, prompt, "https://github.com/o/r/pull/1")
	assert.Contains(t, prompt, "implemented the parser")
	assert.Contains(t, prompt, "Iteration: 4")
	assert.Contains(t, prompt, "task-1")
	assert.Contains(t, prompt, "task-2")
	assert.Contains(t, prompt, "[assistant] done with step one")
}

func TestLastAssistantText(t *testing.T) {
	conv := []cursor.Message{
		{Type: "assistant", Text: "first"},
		{Type: "user_message", Text: "go on"},
		{Type: "assistant_message", Text: "second"},
		{Type: "tool_call", Text: "ran tests"},
	}
	assert.Equal(t, "second", lastAssistantText(conv))
	assert.Equal(t, "", lastAssistantText(nil))
}
