package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conductor/pkg/analyzer"
	"github.com/codeready-toolchain/conductor/pkg/models"
)

func chainPlan() *models.TaskPlan {
	return &models.TaskPlan{
		ProjectDescription: "three dependent stages",
		Tasks: []models.Task{
			{ID: "t1", Title: "Schema", Description: "design the schema", Priority: models.PriorityHigh},
			{ID: "t2", Title: "Endpoints", Description: "CRUD endpoints", Priority: models.PriorityMedium, Dependencies: []string{"t1"}},
			{ID: "t3", Title: "Tests", Description: "integration tests", Priority: models.PriorityMedium, Dependencies: []string{"t2"}},
		},
	}
}

// diamondPlan has two independent roots feeding a join task.
func diamondPlan() *models.TaskPlan {
	return &models.TaskPlan{
		ProjectDescription: "parallel work with a join",
		Tasks: []models.Task{
			{ID: "t1", Title: "API", Description: "api layer"},
			{ID: "t2", Title: "Storage", Description: "storage layer"},
			{ID: "t3", Title: "Wire", Description: "wire api to storage", Dependencies: []string{"t1", "t2"}},
		},
	}
}

func multiAnalyzer() *scriptedAnalyzer {
	// Subagent completions never reach the analyzer; a single canned decision
	// suffices.
	return &scriptedAnalyzer{script: []*analyzer.Analysis{{Action: analyzer.ActionContinue, Confidence: 0.5}}}
}

func TestPipelineRunsTasksInSequence(t *testing.T) {
	h := newHarness(t, multiAnalyzer(), &fixedPlanner{plan: chainPlan()})
	ctx := context.Background()
	h.createOrchestration(t, "orch-1", models.ModePipeline)

	require.NoError(t, h.orch.ExecuteStart(ctx, "orch-1", startPayload(models.ModePipeline)))
	assert.Equal(t, 1, h.client.createdCount(), "pipeline dispatches exactly one task at a time")

	got, err := h.store.GetOrchestration(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, "master-orch-1", *got.MasterAgentID)
	assert.Equal(t, 3, got.TasksTotal)

	// t1 finishes -> t2 dispatched.
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_1")))
	assert.Equal(t, 2, h.client.createdCount())

	master, err := h.store.GetAgentState(ctx, "master-orch-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, master.TasksCompleted)
	assert.Equal(t, "t2", master.LastAnalysis.Subagents["bc_2"])

	// t2 finishes -> t3 dispatched; t3 finishes -> master completes.
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_2")))
	assert.Equal(t, 3, h.client.createdCount())
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_3")))

	master, err = h.store.GetAgentState(ctx, "master-orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentCompleted, master.Status)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, master.TasksCompleted)

	got, err = h.store.GetOrchestration(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrchestrationCompleted, got.Status)
	assert.Equal(t, 3, got.TasksComplete)
	assert.Zero(t, got.ActiveAgents)
}

func TestBatchDispatchesParallelRootsAndGatesJoin(t *testing.T) {
	h := newHarness(t, multiAnalyzer(), &fixedPlanner{plan: diamondPlan()})
	ctx := context.Background()
	h.createOrchestration(t, "orch-1", models.ModeBatch)

	require.NoError(t, h.orch.ExecuteStart(ctx, "orch-1", startPayload(models.ModeBatch)))
	assert.Equal(t, 2, h.client.createdCount(), "both roots start; the join waits on its dependencies")

	// First root done: t3 still gated on the other root.
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_1")))
	assert.Equal(t, 2, h.client.createdCount())

	master, err := h.store.GetAgentState(ctx, "master-orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentActive, master.Status)
	assert.Len(t, master.LastAnalysis.Subagents, 1)

	// Second root done: join becomes eligible.
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_2")))
	assert.Equal(t, 3, h.client.createdCount())

	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_3")))
	master, err = h.store.GetAgentState(ctx, "master-orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentCompleted, master.Status)
}

func TestBatchRespectsParallelismBound(t *testing.T) {
	plan := &models.TaskPlan{
		ProjectDescription: "four independent tasks",
		Tasks: []models.Task{
			{ID: "t1", Title: "a", Description: "a"},
			{ID: "t2", Title: "b", Description: "b"},
			{ID: "t3", Title: "c", Description: "c"},
			{ID: "t4", Title: "d", Description: "d"},
		},
	}
	h := newHarness(t, multiAnalyzer(), &fixedPlanner{plan: plan})
	ctx := context.Background()
	h.createOrchestration(t, "orch-1", models.ModeBatch)

	p := startPayload(models.ModeBatch)
	p.Options.MaxParallelAgents = 2
	require.NoError(t, h.orch.ExecuteStart(ctx, "orch-1", p))
	assert.Equal(t, 2, h.client.createdCount(), "initial wave bounded by maxParallelAgents")

	// Each completion backfills one slot until the plan drains.
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_1")))
	assert.Equal(t, 3, h.client.createdCount())
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_2")))
	assert.Equal(t, 4, h.client.createdCount())
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_3")))
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_4")))

	master, err := h.store.GetAgentState(ctx, "master-orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentCompleted, master.Status)
	assert.Len(t, master.TasksCompleted, 4)
}

func TestSubagentErrorFailsMaster(t *testing.T) {
	h := newHarness(t, multiAnalyzer(), &fixedPlanner{plan: diamondPlan()})
	ctx := context.Background()
	h.createOrchestration(t, "orch-1", models.ModeBatch)
	require.NoError(t, h.orch.ExecuteStart(ctx, "orch-1", startPayload(models.ModeBatch)))

	require.NoError(t, h.orch.ExecuteStatusChange(ctx, &models.StatusChangeEvent{
		ID: "bc_1", Status: models.RemoteStatusError, Summary: "merge conflict",
	}))

	master, err := h.store.GetAgentState(ctx, "master-orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentError, master.Status)

	got, err := h.store.GetOrchestration(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrchestrationError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "merge conflict")

	// The surviving subagent's later FINISHED is a no-op against the terminal
	// master.
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_2")))
	master, err = h.store.GetAgentState(ctx, "master-orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentError, master.Status)
}

func TestSubagentReplayIsIdempotent(t *testing.T) {
	h := newHarness(t, multiAnalyzer(), &fixedPlanner{plan: chainPlan()})
	ctx := context.Background()
	h.createOrchestration(t, "orch-1", models.ModePipeline)
	require.NoError(t, h.orch.ExecuteStart(ctx, "orch-1", startPayload(models.ModePipeline)))

	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_1")))
	require.Equal(t, 2, h.client.createdCount())

	// Redelivered completion for the already-settled subagent.
	require.NoError(t, h.orch.ExecuteStatusChange(ctx, finished("bc_1")))
	assert.Equal(t, 2, h.client.createdCount(), "replay must not dispatch again")

	master, err := h.store.GetAgentState(ctx, "master-orch-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, master.TasksCompleted)
}

func TestEmptyPlanCompletesImmediately(t *testing.T) {
	h := newHarness(t, multiAnalyzer(), &fixedPlanner{plan: &models.TaskPlan{ProjectDescription: "nothing to do"}})
	ctx := context.Background()
	h.createOrchestration(t, "orch-1", models.ModeAuto)

	require.NoError(t, h.orch.ExecuteStart(ctx, "orch-1", startPayload(models.ModeAuto)))
	assert.Zero(t, h.client.createdCount())

	got, err := h.store.GetOrchestration(ctx, "orch-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrchestrationCompleted, got.Status)
}

func TestSubtaskPromptCarriesOptions(t *testing.T) {
	h := newHarness(t, multiAnalyzer(), &fixedPlanner{plan: chainPlan()})
	ctx := context.Background()
	h.createOrchestration(t, "orch-1", models.ModePipeline)

	p := startPayload(models.ModePipeline)
	p.Options.EnableTesting = true
	p.Options.Priority = "quality"
	require.NoError(t, h.orch.ExecuteStart(ctx, "orch-1", p))

	require.Equal(t, 1, h.client.createdCount())
	prompt := h.client.created[0].Prompt
	assert.Contains(t, prompt, "Task: Schema")
	assert.Contains(t, prompt, "design the schema")
	assert.Contains(t, prompt, "Priority: high")
	assert.Contains(t, prompt, "tests covering your changes")
	assert.Contains(t, prompt, "thoroughness and robustness")
}
