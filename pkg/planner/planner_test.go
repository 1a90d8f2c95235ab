package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

type stubLLM struct {
	out string
	err error
}

func (s *stubLLM) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return s.out, s.err
}

const validPlanJSON = `{
  "project_description": "build a todo API",
  "tasks": [
    {"id": "task-1", "title": "Schema", "description": "design the schema", "priority": "high"},
    {"id": "task-2", "title": "Endpoints", "description": "CRUD endpoints", "priority": "medium", "dependencies": ["task-1"]},
    {"id": "task-3", "title": "Tests", "description": "integration tests", "dependencies": ["task-2"]}
  ]
}`

func TestPlanParsesValidOutput(t *testing.T) {
	p := New(&stubLLM{out: "Here is the plan:\n" + validPlanJSON})
	plan := p.Plan(context.Background(), "build a todo API", models.Options{})
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, "task-2", plan.Tasks[1].ID)
	assert.Equal(t, []string{"task-1"}, plan.Tasks[1].Dependencies)
	// Missing priority defaults to medium.
	assert.Equal(t, models.PriorityMedium, plan.Tasks[2].Priority)
}

func TestPlanFallbackWhenLLMNil(t *testing.T) {
	p := New(nil)
	plan := p.Plan(context.Background(), "first line\nrest of the prompt", models.Options{})
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "task-1", plan.Tasks[0].ID)
	assert.Equal(t, models.PriorityHigh, plan.Tasks[0].Priority)
	assert.Equal(t, "first line\nrest of the prompt", plan.Tasks[0].Description)
	assert.Equal(t, "first line", plan.ProjectDescription)
}

func TestPlanFallbackOnLLMError(t *testing.T) {
	p := New(&stubLLM{err: errors.New("rate limited")})
	plan := p.Plan(context.Background(), "do the work", models.Options{})
	require.Len(t, plan.Tasks, 1)
}

func TestPlanFallbackOnCyclicPlan(t *testing.T) {
	p := New(&stubLLM{out: `{
		"tasks": [
			{"id": "a", "title": "a", "description": "a", "dependencies": ["b"]},
			{"id": "b", "title": "b", "description": "b", "dependencies": ["a"]}
		]
	}`})
	plan := p.Plan(context.Background(), "do the work", models.Options{})
	require.Len(t, plan.Tasks, 1, "cyclic plan is rejected in favor of the fallback")
}

func TestPlanFallbackOnUnknownDependency(t *testing.T) {
	p := New(&stubLLM{out: `{
		"tasks": [{"id": "a", "title": "a", "description": "a", "dependencies": ["ghost"]}]
	}`})
	plan := p.Plan(context.Background(), "do the work", models.Options{})
	require.Len(t, plan.Tasks, 1)
	assert.Empty(t, plan.Tasks[0].Dependencies)
}

func TestParsePlanRepairsAlmostJSON(t *testing.T) {
	plan, err := parsePlan(`{"tasks": [{"id": "task-1", "title": "x", "description": "y",},]}`)
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 1)
}

func TestParsePlanRejectsEmptyTaskList(t *testing.T) {
	_, err := parsePlan(`{"project_description": "x", "tasks": []}`)
	assert.Error(t, err)
}

func TestTaskCountHint(t *testing.T) {
	assert.Contains(t, taskCountHint("small"), "5-10")
	assert.Contains(t, taskCountHint("medium"), "3-6")
	assert.Contains(t, taskCountHint("large"), "2-4")
	assert.Contains(t, taskCountHint(""), "3-8")
}

func TestFirstLineTruncation(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "abcdefghij"
	}
	assert.Len(t, firstLine(long), 120)
	assert.Equal(t, "hello", firstLine("hello\nworld"))
}
