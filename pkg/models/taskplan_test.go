package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planOf(tasks ...Task) *TaskPlan {
	return &TaskPlan{ProjectDescription: "test", Tasks: tasks}
}

func TestTaskPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    *TaskPlan
		wantErr string
	}{
		{
			name: "valid chain",
			plan: planOf(
				Task{ID: "t1"},
				Task{ID: "t2", Dependencies: []string{"t1"}},
				Task{ID: "t3", Dependencies: []string{"t2"}},
			),
		},
		{
			name: "valid diamond",
			plan: planOf(
				Task{ID: "t1"},
				Task{ID: "t2", Dependencies: []string{"t1"}},
				Task{ID: "t3", Dependencies: []string{"t1"}},
				Task{ID: "t4", Dependencies: []string{"t2", "t3"}},
			),
		},
		{
			name:    "empty id",
			plan:    planOf(Task{ID: ""}),
			wantErr: "empty id",
		},
		{
			name:    "duplicate id",
			plan:    planOf(Task{ID: "t1"}, Task{ID: "t1"}),
			wantErr: "duplicate task id",
		},
		{
			name:    "unknown dependency",
			plan:    planOf(Task{ID: "t1", Dependencies: []string{"ghost"}}),
			wantErr: "unknown task",
		},
		{
			name: "two-node cycle",
			plan: planOf(
				Task{ID: "t1", Dependencies: []string{"t2"}},
				Task{ID: "t2", Dependencies: []string{"t1"}},
			),
			wantErr: "cycle",
		},
		{
			name:    "self cycle",
			plan:    planOf(Task{ID: "t1", Dependencies: []string{"t1"}}),
			wantErr: "cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestEligibleTasks(t *testing.T) {
	plan := planOf(
		Task{ID: "t1"},
		Task{ID: "t2"},
		Task{ID: "t3", Dependencies: []string{"t1"}},
		Task{ID: "t4", Dependencies: []string{"t1", "t2"}},
	)

	tests := []struct {
		name      string
		completed []string
		running   []string
		want      []string
	}{
		{"nothing started", nil, nil, []string{"t1", "t2"}},
		{"t1 running blocks its dependents", nil, []string{"t1"}, []string{"t2"}},
		{"t1 done unlocks t3", []string{"t1"}, nil, []string{"t2", "t3"}},
		{"t1 and t2 done unlock everything", []string{"t1", "t2"}, nil, []string{"t3", "t4"}},
		{"running tasks excluded", []string{"t1", "t2"}, []string{"t3"}, []string{"t4"}},
		{"all done", []string{"t1", "t2", "t3", "t4"}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plan.EligibleTasks(tt.completed, tt.running))
		})
	}
}

func TestTaskLookup(t *testing.T) {
	plan := planOf(Task{ID: "t1", Title: "first"}, Task{ID: "t2"})
	require.NotNil(t, plan.Task("t1"))
	assert.Equal(t, "first", plan.Task("t1").Title)
	assert.Nil(t, plan.Task("missing"))
}
