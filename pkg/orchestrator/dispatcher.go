package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/models"
)

// dispatchCreds carries the per-orchestration call parameters from the start
// payload to each subtask dispatch. Credentials travel as arguments, never as
// shared process state.
type dispatchCreds struct {
	repository string
	ref        string
	model      *string
	apiKey     string
}

// taskPromptFooter is appended to every subtask prompt.
const taskPromptFooter = `Complete this task fully. Test your changes. Follow the repository's existing conventions and best practices. Do not introduce breaking changes to other parts of the codebase.`

// buildTaskPrompt renders the per-task prompt sent to a subagent.
func buildTaskPrompt(task *models.Task, opts models.Options) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n\n%s\n", task.Title, task.Description)
	if task.Priority != "" {
		fmt.Fprintf(&b, "\nPriority: %s", task.Priority)
	}
	if task.Complexity != "" {
		fmt.Fprintf(&b, "\nEstimated complexity: %s", task.Complexity)
	}
	b.WriteString("\n\n")
	b.WriteString(taskPromptFooter)

	if opts.EnableAutoFix {
		b.WriteString("\nIf you encounter errors, fix them before finishing.")
	}
	if opts.EnableTesting {
		b.WriteString("\nWrite or update tests covering your changes.")
	}
	if opts.EnableValidation {
		b.WriteString("\nValidate inputs and edge cases in any code you touch.")
	}
	switch opts.Priority {
	case "speed":
		b.WriteString("\nPrefer the simplest working solution; optimize for delivery speed.")
	case "quality":
		b.WriteString("\nPrefer thoroughness and robustness over speed.")
	}
	return b.String()
}

// dispatchTasks launches the given task ids in parallel, recording each new
// subagent in the registry and the master's subagent map. The caller
// serializes access to the master state.
func (o *Orchestrator) dispatchTasks(ctx context.Context, master *models.AgentState, taskIDs []string, creds dispatchCreds) error {
	if len(taskIDs) == 0 {
		return nil
	}
	plan := master.LastAnalysis.Plan

	var mu sync.Mutex
	fns := make([]func(context.Context) error, 0, len(taskIDs))
	for _, id := range taskIDs {
		task := plan.Task(id)
		if task == nil {
			return fmt.Errorf("plan has no task %q", id)
		}
		fns = append(fns, func(ctx context.Context) error {
			agentID, err := o.dispatchTask(ctx, master, task, creds)
			if err != nil {
				return err
			}
			mu.Lock()
			master.LastAnalysis.Subagents[agentID] = task.ID
			mu.Unlock()
			return nil
		})
	}
	return dispatchGroup(ctx, fns)
}

// dispatchTask creates one subagent for one task.
func (o *Orchestrator) dispatchTask(ctx context.Context, master *models.AgentState, task *models.Task, creds dispatchCreds) (string, error) {
	agent, err := o.client.CreateAgent(ctx, creds.apiKey, cursor.CreateAgentRequest{
		Prompt:        buildTaskPrompt(task, master.LastAnalysis.Options),
		Repository:    creds.repository,
		Ref:           creds.ref,
		Model:         creds.model,
		AutoCreatePR:  true,
		WebhookURL:    o.webhookURL(),
		WebhookSecret: o.cfg.WebhookSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to dispatch task %s: %w", task.ID, err)
	}

	o.subagents.Add(master.AgentID, agent.ID, task.ID)

	orchID := master.LastAnalysis.OrchestrationID
	o.store.LogEvent(ctx, orchID, models.EventInfo, models.StepTaskDispatched,
		fmt.Sprintf("Dispatched task %s to agent %s", task.ID, agent.ID),
		map[string]any{"task_id": task.ID, "agent_id": agent.ID, "title": task.Title})
	o.logger.Info("Task dispatched",
		"master_id", master.AgentID, "task_id", task.ID, "agent_id", agent.ID)
	return agent.ID, nil
}

// handleTaskCompletion is the multi-agent reducer step: it settles one
// subagent outcome, dispatches successors per mode rules, and performs the
// master completion transition when the plan is exhausted. The caller holds
// the master lock, making this whole step atomic with respect to concurrent
// subagent completions.
func (o *Orchestrator) handleTaskCompletion(ctx context.Context, master *models.AgentState, taskID, agentID string, event *models.StatusChangeEvent) error {
	o.subagents.Remove(master.AgentID, agentID)
	delete(master.LastAnalysis.Subagents, agentID)

	orchID := master.LastAnalysis.OrchestrationID

	if event.Status == models.RemoteStatusError {
		msg := fmt.Sprintf("Subagent %s reported ERROR on task %s", agentID, taskID)
		if event.Summary != "" {
			msg += ": " + event.Summary
		}
		return o.failMaster(ctx, master, models.AgentError, cursor.CodeAPIError, msg)
	}

	master.TasksRemaining = removeID(master.TasksRemaining, taskID)
	master.TasksCompleted = appendUnique(master.TasksCompleted, taskID)

	o.store.LogEvent(ctx, orchID, models.EventInfo, models.StepTaskCompleted,
		fmt.Sprintf("Task %s completed by agent %s", taskID, agentID),
		map[string]any{"task_id": taskID, "agent_id": agentID})

	plan := master.LastAnalysis.Plan
	running := o.subagents.RunningTasks(master.AgentID)
	eligible := plan.EligibleTasks(master.TasksCompleted, running)

	switch master.LastAnalysis.Mode {
	case models.ModePipeline:
		if len(eligible) > 1 {
			eligible = eligible[:1]
		}
	default: // BATCH, AUTO
		slots := o.maxParallel(master.LastAnalysis.Options) - len(running)
		if slots < 0 {
			slots = 0
		}
		if len(eligible) > slots {
			eligible = eligible[:slots]
		}
	}

	creds := dispatchCreds{
		repository: master.Repository,
		ref:        refFromEvent(event),
		apiKey:     o.cfg.CursorAPIKey,
	}
	if err := o.dispatchTasks(ctx, master, eligible, creds); err != nil {
		// Persist the settled completion before surfacing the dispatch
		// failure so redelivery does not replay it.
		if uerr := o.store.UpdateAgentState(ctx, master); uerr != nil {
			return uerr
		}
		return err
	}

	active := o.subagents.Count(master.AgentID)
	if err := o.store.UpdateOrchestrationProgress(ctx, orchID, len(master.TasksCompleted), active); err != nil {
		return err
	}

	if len(master.TasksRemaining) == 0 && active == 0 {
		return o.completeMaster(ctx, master)
	}
	return o.store.UpdateAgentState(ctx, master)
}

// refFromEvent prefers the ref the agent actually ran against.
func refFromEvent(event *models.StatusChangeEvent) string {
	if event.Source != nil && event.Source.Ref != "" {
		return event.Source.Ref
	}
	return "main"
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
