package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/conductor/pkg/analyzer"
	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/models"
	"github.com/codeready-toolchain/conductor/pkg/quality"
	"github.com/codeready-toolchain/conductor/pkg/store"
	"github.com/codeready-toolchain/conductor/pkg/tester"
)

// ExecuteStatusChange is the event reducer entry point. Events for unknown
// agents or non-actionable statuses are acknowledged without action; the
// external service owns redelivery, so returning an error here means "retry
// me".
func (o *Orchestrator) ExecuteStatusChange(ctx context.Context, event *models.StatusChangeEvent) error {
	if !event.Actionable() {
		o.logger.Debug("Ignoring non-actionable status", "agent_id", event.ID, "status", event.Status)
		return nil
	}

	// Direct lookup first: masters and single agents are keyed by their own
	// agent id.
	if _, err := o.store.GetAgentState(ctx, event.ID); err == nil {
		unlock := o.locks.Lock(event.ID)
		defer unlock()

		// Re-read under the lock: a concurrent event may have advanced it.
		state, err := o.store.GetAgentState(ctx, event.ID)
		if err != nil {
			return err
		}
		if state.Status.IsTerminal() {
			o.logEventNoop(ctx, state, "agent already terminal")
			return nil
		}
		return o.reduce(ctx, state, event)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	// Reverse lookup: is this a subagent of some active master?
	master, err := o.store.FindMasterBySubagent(ctx, event.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.logger.Warn("Status change for unknown agent", "agent_id", event.ID, "status", event.Status)
			return nil
		}
		return err
	}

	unlock := o.locks.Lock(master.AgentID)
	defer unlock()

	master, err = o.store.GetAgentState(ctx, master.AgentID)
	if err != nil {
		return err
	}
	if master.Status.IsTerminal() {
		o.logEventNoop(ctx, master, "master already terminal")
		return nil
	}
	taskID, ok := master.LastAnalysis.Subagents[event.ID]
	if !ok {
		// A concurrent reduction already settled this subagent.
		o.logEventNoop(ctx, master, "subagent already settled")
		return nil
	}
	return o.handleTaskCompletion(ctx, master, taskID, event.ID, event)
}

// logEventNoop records why an event produced no action, satisfying the
// "advance or explain" property of the reducer.
func (o *Orchestrator) logEventNoop(ctx context.Context, state *models.AgentState, reason string) {
	orchID := ""
	if state.LastAnalysis != nil {
		orchID = state.LastAnalysis.OrchestrationID
	}
	if orchID == "" {
		return
	}
	o.store.LogEvent(ctx, orchID, models.EventDebug, models.StepWebhookReceived,
		"Event ignored: "+reason, map[string]any{"agent_id": state.AgentID})
}

// reduce handles a FINISHED/ERROR event for a master or single agent: bump
// iterations, fetch the transcript, analyze, and execute the decision.
func (o *Orchestrator) reduce(ctx context.Context, state *models.AgentState, event *models.StatusChangeEvent) error {
	if state.LastAnalysis == nil {
		state.LastAnalysis = &models.LastAnalysis{}
	}
	orchID := state.LastAnalysis.OrchestrationID

	if event.Status == models.RemoteStatusError {
		msg := fmt.Sprintf("Agent %s reported ERROR", state.AgentID)
		if event.Summary != "" {
			msg += ": " + event.Summary
		}
		return o.failMaster(ctx, state, models.AgentError, cursor.CodeAPIError, msg)
	}

	state.Iterations++
	if state.Iterations >= o.cfg.MaxIterations {
		msg := fmt.Sprintf("Agent %s reached the iteration ceiling (%d)", state.AgentID, o.cfg.MaxIterations)
		return o.failMaster(ctx, state, models.AgentMaxIterationsReached, "MAX_ITERATIONS_REACHED", msg)
	}

	if event.Target != nil && event.Target.BranchName != "" {
		branch := event.Target.BranchName
		state.BranchName = &branch
	}

	// Fetch failures propagate: the event has not been consumed yet and
	// redelivery will retry the whole step.
	agent, err := o.client.GetAgent(ctx, o.cfg.CursorAPIKey, state.AgentID)
	if err != nil {
		state.Iterations--
		return fmt.Errorf("failed to fetch agent: %w", err)
	}
	conversation, err := o.client.GetConversation(ctx, o.cfg.CursorAPIKey, state.AgentID)
	if err != nil {
		state.Iterations--
		return fmt.Errorf("failed to fetch conversation: %w", err)
	}

	analysis := o.analyzer.Analyze(ctx, conversation, agent, state)

	if len(analysis.TasksCompleted) > 0 {
		state.TasksCompleted = analysis.TasksCompleted
	}
	if analysis.TasksRemaining != nil {
		state.TasksRemaining = analysis.TasksRemaining
	}
	la := state.LastAnalysis
	la.Action = string(analysis.Action)
	la.Reasoning = analysis.Reasoning
	la.Confidence = analysis.Confidence
	la.AnalyzedAt = time.Now().UTC()

	o.store.LogEvent(ctx, orchID, models.EventInfo, models.StepAnalysis,
		fmt.Sprintf("Analysis: %s (confidence %.2f)", analysis.Action, analysis.Confidence),
		map[string]any{
			"action":     analysis.Action,
			"confidence": analysis.Confidence,
			"rule_based": analysis.RuleBased,
			"iteration":  state.Iterations,
		})

	if err := o.executeDecision(ctx, state, agent, analysis); err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		// Terminal transitions persist themselves.
		return nil
	}
	return o.store.UpdateAgentState(ctx, state)
}

// executeDecision performs the external effect of an analysis decision.
// Follow-up delivery failures are logged, not propagated: the event counts as
// observed and the next webhook drives the loop forward.
func (o *Orchestrator) executeDecision(ctx context.Context, state *models.AgentState, agent *cursor.Agent, analysis *analyzer.Analysis) error {
	orchID := state.LastAnalysis.OrchestrationID

	switch analysis.Action {
	case analyzer.ActionContinue, analyzer.ActionFix:
		text := analysis.FollowupMessage
		if text == "" {
			text = analyzer.DefaultFollowup
		}
		o.sendFollowup(ctx, state.AgentID, text)
		o.store.LogEvent(ctx, orchID, models.EventInfo, models.StepDecision,
			fmt.Sprintf("Sent %s follow-up", analysis.Action), nil)
		return nil

	case analyzer.ActionTest:
		return o.runVerification(ctx, state, agent)

	case analyzer.ActionComplete:
		return o.completeGate(ctx, state)
	}
	return fmt.Errorf("unhandled action %q", analysis.Action)
}

// runVerification executes the TEST decision: run the local pipeline when a
// branch is known and a tester is wired, otherwise instruct the agent to
// verify on its side.
func (o *Orchestrator) runVerification(ctx context.Context, state *models.AgentState, agent *cursor.Agent) error {
	branch := ""
	if state.BranchName != nil {
		branch = *state.BranchName
	}
	if branch == "" && agent != nil && agent.Target != nil {
		branch = agent.Target.BranchName
	}

	orchID := state.LastAnalysis.OrchestrationID

	if o.tester == nil || branch == "" {
		o.sendFollowup(ctx, state.AgentID,
			"Run the full test suite, fix any failures, and report the results.")
		o.store.LogEvent(ctx, orchID, models.EventInfo, models.StepDecision,
			"TEST decision: delegated verification to the agent", nil)
		return nil
	}

	result, err := o.tester.RunTests(ctx, state.Repository, branch)
	if err != nil {
		if errors.Is(err, tester.ErrRepoClone) {
			o.store.LogEvent(ctx, orchID, models.EventWarn, models.StepDecision,
				"Local verification failed to clone the repository",
				map[string]any{"code": "REPO_CLONE_FAILED", "branch": branch})
		}
		o.sendFollowup(ctx, state.AgentID,
			"Local verification could not run ("+err.Error()+"). Run the test suite yourself and fix any failures.")
		return nil
	}

	la := state.LastAnalysis
	la.TestsPassed = result.TestsPassed
	la.TestsTotal = result.TestsTotal

	if result.Success {
		o.store.LogEvent(ctx, orchID, models.EventInfo, models.StepDecision,
			"Verification passed, proceeding to completion gate",
			map[string]any{"tests_passed": result.TestsPassed, "tests_total": result.TestsTotal})
		return o.completeGate(ctx, state)
	}

	la.ErrorsTotal += len(result.Errors)
	o.sendFollowup(ctx, state.AgentID,
		"Verification failed:\n"+joinErrors(result.Errors)+"\nFix these failures and make the pipeline pass.")
	o.store.LogEvent(ctx, orchID, models.EventWarn, models.StepDecision,
		"Verification failed, sent fix follow-up", map[string]any{"errors": result.Errors})
	return nil
}

// completeGate applies the quality threshold to a COMPLETE decision: pass
// completes the orchestration, fail sends exactly one refinement follow-up
// and keeps the loop ACTIVE.
func (o *Orchestrator) completeGate(ctx context.Context, state *models.AgentState) error {
	la := state.LastAnalysis
	result := quality.Score(quality.Input{
		Iterations:    state.Iterations,
		MaxIterations: o.cfg.MaxIterations,
		TestsPassed:   la.TestsPassed,
		TestsTotal:    la.TestsTotal,
		ErrorsFixed:   la.ErrorsFixed,
		ErrorsTotal:   la.ErrorsTotal,
	})
	la.QualityScore = result.Score
	la.QualityGrade = result.Grade

	orchID := la.OrchestrationID
	o.store.LogEvent(ctx, orchID, models.EventInfo, models.StepQualityGate,
		fmt.Sprintf("Quality score %d/100 (%s), threshold %d", result.Score, result.Grade, o.cfg.QualityThreshold),
		result)

	if result.MeetsThreshold(o.cfg.QualityThreshold) {
		return o.completeMaster(ctx, state)
	}

	la.NeedsRefinement = true
	o.sendFollowup(ctx, state.AgentID,
		"The work does not yet meet the completion bar. "+result.Summary()+
			"\nAddress these points, then finish the task.")
	o.store.LogEvent(ctx, orchID, models.EventWarn, models.StepQualityGate,
		"Below threshold, sent refinement follow-up", nil)
	return nil
}

// sendFollowup delivers a follow-up prompt, logging failures only.
func (o *Orchestrator) sendFollowup(ctx context.Context, agentID, text string) {
	if err := o.client.SendFollowup(ctx, o.cfg.CursorAPIKey, agentID, text); err != nil {
		o.logger.Warn("Failed to send follow-up", "agent_id", agentID, "error", err)
	}
}

func joinErrors(errs []string) string {
	out := ""
	for _, e := range errs {
		out += "- " + e + "\n"
	}
	return out
}
