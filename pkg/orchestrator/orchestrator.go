// Package orchestrator drives agents to completion: it starts orchestrations
// from durable jobs, reduces webhook status-change events into state updates
// and decisions, dispatches plan tasks to subagents under mode rules, and
// reaps agents stuck past their timeout.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/conductor/pkg/analyzer"
	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/models"
	"github.com/codeready-toolchain/conductor/pkg/quality"
	"github.com/codeready-toolchain/conductor/pkg/store"
	"github.com/codeready-toolchain/conductor/pkg/tester"
)

// AgentClient is the external agent surface the orchestrator needs.
// Implemented by *cursor.Client.
type AgentClient interface {
	CreateAgent(ctx context.Context, apiKey string, req cursor.CreateAgentRequest) (*cursor.Agent, error)
	GetAgent(ctx context.Context, apiKey, agentID string) (*cursor.Agent, error)
	GetConversation(ctx context.Context, apiKey, agentID string) ([]cursor.Message, error)
	SendFollowup(ctx context.Context, apiKey, agentID, text string) error
	StopAgent(ctx context.Context, apiKey, agentID string) error
}

// ModelResolver validates requested model names. Implemented by
// *cursor.ModelValidator.
type ModelResolver interface {
	Resolve(ctx context.Context, apiKey, requested string) cursor.Resolution
}

// Analyzer produces decisions from transcripts. Implemented by
// *analyzer.Analyzer.
type Analyzer interface {
	Analyze(ctx context.Context, conversation []cursor.Message, agent *cursor.Agent, state *models.AgentState) *analyzer.Analysis
}

// TaskPlanner decomposes prompts. Implemented by *planner.Planner.
type TaskPlanner interface {
	Plan(ctx context.Context, prompt string, opts models.Options) *models.TaskPlan
}

// Notifier announces lifecycle transitions. Implemented by *notify.Notifier;
// a nil implementation value is safe.
type Notifier interface {
	OrchestrationCompleted(ctx context.Context, orchestrationID string, score int, grade string)
	OrchestrationFailed(ctx context.Context, orchestrationID, code, message string)
	AgentTimedOut(ctx context.Context, agentID string, iterations int)
}

// Orchestrator is the event reducer and task dispatcher.
type Orchestrator struct {
	store    *store.Store
	client   AgentClient
	resolver ModelResolver
	analyzer Analyzer
	planner  TaskPlanner
	tester   tester.Tester // nil skips local verification
	notifier Notifier      // nil-safe
	cfg      *config.Config
	logger   *slog.Logger

	locks     keyedMutex
	subagents *subagentRegistry
}

// New wires the orchestrator. tester may be nil.
func New(st *store.Store, client AgentClient, resolver ModelResolver, an Analyzer, pl TaskPlanner, ts tester.Tester, nt Notifier, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		store:     st,
		client:    client,
		resolver:  resolver,
		analyzer:  an,
		planner:   pl,
		tester:    ts,
		notifier:  nt,
		cfg:       cfg,
		logger:    slog.Default().With("component", "orchestrator"),
		subagents: newSubagentRegistry(),
	}
}

// masterIDFor derives the synthetic coordination id for a multi-agent
// orchestration. In PIPELINE/BATCH/AUTO the master never corresponds to a
// remote agent.
func masterIDFor(orchestrationID string) string {
	return "master-" + orchestrationID
}

// ExecuteStart launches an orchestration from a claimed outbox job. Replays
// against a terminal orchestration are acknowledged without action.
func (o *Orchestrator) ExecuteStart(ctx context.Context, orchestrationID string, p *models.StartOrchestrationPayload) error {
	orch, err := o.store.GetOrchestration(ctx, orchestrationID)
	if err != nil {
		return fmt.Errorf("failed to load orchestration: %w", err)
	}
	if orch.Status.IsTerminal() {
		o.logger.Info("Skipping start for terminal orchestration",
			"orchestration_id", orchestrationID, "status", orch.Status)
		return nil
	}
	if orch.Status == models.OrchestrationQueued {
		if err := o.store.MarkOrchestrationRunning(ctx, orchestrationID); err != nil {
			return err
		}
	}
	o.store.LogEvent(ctx, orchestrationID, models.EventInfo, models.StepWorkerReceived,
		"Outbox job claimed, starting orchestration", nil)

	mode := p.Options.Mode
	if !mode.Valid() {
		mode = models.ModeAuto
	}

	requested := ""
	if p.Model != nil {
		requested = *p.Model
	}
	res := o.resolver.Resolve(ctx, p.APIKey, requested)
	if res.Warning != "" {
		o.store.LogEvent(ctx, orchestrationID, models.EventWarn, models.StepModelResolved,
			res.Warning, nil)
	} else if res.Substituted {
		o.store.LogEvent(ctx, orchestrationID, models.EventInfo, models.StepModelResolved,
			"Substituted deprecated model name", map[string]any{"model": *res.Model})
	}

	if mode == models.ModeSingleAgent {
		return o.startSingle(ctx, orchestrationID, p, res.Model)
	}
	return o.startPlanned(ctx, orchestrationID, p, mode, res.Model)
}

// startSingle creates one agent carrying the full prompt.
func (o *Orchestrator) startSingle(ctx context.Context, orchestrationID string, p *models.StartOrchestrationPayload, model *string) error {
	agent, err := o.client.CreateAgent(ctx, p.APIKey, cursor.CreateAgentRequest{
		Prompt:        p.Prompt,
		Repository:    p.Repository,
		Ref:           p.Ref,
		Model:         model,
		AutoCreatePR:  true,
		WebhookURL:    o.webhookURL(),
		WebhookSecret: o.cfg.WebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	state := &models.AgentState{
		AgentID:         agent.ID,
		TaskDescription: p.Prompt,
		Repository:      p.Repository,
		Status:          models.AgentActive,
		LastAnalysis: &models.LastAnalysis{
			Mode:            models.ModeSingleAgent,
			Options:         p.Options,
			OrchestrationID: orchestrationID,
		},
	}
	if err := o.store.CreateAgentState(ctx, state); err != nil {
		return err
	}

	if err := o.store.RecordOrchestrationStarted(ctx, orchestrationID, agent.ID, nil, 1); err != nil {
		return err
	}
	if err := o.store.UpdateOrchestrationProgress(ctx, orchestrationID, 0, 1); err != nil {
		return err
	}
	o.store.LogEvent(ctx, orchestrationID, models.EventInfo, models.StepOrchestrationStarted,
		"Single agent created", map[string]any{"agent_id": agent.ID})
	return nil
}

// startPlanned plans the prompt and dispatches the initial task set per mode.
func (o *Orchestrator) startPlanned(ctx context.Context, orchestrationID string, p *models.StartOrchestrationPayload, mode models.Mode, model *string) error {
	plan := o.planner.Plan(ctx, p.Prompt, p.Options)
	masterID := masterIDFor(orchestrationID)

	state := &models.AgentState{
		AgentID:         masterID,
		TaskDescription: plan.ProjectDescription,
		Repository:      p.Repository,
		Status:          models.AgentActive,
		TasksRemaining:  taskIDs(plan),
		LastAnalysis: &models.LastAnalysis{
			Plan:            plan,
			Mode:            mode,
			Options:         p.Options,
			OrchestrationID: orchestrationID,
			Subagents:       map[string]string{},
		},
	}

	if len(plan.Tasks) == 0 {
		// Empty plan on a multi-agent mode: nothing to dispatch, complete
		// immediately with a defaults-only score.
		state.Status = models.AgentCompleted
		if err := o.store.CreateAgentState(ctx, state); err != nil {
			return err
		}
		if err := o.store.RecordOrchestrationStarted(ctx, orchestrationID, masterID, plan, 0); err != nil {
			return err
		}
		return o.completeMaster(ctx, state)
	}

	if err := o.store.CreateAgentState(ctx, state); err != nil {
		return err
	}
	if err := o.store.RecordOrchestrationStarted(ctx, orchestrationID, masterID, plan, len(plan.Tasks)); err != nil {
		return err
	}
	o.store.LogEvent(ctx, orchestrationID, models.EventInfo, models.StepOrchestrationStarted,
		fmt.Sprintf("Planned %d tasks in %s mode", len(plan.Tasks), mode),
		map[string]any{"master_id": masterID, "tasks": taskIDs(plan)})

	initial := plan.EligibleTasks(nil, nil)
	switch mode {
	case models.ModePipeline:
		if len(initial) > 1 {
			initial = initial[:1]
		}
	default: // BATCH, AUTO
		if max := o.maxParallel(p.Options); len(initial) > max {
			initial = initial[:max]
		}
	}

	creds := dispatchCreds{repository: p.Repository, ref: p.Ref, model: model, apiKey: p.APIKey}
	if err := o.dispatchTasks(ctx, state, initial, creds); err != nil {
		return err
	}
	if err := o.store.UpdateAgentState(ctx, state); err != nil {
		return err
	}
	return o.store.UpdateOrchestrationProgress(ctx, orchestrationID, 0, o.subagents.Count(masterID))
}

// maxParallel resolves the BATCH/AUTO parallelism bound.
func (o *Orchestrator) maxParallel(opts models.Options) int {
	if opts.MaxParallelAgents > 0 {
		return opts.MaxParallelAgents
	}
	return o.cfg.MaxParallelAgents
}

// webhookURL is the callback registered on every created agent.
func (o *Orchestrator) webhookURL() string {
	if o.cfg.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimSuffix(o.cfg.PublicBaseURL, "/") + "/webhooks/cursor"
}

func taskIDs(plan *models.TaskPlan) []string {
	ids := make([]string, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// completeMaster performs the terminal completion transition for a master (or
// single) state: quality score on the recorded counters, state and
// orchestration rows updated, notification sent.
func (o *Orchestrator) completeMaster(ctx context.Context, state *models.AgentState) error {
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
	la.NeedsRefinement = false
	state.Status = models.AgentCompleted

	if err := o.store.UpdateAgentState(ctx, state); err != nil {
		return err
	}
	o.subagents.Clear(state.AgentID)

	orchID := la.OrchestrationID
	if orchID != "" {
		if err := o.store.SetOrchestrationStatus(ctx, orchID, models.OrchestrationCompleted); err != nil {
			return err
		}
		if err := o.store.UpdateOrchestrationProgress(ctx, orchID, len(state.TasksCompleted), 0); err != nil {
			return err
		}
		o.store.LogEvent(ctx, orchID, models.EventInfo, models.StepMasterCompleted,
			fmt.Sprintf("Orchestration completed with quality %d/100 (%s)", result.Score, result.Grade),
			result)
	}
	if o.notifier != nil {
		o.notifier.OrchestrationCompleted(ctx, orchID, result.Score, result.Grade)
	}
	o.logger.Info("Master completed",
		"agent_id", state.AgentID, "orchestration_id", orchID,
		"score", result.Score, "grade", result.Grade)
	return nil
}

// failMaster performs the terminal failure transition.
func (o *Orchestrator) failMaster(ctx context.Context, state *models.AgentState, status models.AgentStatus, code, message string) error {
	state.Status = status
	if err := o.store.UpdateAgentState(ctx, state); err != nil {
		return err
	}
	o.subagents.Clear(state.AgentID)

	orchID := ""
	if state.LastAnalysis != nil {
		orchID = state.LastAnalysis.OrchestrationID
	}
	if orchID != "" {
		if err := o.store.FailOrchestration(ctx, orchID, code, message, message); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return err
		}
		o.store.LogEvent(ctx, orchID, models.EventError, models.StepWorkerError, message,
			map[string]any{"agent_id": state.AgentID, "code": code})
	}
	if o.notifier != nil {
		o.notifier.OrchestrationFailed(ctx, orchID, code, message)
	}
	o.logger.Warn("Master failed",
		"agent_id", state.AgentID, "orchestration_id", orchID, "code", code, "status", status)
	return nil
}

// timeoutMaster performs the timeout transition. The orchestration lands in
// the distinct timeout status, which never carries an error code.
func (o *Orchestrator) timeoutMaster(ctx context.Context, state *models.AgentState, message string) error {
	state.Status = models.AgentTimeout
	if err := o.store.UpdateAgentState(ctx, state); err != nil {
		return err
	}
	o.subagents.Clear(state.AgentID)

	orchID := ""
	if state.LastAnalysis != nil {
		orchID = state.LastAnalysis.OrchestrationID
	}
	if orchID != "" {
		if err := o.store.TimeoutOrchestration(ctx, orchID, message); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return err
		}
		o.store.LogEvent(ctx, orchID, models.EventError, models.StepWorkerError, message,
			map[string]any{"agent_id": state.AgentID})
	}
	o.logger.Warn("Master timed out",
		"agent_id", state.AgentID, "orchestration_id", orchID)
	return nil
}

// dispatchGroup runs fns in parallel and returns the first error.
func dispatchGroup(ctx context.Context, fns []func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(ctx) })
	}
	return g.Wait()
}
