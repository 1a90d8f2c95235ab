package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

// Reaper stops agents stuck in ACTIVE past the configured timeout. Stop
// failures are logged and left for the next tick; only a successful stop
// transitions the state to TIMEOUT.
type Reaper struct {
	orch   *Orchestrator
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper builds the reaper over the orchestrator's store and client.
func NewReaper(orch *Orchestrator) *Reaper {
	return &Reaper{orch: orch}
}

// Start launches the periodic sweep.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.orch.cfg.ReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
	r.orch.logger.Info("Stuck-agent reaper started",
		"interval", r.orch.cfg.ReaperInterval, "agent_timeout", r.orch.cfg.AgentTimeout)
}

// Stop halts the sweep loop.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Sweep runs one pass over stuck agents.
func (r *Reaper) Sweep(ctx context.Context) {
	o := r.orch
	stuck, err := o.store.ListStuckAgentStates(ctx, o.cfg.AgentTimeout)
	if err != nil {
		o.logger.Error("Reaper failed to list stuck agents", "error", err)
		return
	}

	for _, state := range stuck {
		unlock := o.locks.Lock(state.AgentID)
		r.reap(ctx, state.AgentID)
		unlock()
	}
}

// reap times out one agent under its lock.
func (r *Reaper) reap(ctx context.Context, agentID string) {
	o := r.orch

	// Re-read under the lock; a webhook may have just advanced it.
	state, err := o.store.GetAgentState(ctx, agentID)
	if err != nil {
		o.logger.Error("Reaper failed to load agent state", "agent_id", agentID, "error", err)
		return
	}
	if state.Status != models.AgentActive || time.Since(state.UpdatedAt) < o.cfg.AgentTimeout {
		return
	}

	// Synthetic masters have no remote agent to stop.
	if !isSyntheticMaster(state) {
		if err := o.client.StopAgent(ctx, o.cfg.CursorAPIKey, agentID); err != nil {
			o.logger.Warn("Reaper failed to stop agent, will retry next tick",
				"agent_id", agentID, "error", err)
			return
		}
	}

	if err := o.timeoutMaster(ctx, state,
		"Agent stopped after exceeding the inactivity timeout"); err != nil {
		o.logger.Error("Reaper failed to record timeout", "agent_id", agentID, "error", err)
		return
	}
	if o.notifier != nil {
		o.notifier.AgentTimedOut(ctx, agentID, state.Iterations)
	}
	o.logger.Warn("Reaped stuck agent", "agent_id", agentID, "iterations", state.Iterations)
}

// isSyntheticMaster reports whether the state coordinates subagents without a
// remote agent of its own.
func isSyntheticMaster(state *models.AgentState) bool {
	if state.LastAnalysis == nil {
		return false
	}
	switch state.LastAnalysis.Mode {
	case models.ModePipeline, models.ModeBatch, models.ModeAuto:
		return true
	}
	return false
}
