package orchestrator

import (
	"context"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

// Recover rebuilds the in-memory active-subagent sets after a restart and
// reconciles them against the external agent service: subagents that finished
// while the process was down are fed through the reducer as synthesized
// events. Reconciliation failures are logged; the next webhook or reaper tick
// catches whatever was missed.
func (o *Orchestrator) Recover(ctx context.Context) error {
	states, err := o.store.ListAgentStatesByStatus(ctx, models.AgentActive)
	if err != nil {
		return err
	}

	recovered := 0
	for _, state := range states {
		if state.LastAnalysis == nil || len(state.LastAnalysis.Subagents) == 0 {
			continue
		}
		for agentID, taskID := range state.LastAnalysis.Subagents {
			o.subagents.Add(state.AgentID, agentID, taskID)
			recovered++
		}
	}
	if recovered > 0 {
		o.logger.Info("Rebuilt active-subagent registry", "subagents", recovered,
			"masters", len(states))
	}

	// Reconcile: any recovered subagent that already reached a terminal
	// remote status gets its missed event replayed.
	for _, state := range states {
		if state.LastAnalysis == nil {
			continue
		}
		for agentID := range state.LastAnalysis.Subagents {
			agent, err := o.client.GetAgent(ctx, o.cfg.CursorAPIKey, agentID)
			if err != nil {
				o.logger.Warn("Recovery could not fetch subagent status",
					"agent_id", agentID, "error", err)
				continue
			}
			if agent.Status != models.RemoteStatusFinished && agent.Status != models.RemoteStatusError {
				continue
			}
			event := &models.StatusChangeEvent{
				Event:   "statusChange",
				ID:      agentID,
				Status:  agent.Status,
				Summary: agent.Summary,
			}
			if agent.Target != nil {
				event.Target = &models.StatusChangeTarget{
					BranchName: agent.Target.BranchName,
					PrURL:      agent.Target.PrURL,
					URL:        agent.Target.URL,
				}
			}
			if err := o.ExecuteStatusChange(ctx, event); err != nil {
				o.logger.Warn("Recovery replay failed", "agent_id", agentID, "error", err)
			}
		}
	}
	return nil
}
