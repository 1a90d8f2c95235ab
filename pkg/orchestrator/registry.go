package orchestrator

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

// subagentRegistry tracks dispatched subagents per master in memory. The
// durable completed-task list in the agent state is authoritative; this set
// exists for dispatch decisions and is rebuilt from last_analysis on startup.
type subagentRegistry struct {
	mu       sync.Mutex
	byMaster map[string]map[string]models.ActiveSubagent // master -> agent_id -> record
}

func newSubagentRegistry() *subagentRegistry {
	return &subagentRegistry{
		byMaster: make(map[string]map[string]models.ActiveSubagent),
	}
}

// Add registers a dispatched subagent under its master.
func (r *subagentRegistry) Add(masterID, agentID, taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byMaster[masterID]
	if !ok {
		set = make(map[string]models.ActiveSubagent)
		r.byMaster[masterID] = set
	}
	set[agentID] = models.ActiveSubagent{
		TaskID:    taskID,
		AgentID:   agentID,
		StartedAt: time.Now(),
	}
}

// Remove drops a subagent from its master's active set.
func (r *subagentRegistry) Remove(masterID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.byMaster[masterID]; ok {
		delete(set, agentID)
		if len(set) == 0 {
			delete(r.byMaster, masterID)
		}
	}
}

// Count returns the number of active subagents for a master.
func (r *subagentRegistry) Count(masterID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byMaster[masterID])
}

// RunningTasks returns the task ids currently being worked for a master.
func (r *subagentRegistry) RunningTasks(masterID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var tasks []string
	for _, sub := range r.byMaster[masterID] {
		tasks = append(tasks, sub.TaskID)
	}
	return tasks
}

// Clear drops all records for a master (terminal transitions).
func (r *subagentRegistry) Clear(masterID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byMaster, masterID)
}
