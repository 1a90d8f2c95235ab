package models

// Remote agent statuses reported by the Cloud Agent service. Only FINISHED
// and ERROR drive the orchestration loop; everything else is logged and
// acknowledged.
const (
	RemoteStatusFinished = "FINISHED"
	RemoteStatusError    = "ERROR"
	RemoteStatusExpired  = "EXPIRED"
	RemoteStatusRunning  = "RUNNING"
)

// StatusChangeSource identifies the repository an agent was launched against.
type StatusChangeSource struct {
	Repository string `json:"repository,omitempty"`
	Ref        string `json:"ref,omitempty"`
}

// StatusChangeTarget carries the agent's output references.
type StatusChangeTarget struct {
	URL        string `json:"url,omitempty"`
	BranchName string `json:"branchName,omitempty"`
	PrURL      string `json:"prUrl,omitempty"`
}

// StatusChangeEvent is the webhook body posted by the Cloud Agent service on
// every agent status transition.
type StatusChangeEvent struct {
	Event   string              `json:"event"` // "statusChange"
	ID      string              `json:"id"`    // agent id
	Status  string              `json:"status"`
	Source  *StatusChangeSource `json:"source,omitempty"`
	Target  *StatusChangeTarget `json:"target,omitempty"`
	Summary string              `json:"summary,omitempty"`
}

// Actionable reports whether the event should reach the orchestrator.
func (e *StatusChangeEvent) Actionable() bool {
	return e.Status == RemoteStatusFinished || e.Status == RemoteStatusError
}
