package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

const agentStateColumns = `id, agent_id, task_description, repository, branch_name, iterations,
	status, tasks_completed, tasks_remaining, last_analysis, created_at, updated_at`

// CreateAgentState inserts the coordination record for a new agent.
func (s *Store) CreateAgentState(ctx context.Context, st *models.AgentState) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	completed, err := marshalJSON(emptyIfNil(st.TasksCompleted))
	if err != nil {
		return err
	}
	remaining, err := marshalJSON(emptyIfNil(st.TasksRemaining))
	if err != nil {
		return err
	}
	analysis, err := marshalJSON(st.LastAnalysis)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_orchestrator_states
			(id, agent_id, task_description, repository, branch_name, iterations,
			 status, tasks_completed, tasks_remaining, last_analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		st.ID, st.AgentID, st.TaskDescription, st.Repository, nullString(st.BranchName),
		st.Iterations, string(st.Status), completed, remaining, analysis)
	if err != nil {
		return fmt.Errorf("failed to create agent state: %w", err)
	}
	return nil
}

// GetAgentState retrieves a state by agent id.
func (s *Store) GetAgentState(ctx context.Context, agentID string) (*models.AgentState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentStateColumns+` FROM agent_orchestrator_states WHERE agent_id = $1`,
		agentID)
	return scanAgentState(row)
}

// UpdateAgentState persists a full read-modify-write of the mutable fields.
// Callers hold the per-agent lock for the duration of the reducer step, so
// the write itself needs no optimistic check.
func (s *Store) UpdateAgentState(ctx context.Context, st *models.AgentState) error {
	completed, err := marshalJSON(emptyIfNil(st.TasksCompleted))
	if err != nil {
		return err
	}
	remaining, err := marshalJSON(emptyIfNil(st.TasksRemaining))
	if err != nil {
		return err
	}
	analysis, err := marshalJSON(st.LastAnalysis)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_orchestrator_states
		SET task_description = $2, repository = $3, branch_name = $4, iterations = $5,
		    status = $6, tasks_completed = $7, tasks_remaining = $8, last_analysis = $9,
		    updated_at = now()
		WHERE agent_id = $1`,
		st.AgentID, st.TaskDescription, st.Repository, nullString(st.BranchName),
		st.Iterations, string(st.Status), completed, remaining, analysis)
	if err != nil {
		return fmt.Errorf("failed to update agent state: %w", err)
	}
	return requireOneRow(res, "agent state", st.AgentID)
}

// SetAgentStatus updates only the status column.
func (s *Store) SetAgentStatus(ctx context.Context, agentID string, status models.AgentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_orchestrator_states
		SET status = $2, updated_at = now()
		WHERE agent_id = $1`,
		agentID, string(status))
	if err != nil {
		return fmt.Errorf("failed to set agent status: %w", err)
	}
	return requireOneRow(res, "agent state", agentID)
}

// FindMasterBySubagent performs the reverse lookup: which ACTIVE master
// currently lists agentID among its dispatched subagents. Returns
// ErrNotFound when the agent is not a subagent of anyone.
func (s *Store) FindMasterBySubagent(ctx context.Context, agentID string) (*models.AgentState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+agentStateColumns+`
		FROM agent_orchestrator_states
		WHERE status = $1 AND last_analysis -> 'subagents' ? $2
		LIMIT 1`,
		string(models.AgentActive), agentID)
	return scanAgentState(row)
}

// ListAgentStatesByStatus returns all states in the given status.
func (s *Store) ListAgentStatesByStatus(ctx context.Context, status models.AgentStatus) ([]*models.AgentState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentStateColumns+` FROM agent_orchestrator_states WHERE status = $1`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query agent states: %w", err)
	}
	defer rows.Close()

	var states []*models.AgentState
	for rows.Next() {
		st, err := scanAgentState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// ListStuckAgentStates returns ACTIVE states whose last update is older than
// the timeout, for the reaper.
func (s *Store) ListStuckAgentStates(ctx context.Context, olderThan time.Duration) ([]*models.AgentState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentStateColumns+`
		FROM agent_orchestrator_states
		WHERE status = $1 AND updated_at < $2`,
		string(models.AgentActive), time.Now().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck agent states: %w", err)
	}
	defer rows.Close()

	var states []*models.AgentState
	for rows.Next() {
		st, err := scanAgentState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

func emptyIfNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func scanAgentState(row rowScanner) (*models.AgentState, error) {
	var (
		st        models.AgentState
		branch    sql.NullString
		status    string
		completed []byte
		remaining []byte
		analysis  []byte
	)
	err := row.Scan(&st.ID, &st.AgentID, &st.TaskDescription, &st.Repository, &branch,
		&st.Iterations, &status, &completed, &remaining, &analysis,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan agent state: %w", err)
	}
	st.BranchName = stringPtr(branch)
	st.Status = models.AgentStatus(status)
	if err := unmarshalJSON(completed, &st.TasksCompleted); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(remaining, &st.TasksRemaining); err != nil {
		return nil, err
	}
	if len(analysis) > 0 {
		st.LastAnalysis = &models.LastAnalysis{}
		if err := unmarshalJSON(analysis, st.LastAnalysis); err != nil {
			return nil, err
		}
	}
	return &st, nil
}
