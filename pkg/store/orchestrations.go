package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

const orchestrationColumns = `id, master_agent_id, repository_url, prompt, prompt_length, ref, model,
	mode, status, tasks_total, tasks_completed, active_agents, metadata, options,
	error_code, error_message, error_summary, created_at, started_at, updated_at`

// CreateOrchestration inserts a new orchestration in queued status.
func (s *Store) CreateOrchestration(ctx context.Context, o *models.Orchestration) error {
	metadata, err := marshalJSON(o.Metadata)
	if err != nil {
		return err
	}
	options, err := marshalJSON(o.Options)
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestrations
			(id, repository_url, prompt, prompt_length, ref, model, mode, status,
			 metadata, options, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		o.ID, o.RepositoryURL, o.Prompt, len(o.Prompt), o.Ref, nullString(o.Model),
		string(o.Mode), string(o.Status), metadata, options, now)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create orchestration: %w", err)
	}
	return nil
}

// GetOrchestration retrieves an orchestration by id.
func (s *Store) GetOrchestration(ctx context.Context, id string) (*models.Orchestration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orchestrationColumns+` FROM orchestrations WHERE id = $1`, id)
	return scanOrchestration(row)
}

// MarkOrchestrationRunning transitions queued -> running and stamps started_at.
func (s *Store) MarkOrchestrationRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET status = $2, started_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, string(models.OrchestrationRunning), string(models.OrchestrationQueued))
	if err != nil {
		return fmt.Errorf("failed to mark orchestration running: %w", err)
	}
	return requireOneRow(res, "orchestration", id)
}

// RecordOrchestrationStarted stores the master agent id, frozen plan, and
// task total once the dispatcher has launched the initial agents.
func (s *Store) RecordOrchestrationStarted(ctx context.Context, id, masterAgentID string, plan *models.TaskPlan, tasksTotal int) error {
	metadata, err := marshalJSON(map[string]any{"plan": plan})
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET master_agent_id = $2, metadata = $3, tasks_total = $4, updated_at = now()
		WHERE id = $1`,
		id, masterAgentID, metadata, tasksTotal)
	if err != nil {
		return fmt.Errorf("failed to record orchestration start: %w", err)
	}
	return requireOneRow(res, "orchestration", id)
}

// UpdateOrchestrationProgress refreshes the task counters.
func (s *Store) UpdateOrchestrationProgress(ctx context.Context, id string, tasksCompleted, activeAgents int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET tasks_completed = $2, active_agents = $3, updated_at = now()
		WHERE id = $1`,
		id, tasksCompleted, activeAgents)
	if err != nil {
		return fmt.Errorf("failed to update orchestration progress: %w", err)
	}
	return nil
}

// SetOrchestrationStatus moves the orchestration into a (usually terminal)
// status without touching error fields.
func (s *Store) SetOrchestrationStatus(ctx context.Context, id string, status models.OrchestrationStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set orchestration status: %w", err)
	}
	return requireOneRow(res, "orchestration", id)
}

// FailOrchestration records a terminal error with its stable code and summary.
func (s *Store) FailOrchestration(ctx context.Context, id, code, message, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET status = $2, error_code = $3, error_message = $4, error_summary = $5, updated_at = now()
		WHERE id = $1`,
		id, string(models.OrchestrationError), code, message, summary)
	if err != nil {
		return fmt.Errorf("failed to fail orchestration: %w", err)
	}
	return requireOneRow(res, "orchestration", id)
}

// TimeoutOrchestration records the distinct timeout terminal status. The
// error code stays NULL; that column belongs to status=error only.
func (s *Store) TimeoutOrchestration(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET status = $2, error_code = NULL, error_message = $3, error_summary = NULL,
		    updated_at = now()
		WHERE id = $1`,
		id, string(models.OrchestrationTimeout), message)
	if err != nil {
		return fmt.Errorf("failed to time out orchestration: %w", err)
	}
	return requireOneRow(res, "orchestration", id)
}

// ResetOrchestrationForRetry implements the fix-and-retry administrative path:
// only an orchestration in error may return to queued. Error fields are
// cleared; the event trail is preserved by design.
func (s *Store) ResetOrchestrationForRetry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations
		SET status = $2, error_code = NULL, error_message = NULL, error_summary = NULL,
		    master_agent_id = NULL, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, string(models.OrchestrationQueued), string(models.OrchestrationError))
	if err != nil {
		return fmt.Errorf("failed to reset orchestration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// CountOrchestrationsByStatus returns the number of orchestrations in the
// given status, used for queue-depth diagnostics.
func (s *Store) CountOrchestrationsByStatus(ctx context.Context, status models.OrchestrationStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM orchestrations WHERE status = $1`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orchestrations: %w", err)
	}
	return n, nil
}

func requireOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrchestration(row rowScanner) (*models.Orchestration, error) {
	var (
		o         models.Orchestration
		masterID  sql.NullString
		model     sql.NullString
		mode      string
		status    string
		metadata  []byte
		options   []byte
		errCode   sql.NullString
		errMsg    sql.NullString
		errSum    sql.NullString
		startedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &masterID, &o.RepositoryURL, &o.Prompt, &o.PromptLength,
		&o.Ref, &model, &mode, &status, &o.TasksTotal, &o.TasksComplete,
		&o.ActiveAgents, &metadata, &options, &errCode, &errMsg, &errSum,
		&o.CreatedAt, &startedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan orchestration: %w", err)
	}

	o.MasterAgentID = stringPtr(masterID)
	o.Model = stringPtr(model)
	o.Mode = models.Mode(mode)
	o.Status = models.OrchestrationStatus(status)
	o.ErrorCode = stringPtr(errCode)
	o.ErrorMessage = stringPtr(errMsg)
	o.ErrorSummary = stringPtr(errSum)
	o.StartedAt = timePtr(startedAt)
	if err := unmarshalJSON(metadata, &o.Metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(options, &o.Options); err != nil {
		return nil, err
	}
	return &o, nil
}
