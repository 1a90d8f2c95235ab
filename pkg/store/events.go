package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

// AppendEvent writes one audit record. The event log is append-only; rows
// are never modified.
func (s *Store) AppendEvent(ctx context.Context, e *models.Event) error {
	var payload any
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestration_events
			(orchestration_id, level, step_key, step_phase, message, payload)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		e.OrchestrationID, string(e.Level), e.StepKey, string(e.StepPhase),
		e.Message, payload)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// LogEvent appends an event and swallows persistence failures with a warning.
// Audit writes must never fail the operation they describe.
func (s *Store) LogEvent(ctx context.Context, orchestrationID string, level models.EventLevel, stepKey, message string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			slog.Warn("Failed to marshal event payload",
				"orchestration_id", orchestrationID, "step_key", stepKey, "error", err)
		} else {
			raw = b
		}
	}
	err := s.AppendEvent(ctx, &models.Event{
		OrchestrationID: orchestrationID,
		Level:           level,
		StepKey:         stepKey,
		Message:         message,
		Payload:         raw,
	})
	if err != nil {
		slog.Warn("Failed to append orchestration event",
			"orchestration_id", orchestrationID, "step_key", stepKey, "error", err)
	}
}

// ListEvents returns the event log for an orchestration ordered by
// created_at, then insertion order.
func (s *Store) ListEvents(ctx context.Context, orchestrationID string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, orchestration_id, level, step_key, COALESCE(step_phase, ''),
		       message, payload, created_at
		FROM orchestration_events
		WHERE orchestration_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`,
		orchestrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			e       models.Event
			level   string
			phase   string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.OrchestrationID, &level, &e.StepKey, &phase,
			&e.Message, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Level = models.EventLevel(level)
		e.StepPhase = models.StepPhase(phase)
		e.Payload = payload
		events = append(events, &e)
	}
	return events, rows.Err()
}
