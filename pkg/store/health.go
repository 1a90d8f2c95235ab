package store

import (
	"context"
	"fmt"
	"time"
)

// HealthRecord is one periodic liveness row written by the heartbeat loop.
type HealthRecord struct {
	ID        int64     `json:"id"`
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordServiceHealth appends a heartbeat row.
func (s *Store) RecordServiceHealth(ctx context.Context, service, status, message string, payload any) error {
	raw, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_health_events (service, status, message, payload)
		VALUES ($1, $2, $3, $4)`,
		service, status, message, raw)
	if err != nil {
		return fmt.Errorf("failed to record service health: %w", err)
	}
	return nil
}

// PruneServiceHealth deletes heartbeat rows older than the retention window.
func (s *Store) PruneServiceHealth(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM service_health_events WHERE created_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune service health events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}
