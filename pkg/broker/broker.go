// Package broker is the optional Redis-backed job queue used to decouple
// webhook receipt from webhook processing. The broker is best-effort: when
// Redis is absent or unreachable the gateway processes webhooks inline, and
// the durable outbox remains the source of truth for orchestration starts.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/conductor/pkg/config"
)

// Redis keys. All live under a single prefix so one instance can be shared.
const (
	keyJobs      = "conductor:jobs"      // ready list, LPUSH/BRPOP
	keyDelayed   = "conductor:delayed"   // retry zset scored by ready-at unix
	keyCompleted = "conductor:completed" // recent successes, capped
	keyFailed    = "conductor:failed"    // dead letters, capped

	keepCompleted = 100
	keepFailed    = 1000

	maxAttempts = 3
	backoffBase = 5 * time.Second
)

// Job is the queued unit of work.
type Job struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	OrchestrationID string          `json:"orchestration_id,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	Attempts        int             `json:"attempts"`
	EnqueuedAt      time.Time       `json:"enqueued_at"`
	LastError       string          `json:"last_error,omitempty"`
}

// Broker wraps the Redis connection.
type Broker struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// Connect opens the Redis connection and verifies it with a PING. Returns
// (nil, nil) when no address is configured; callers treat a nil broker as
// "process inline".
func Connect(ctx context.Context, cfg *config.BrokerConfig) (*Broker, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Broker{
		rdb:    rdb,
		logger: slog.Default().With("component", "broker"),
	}, nil
}

// Close releases the Redis connection. Safe on a nil broker.
func (b *Broker) Close() error {
	if b == nil {
		return nil
	}
	return b.rdb.Close()
}

// Enqueue pushes a job onto the ready list. orchestrationID may be empty for
// job types that resolve their target from the payload.
func (b *Broker) Enqueue(ctx context.Context, jobType, orchestrationID string, payload any) error {
	if b == nil {
		return fmt.Errorf("broker not configured")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}
	job := Job{
		ID:              uuid.New().String(),
		Type:            jobType,
		OrchestrationID: orchestrationID,
		Payload:         raw,
		EnqueuedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := b.rdb.LPush(ctx, keyJobs, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	b.logger.Debug("Job enqueued", "job_id", job.ID, "type", jobType)
	return nil
}

// pop blocks for up to timeout waiting for a ready job.
func (b *Broker) pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := b.rdb.BRPop(ctx, timeout, keyJobs).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("corrupt job payload: %w", err)
	}
	return &job, nil
}

// retryLater schedules the job for another attempt with exponential backoff,
// or dead-letters it once the attempt ceiling is reached.
func (b *Broker) retryLater(ctx context.Context, job *Job, cause error) error {
	job.Attempts++
	job.LastError = cause.Error()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if job.Attempts >= maxAttempts {
		pipe := b.rdb.TxPipeline()
		pipe.LPush(ctx, keyFailed, data)
		pipe.LTrim(ctx, keyFailed, 0, keepFailed-1)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to dead-letter job: %w", err)
		}
		b.logger.Error("Job dead-lettered",
			"job_id", job.ID, "type", job.Type, "attempts", job.Attempts, "error", cause)
		return nil
	}

	delay := backoffBase * time.Duration(1<<(job.Attempts-1))
	readyAt := time.Now().Add(delay)
	if err := b.rdb.ZAdd(ctx, keyDelayed, redis.Z{
		Score:  float64(readyAt.Unix()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	b.logger.Warn("Job scheduled for retry",
		"job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "delay", delay, "error", cause)
	return nil
}

// markCompleted records a success in the capped completed list.
func (b *Broker) markCompleted(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		return
	}
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, keyCompleted, data)
	pipe.LTrim(ctx, keyCompleted, 0, keepCompleted-1)
	if _, err := pipe.Exec(ctx); err != nil {
		b.logger.Warn("Failed to record completed job", "job_id", job.ID, "error", err)
	}
}

// promoteDelayed moves due entries from the delayed zset back to the ready
// list. Entries are removed individually so two instances promoting at once
// cannot duplicate a job.
func (b *Broker) promoteDelayed(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().Unix())
	members, err := b.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, m := range members {
		removed, err := b.rdb.ZRem(ctx, keyDelayed, m).Result()
		if err != nil {
			return fmt.Errorf("failed to remove delayed job: %w", err)
		}
		if removed == 0 {
			continue // another instance won the race
		}
		if err := b.rdb.LPush(ctx, keyJobs, m).Err(); err != nil {
			return fmt.Errorf("failed to promote delayed job: %w", err)
		}
	}
	return nil
}

// Stats returns queue depths for the health endpoint.
func (b *Broker) Stats(ctx context.Context) (map[string]int64, error) {
	if b == nil {
		return nil, nil
	}
	pipe := b.rdb.Pipeline()
	ready := pipe.LLen(ctx, keyJobs)
	delayed := pipe.ZCard(ctx, keyDelayed)
	failed := pipe.LLen(ctx, keyFailed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return map[string]int64{
		"ready":   ready.Val(),
		"delayed": delayed.Val(),
		"failed":  failed.Val(),
	}, nil
}
