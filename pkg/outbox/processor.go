// Package outbox runs the durable job processor: a polling claim-and-execute
// loop over the orchestration_outbox_jobs table. The API layer only ever
// writes jobs; this processor is the sole component that executes them, so a
// crashed process loses nothing and a restarted one resumes where it left
// off.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/models"
	"github.com/codeready-toolchain/conductor/pkg/store"
)

// Executor is the orchestration surface the processor drives. Implemented by
// the orchestrator package.
type Executor interface {
	// ExecuteStart launches the orchestration described by the payload.
	ExecuteStart(ctx context.Context, orchestrationID string, payload *models.StartOrchestrationPayload) error
	// ExecuteStatusChange feeds a webhook event through the reducer.
	ExecuteStatusChange(ctx context.Context, event *models.StatusChangeEvent) error
}

// Processor claims due outbox jobs and executes them with bounded
// concurrency.
type Processor struct {
	store    *store.Store
	executor Executor
	cfg      *config.OutboxConfig
	workerID string
	logger   *slog.Logger

	sem    *semaphore.Weighted
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessor builds a processor with a unique worker identity.
func NewProcessor(st *store.Store, executor Executor, cfg *config.OutboxConfig) *Processor {
	host, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.New().String()[:8])

	return &Processor{
		store:    st,
		executor: executor,
		cfg:      cfg,
		workerID: workerID,
		logger:   slog.Default().With("component", "outbox", "worker_id", workerID),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Start launches the polling loop.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Info("Outbox processor started",
		"poll_interval", p.cfg.PollInterval, "batch_size", p.cfg.BatchSize)
}

// Stop halts polling and waits for in-flight jobs to finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("Outbox processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// First sweep immediately so a restart picks up backlog without waiting
	// a full interval.
	p.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep performs one claim cycle: recover stale jobs, select due ones, claim
// each, and dispatch the winners to the pool.
func (p *Processor) sweep(ctx context.Context) {
	if n, err := p.store.TakeBackStaleOutboxJobs(ctx, p.cfg.StaleAfter); err != nil {
		p.logger.Error("Stale job takeback failed", "error", err)
	} else if n > 0 {
		p.logger.Warn("Recovered stale outbox jobs", "count", n)
	}

	jobs, err := p.store.DueOutboxJobs(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("Failed to select due outbox jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if err := p.store.ClaimOutboxJob(ctx, job.ID, p.workerID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue // another worker won
			}
			p.logger.Error("Failed to claim outbox job", "job_id", job.ID, "error", err)
			continue
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return // shutting down; takeback will recover the claim
		}
		p.wg.Add(1)
		go func(job *models.OutboxJob) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.execute(ctx, job)
		}(job)
	}
}

// execute runs one claimed job and settles its outcome.
func (p *Processor) execute(ctx context.Context, job *models.OutboxJob) {
	logger := p.logger.With("job_id", job.ID, "type", job.Type,
		"orchestration_id", job.OrchestrationID, "attempt", job.Attempts+1)
	logger.Info("Executing outbox job")

	err := p.dispatch(ctx, job)
	if err == nil {
		if cerr := p.store.CompleteOutboxJob(ctx, job.ID); cerr != nil {
			logger.Error("Failed to mark job completed", "error", cerr)
		}
		logger.Info("Outbox job completed")
		return
	}

	attempts := job.Attempts + 1
	if IsTerminal(err) || attempts >= job.MaxAttempts {
		p.settleFailure(ctx, job, attempts, err, logger)
		return
	}

	delay := p.retryDelay(attempts)
	if rerr := p.store.RetryOutboxJob(ctx, job.ID, attempts, delay, err.Error()); rerr != nil {
		logger.Error("Failed to requeue job", "error", rerr, "cause", err)
		return
	}
	logger.Warn("Outbox job failed, scheduled retry", "delay", delay, "error", err)
}

// settleFailure marks the job terminal-failed and propagates the failure to
// the owning orchestration so callers see a terminal status, not a silent
// stall.
func (p *Processor) settleFailure(ctx context.Context, job *models.OutboxJob, attempts int, cause error, logger *slog.Logger) {
	if err := p.store.FailOutboxJob(ctx, job.ID, attempts, cause.Error()); err != nil {
		logger.Error("Failed to mark job failed", "error", err, "cause", cause)
	}

	if job.Type == models.JobTypeStartOrchestration && job.OrchestrationID != "" {
		summary := failureSummary(attempts, cause)
		if err := p.store.FailOrchestration(ctx, job.OrchestrationID, failureCode(cause), cause.Error(), summary); err != nil {
			logger.Error("Failed to mark orchestration failed", "error", err)
		}
		p.store.LogEvent(ctx, job.OrchestrationID, models.EventError, models.StepWorkerError,
			summary, nil)
	}
	logger.Error("Outbox job terminally failed", "attempts", attempts, "error", cause)
}

// failureCode maps a terminal cause to its stable error code.
func failureCode(err error) string {
	if code := cursor.ErrorCode(err); code != "" {
		return code
	}
	var te *terminalError
	if errors.As(err, &te) {
		return "VALIDATION_ERROR"
	}
	return "UNKNOWN_ERROR"
}

// failureSummary builds the error_summary column value for a terminally
// failed start job.
func failureSummary(attempts int, cause error) string {
	return fmt.Sprintf("Job failed after %d attempts: %s", attempts, summarize(cause))
}

// summarize caps the raw cause so the summary column stays readable.
func summarize(err error) string {
	s := err.Error()
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// retryDelay computes base * 2^(n-1) for attempt n.
func (p *Processor) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.cfg.BaseRetryDelay * time.Duration(1<<(attempt-1))
}

// dispatch routes a job by type. Unknown types are terminal: retrying cannot
// make a type known.
func (p *Processor) dispatch(ctx context.Context, job *models.OutboxJob) error {
	switch job.Type {
	case models.JobTypeStartOrchestration:
		payload, err := models.DecodeStartOrchestration(job.Payload)
		if err != nil {
			return Terminal(err)
		}
		if err := ValidateStartPayload(payload); err != nil {
			return Terminal(err)
		}
		return p.executor.ExecuteStart(ctx, job.OrchestrationID, payload)

	case models.JobTypeProcessWebhook:
		payload, err := models.DecodeProcessWebhook(job.Payload)
		if err != nil {
			return Terminal(err)
		}
		return p.executor.ExecuteStatusChange(ctx, &payload.Event)

	default:
		return Terminal(fmt.Errorf("unknown outbox job type %q", job.Type))
	}
}
