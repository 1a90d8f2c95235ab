package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one job. A returned error triggers the retry path.
type Handler func(ctx context.Context, job *Job) error

const (
	popTimeout      = 2 * time.Second
	promoteInterval = 1 * time.Second
)

// Worker consumes broker jobs with a fixed pool of goroutines and a
// background loop promoting delayed retries.
type Worker struct {
	broker      *Broker
	handlers    map[string]Handler
	concurrency int
	logger      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker builds a worker pool over the broker. Returns nil when the broker
// is nil so callers can treat the whole path as disabled.
func NewWorker(b *Broker, concurrency int, handlers map[string]Handler) *Worker {
	if b == nil {
		return nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		broker:      b,
		handlers:    handlers,
		concurrency: concurrency,
		logger:      slog.Default().With("component", "broker-worker"),
	}
}

// Start launches the consumer goroutines. Safe on a nil worker.
func (w *Worker) Start(ctx context.Context) {
	if w == nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.consume(ctx, i)
	}

	w.wg.Add(1)
	go w.promoteLoop(ctx)

	w.logger.Info("Broker worker started", "concurrency", w.concurrency)
}

// Stop cancels consumption and waits for in-flight jobs. Safe on nil.
func (w *Worker) Stop() {
	if w == nil {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Broker worker stopped")
}

func (w *Worker) consume(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.broker.pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to pop job", "worker", id, "error", err)
			time.Sleep(popTimeout)
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	handler, ok := w.handlers[job.Type]
	if !ok {
		w.logger.Error("No handler for job type, dead-lettering",
			"job_id", job.ID, "type", job.Type)
		// Push straight past the retry ceiling.
		job.Attempts = maxAttempts - 1
		_ = w.broker.retryLater(ctx, job, errUnknownJobType(job.Type))
		return
	}

	if err := handler(ctx, job); err != nil {
		if rerr := w.broker.retryLater(ctx, job, err); rerr != nil {
			w.logger.Error("Failed to schedule job retry",
				"job_id", job.ID, "error", rerr, "cause", err)
		}
		return
	}
	w.broker.markCompleted(ctx, job)
}

func (w *Worker) promoteLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.broker.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Failed to promote delayed jobs", "error", err)
			}
		}
	}
}

type errUnknownJobType string

func (e errUnknownJobType) Error() string {
	return "no handler registered for job type " + string(e)
}
