// Package heartbeat writes periodic liveness records with process and queue
// diagnostics, so operators can tell a stalled worker from a quiet one.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/codeready-toolchain/conductor/pkg/broker"
	"github.com/codeready-toolchain/conductor/pkg/models"
	"github.com/codeready-toolchain/conductor/pkg/store"
)

// retention is how long heartbeat rows are kept before pruning.
const retention = 24 * time.Hour

// serviceName identifies this worker's rows in service_health_events.
const serviceName = "conductor"

// Heartbeat is the periodic diagnostics writer.
type Heartbeat struct {
	store    *store.Store
	broker   *broker.Broker // nil when the broker path is disabled
	interval time.Duration
	workerID string
	started  time.Time
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a heartbeat writer.
func New(st *store.Store, b *broker.Broker, interval time.Duration) *Heartbeat {
	host, _ := os.Hostname()
	return &Heartbeat{
		store:    st,
		broker:   b,
		interval: interval,
		workerID: host,
		started:  time.Now(),
		logger:   slog.Default().With("component", "heartbeat"),
	}
}

// Start launches the ticker loop.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.beat(ctx)
			}
		}
	}()
	h.logger.Info("Heartbeat started", "interval", h.interval)
}

// Stop halts the loop.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// beat writes one diagnostics row and opportunistically prunes old ones.
func (h *Heartbeat) beat(ctx context.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	payload := map[string]any{
		"worker_id":      h.workerID,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"heap_bytes":     mem.HeapAlloc,
	}
	if pending, err := h.store.CountOutboxJobsByStatus(ctx, models.OutboxPending); err == nil {
		payload["outbox_pending"] = pending
	}
	if h.broker != nil {
		if stats, err := h.broker.Stats(ctx); err == nil {
			payload["broker"] = stats
		}
	}

	if err := h.store.RecordServiceHealth(ctx, serviceName, "healthy", "", payload); err != nil {
		h.logger.Warn("Failed to record heartbeat", "error", err)
		return
	}
	if _, err := h.store.PruneServiceHealth(ctx, retention); err != nil {
		h.logger.Warn("Failed to prune heartbeat rows", "error", err)
	}
}
