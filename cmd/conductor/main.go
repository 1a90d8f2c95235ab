// Conductor orchestration worker: runs the webhook gateway, the durable
// outbox processor, the optional broker worker, and the agent reducer loop.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/conductor/pkg/analyzer"
	"github.com/codeready-toolchain/conductor/pkg/api"
	"github.com/codeready-toolchain/conductor/pkg/broker"
	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/cursor"
	"github.com/codeready-toolchain/conductor/pkg/database"
	"github.com/codeready-toolchain/conductor/pkg/heartbeat"
	"github.com/codeready-toolchain/conductor/pkg/llm"
	"github.com/codeready-toolchain/conductor/pkg/models"
	"github.com/codeready-toolchain/conductor/pkg/notify"
	"github.com/codeready-toolchain/conductor/pkg/orchestrator"
	"github.com/codeready-toolchain/conductor/pkg/outbox"
	"github.com/codeready-toolchain/conductor/pkg/planner"
	"github.com/codeready-toolchain/conductor/pkg/store"
	"github.com/codeready-toolchain/conductor/pkg/tester"
	"github.com/codeready-toolchain/conductor/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment")
	}

	slog.Info("Starting conductor", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	st := store.New(dbClient.DB())
	slog.Info("Connected to PostgreSQL database")

	// 3. Optional broker
	b, err := broker.Connect(ctx, cfg.Broker)
	if err != nil {
		slog.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	if b != nil {
		defer b.Close()
		slog.Info("Broker connected", "addr", cfg.Broker.Addr)
	} else {
		slog.Info("No broker configured, webhook processing runs inline")
	}

	// 4. External clients
	agentClient := cursor.NewClient()
	validator := cursor.NewModelValidator(agentClient)
	llmClient := llm.NewClient(cfg.LLM)
	if llmClient == nil {
		slog.Warn("No LLM configured, analyzer and planner run rule-based only")
	}

	// 5. Orchestrator and its loops
	localTester := tester.NewFromConfig(cfg.Tester)
	if localTester == nil {
		slog.Info("Local tester disabled, TEST decisions delegate to the agent")
	}
	orch := orchestrator.New(
		st, agentClient, validator,
		analyzer.New(llmClient), planner.New(llmClient),
		localTester,
		notify.New(cfg.Slack),
		cfg,
	)
	if err := orch.Recover(ctx); err != nil {
		slog.Error("Startup recovery failed", "error", err)
		// Non-fatal: webhooks and the reaper converge on the same state.
	}

	processor := outbox.NewProcessor(st, orch, cfg.Outbox)
	processor.Start(ctx)

	reaper := orchestrator.NewReaper(orch)
	reaper.Start(ctx)

	var brokerWorker *broker.Worker
	if b != nil {
		brokerWorker = broker.NewWorker(b, cfg.Broker.Concurrency, map[string]broker.Handler{
			models.JobTypeProcessWebhook: func(ctx context.Context, job *broker.Job) error {
				var payload models.ProcessWebhookPayload
				if err := json.Unmarshal(job.Payload, &payload); err != nil {
					return err
				}
				return orch.ExecuteStatusChange(ctx, &payload.Event)
			},
			models.JobTypeStartOrchestration: func(ctx context.Context, job *broker.Job) error {
				payload, err := models.DecodeStartOrchestration(job.Payload)
				if err != nil {
					return err
				}
				return orch.ExecuteStart(ctx, job.OrchestrationID, payload)
			},
		})
		brokerWorker.Start(ctx)
	}

	hb := heartbeat.New(st, b, cfg.HeartbeatInterval)
	hb.Start(ctx)

	// 6. HTTP server
	server := api.NewServer(st, dbClient.DB(), b, orch, validator, cfg)
	server.Start()

	slog.Info("Conductor started", "http_port", cfg.HTTPPort)

	// 7. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 8. Graceful shutdown: stop intake first, then drain the workers.
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		hb.Stop()
		reaper.Stop()
		brokerWorker.Stop()
		processor.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Workers stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded; in-flight jobs will be recovered by the stale takeback")
	}

	slog.Info("Shutdown complete")
}
