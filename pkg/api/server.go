// Package api exposes the HTTP surface: the webhook gateway, orchestration
// endpoints, and health.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/conductor/pkg/broker"
	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/orchestrator"
	"github.com/codeready-toolchain/conductor/pkg/store"
)

// Server hosts the gin router and its dependencies.
type Server struct {
	store    *store.Store
	db       *sql.DB
	broker   *broker.Broker // nil disables the broker path
	orch     *orchestrator.Orchestrator
	resolver orchestrator.ModelResolver
	cfg      *config.Config
	logger   *slog.Logger

	http *http.Server
}

// NewServer wires the router.
func NewServer(st *store.Store, db *sql.DB, b *broker.Broker, orch *orchestrator.Orchestrator, resolver orchestrator.ModelResolver, cfg *config.Config) *Server {
	s := &Server{
		store:    st,
		db:       db,
		broker:   b,
		orch:     orch,
		resolver: resolver,
		cfg:      cfg,
		logger:   slog.Default().With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(securityHeaders())

	router.POST("/webhooks/cursor", s.handleWebhook)
	router.GET("/health", s.handleHealth)

	router.POST("/orchestrations", s.handleCreateOrchestration)
	router.GET("/orchestrations/:id", s.handleGetOrchestration)
	router.GET("/orchestrations/:id/events", s.handleListEvents)
	router.POST("/orchestrations/:id/retry", s.handleRetryOrchestration)

	s.http = &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "error", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// securityHeaders sets the standard response headers on every route.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// errorBody renders a uniform error response.
func errorBody(c *gin.Context, status int, format string, args ...any) {
	c.JSON(status, gin.H{"error": fmt.Sprintf(format, args...)})
}
