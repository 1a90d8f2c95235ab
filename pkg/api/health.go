package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/conductor/pkg/database"
	"github.com/codeready-toolchain/conductor/pkg/models"
)

// handleHealth reports database health, pool statistics, and queue depths.
func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	dbHealth, dbErr := database.Health(ctx, s.db)

	body := gin.H{
		"status":   "healthy",
		"database": dbHealth,
	}

	if pending, err := s.store.CountOutboxJobsByStatus(ctx, models.OutboxPending); err == nil {
		body["outbox_pending"] = pending
	}
	if processing, err := s.store.CountOutboxJobsByStatus(ctx, models.OutboxProcessing); err == nil {
		body["outbox_processing"] = processing
	}
	if s.broker != nil {
		if stats, err := s.broker.Stats(ctx); err == nil {
			body["broker"] = stats
		}
	}

	status := http.StatusOK
	if dbErr != nil {
		body["status"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}
