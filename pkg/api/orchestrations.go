package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/conductor/pkg/models"
	"github.com/codeready-toolchain/conductor/pkg/store"
)

// createOrchestrationRequest mirrors the start-orchestration payload.
type createOrchestrationRequest struct {
	Prompt     string         `json:"prompt" binding:"required"`
	Repository string         `json:"repository" binding:"required"`
	Ref        string         `json:"ref"`
	Model      *string        `json:"model"`
	APIKey     string         `json:"apiKey"`
	Options    models.Options `json:"options"`
}

// handleCreateOrchestration records a queued orchestration and its durable
// kickoff job. Execution belongs to the outbox processor.
func (s *Server) handleCreateOrchestration(c *gin.Context) {
	var req createOrchestrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorBody(c, http.StatusBadRequest, "invalid request: %v", err)
		return
	}
	if req.Options.Mode != "" && !req.Options.Mode.Valid() {
		errorBody(c, http.StatusBadRequest, "invalid mode %q", req.Options.Mode)
		return
	}
	if req.Ref == "" {
		req.Ref = "main"
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = s.cfg.CursorAPIKey
	}

	mode := req.Options.Mode
	if mode == "" {
		mode = models.ModeAuto
	}
	orch := &models.Orchestration{
		ID:            uuid.New().String(),
		RepositoryURL: req.Repository,
		Prompt:        req.Prompt,
		Ref:           req.Ref,
		Model:         req.Model,
		Mode:          mode,
		Status:        models.OrchestrationQueued,
		Options:       req.Options,
	}
	ctx := c.Request.Context()
	if err := s.store.CreateOrchestration(ctx, orch); err != nil {
		errorBody(c, http.StatusInternalServerError, "failed to create orchestration")
		s.logger.Error("Failed to create orchestration", "error", err)
		return
	}

	payload := models.StartOrchestrationPayload{
		Version:    1,
		Prompt:     req.Prompt,
		Repository: req.Repository,
		Ref:        req.Ref,
		Model:      req.Model,
		APIKey:     apiKey,
		Options:    req.Options,
	}
	if _, err := s.store.EnqueueOutboxJob(ctx, orch.ID, models.JobTypeStartOrchestration,
		payload, s.cfg.Outbox.MaxAttempts); err != nil {
		errorBody(c, http.StatusInternalServerError, "failed to enqueue kickoff job")
		s.logger.Error("Failed to enqueue kickoff job", "orchestration_id", orch.ID, "error", err)
		return
	}

	c.JSON(http.StatusCreated, orch)
}

// handleGetOrchestration returns one orchestration row.
func (s *Server) handleGetOrchestration(c *gin.Context) {
	orch, err := s.store.GetOrchestration(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			errorBody(c, http.StatusNotFound, "orchestration not found")
			return
		}
		errorBody(c, http.StatusInternalServerError, "failed to load orchestration")
		return
	}
	c.JSON(http.StatusOK, orch)
}

// handleListEvents returns the orchestration's event log.
func (s *Server) handleListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	events, err := s.store.ListEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		errorBody(c, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleRetryOrchestration is the fix-and-retry administrative path: only an
// orchestration in error may be reset to queued, with its model revalidated
// and a fresh outbox job enqueued. The event trail is preserved.
func (s *Server) handleRetryOrchestration(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	orch, err := s.store.GetOrchestration(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			errorBody(c, http.StatusNotFound, "orchestration not found")
			return
		}
		errorBody(c, http.StatusInternalServerError, "failed to load orchestration")
		return
	}
	if orch.Status != models.OrchestrationError {
		errorBody(c, http.StatusConflict, "only orchestrations in error may be retried (current: %s)", orch.Status)
		return
	}

	requested := ""
	if orch.Model != nil {
		requested = *orch.Model
	}
	res := s.resolver.Resolve(ctx, s.cfg.CursorAPIKey, requested)
	if res.Warning != "" {
		s.store.LogEvent(ctx, id, models.EventWarn, models.StepModelResolved, res.Warning, nil)
	}

	if err := s.store.ResetOrchestrationForRetry(ctx, id); err != nil {
		if errors.Is(err, store.ErrConflict) {
			errorBody(c, http.StatusConflict, "orchestration is no longer in error")
			return
		}
		errorBody(c, http.StatusInternalServerError, "failed to reset orchestration")
		return
	}

	payload := models.StartOrchestrationPayload{
		Version:    1,
		Prompt:     orch.Prompt,
		Repository: orch.RepositoryURL,
		Ref:        orch.Ref,
		Model:      res.Model,
		APIKey:     s.cfg.CursorAPIKey,
		Options:    orch.Options,
	}
	if _, err := s.store.EnqueueOutboxJob(ctx, id, models.JobTypeStartOrchestration,
		payload, s.cfg.Outbox.MaxAttempts); err != nil {
		errorBody(c, http.StatusInternalServerError, "failed to enqueue retry job")
		return
	}
	s.store.LogEvent(ctx, id, models.EventInfo, models.StepRetryRequested,
		"Orchestration reset to queued for retry", nil)

	c.JSON(http.StatusAccepted, gin.H{"ok": true, "status": models.OrchestrationQueued})
}
