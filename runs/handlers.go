package runs

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Kenji11/aivideo-sub002/catalog"
	"github.com/Kenji11/aivideo-sub002/pipeline"
	"github.com/Kenji11/aivideo-sub002/videospec"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StageQueue enqueues stage jobs.
type StageQueue interface {
	EnqueueStage(ctx context.Context, runID string, stage pipeline.Stage) error
}

type Handler struct {
	Store   pipeline.Store
	Catalog *catalog.Catalog
	Queue   StageQueue
	logger  *zap.Logger
}

func NewHandler(s pipeline.Store, cat *catalog.Catalog, q StageQueue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: s, Catalog: cat, Queue: q, logger: logger}
}

// RequireUser reads the caller's user id from the X-User-ID header.
// Identity is established upstream of this service.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid X-User-ID"})
			return
		}
		c.Set("user_id", uint(id))
		c.Next()
	}
}

type CreateRunRequest struct {
	Prompt        string `json:"prompt" binding:"required"`
	TotalDuration int    `json:"total_duration" binding:"required,min=1,max=300"`
	BackendID     string `json:"backend_id" binding:"required"`
	// Plan, when given, is used instead of calling the planner.
	Plan *videospec.PlannerOutput `json:"plan"`
}

func (h *Handler) CreateRun(c *gin.Context) {
	userID := c.GetUint("user_id")
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := h.Catalog.Backend(req.BackendID); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown backend_id"})
		return
	}

	run := pipeline.NewRun(userID, req.Prompt, req.TotalDuration, req.BackendID, req.Plan)
	if err := h.Store.CreateRun(c.Request.Context(), run); err != nil {
		h.logger.Error("create run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create run"})
		return
	}
	if err := h.Queue.EnqueueStage(c.Request.Context(), run.ID, run.Stage); err != nil {
		// The stalled-run sweep picks it up later.
		h.logger.Error("queue new run", zap.String("run_id", run.ID), zap.Error(err))
	}
	c.JSON(http.StatusAccepted, run.Snapshot())
}

// load fetches the run and checks it belongs to the caller. It writes the
// error response itself.
func (h *Handler) load(c *gin.Context) (pipeline.Run, bool) {
	run, err := h.Store.GetRun(c.Request.Context(), c.Param("id"))
	if err == nil && run.UserID != c.GetUint("user_id") {
		err = pipeline.ErrRunNotFound
	}
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return pipeline.Run{}, false
	case err != nil:
		h.logger.Error("load run", zap.String("run_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return pipeline.Run{}, false
	}
	return run, true
}

func (h *Handler) GetRun(c *gin.Context) {
	run, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run.Snapshot())
}

func (h *Handler) GetRunChunks(c *gin.Context) {
	run, ok := h.load(c)
	if !ok {
		return
	}
	chunks, err := h.Store.ListChunks(c.Request.Context(), run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve chunks"})
		return
	}
	c.JSON(http.StatusOK, chunks)
}

// CancelRun flags the run; the worker stops it at the next stage boundary.
func (h *Handler) CancelRun(c *gin.Context) {
	run, ok := h.load(c)
	if !ok {
		return
	}
	if run.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "Run already " + string(run.Status)})
		return
	}
	if err := h.Store.RequestCancel(c.Request.Context(), run.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel run"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "cancel_requested": true})
}

func (h *Handler) ResumeRun(c *gin.Context) {
	run, ok := h.load(c)
	if !ok {
		return
	}
	stage, err := pipeline.Resume(c.Request.Context(), h.Store, run.ID)
	if errors.Is(err, pipeline.ErrNotResumable) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("resume run", zap.String("run_id", run.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resume run"})
		return
	}
	if err := h.Queue.EnqueueStage(c.Request.Context(), run.ID, stage); err != nil {
		h.logger.Error("queue resumed run", zap.String("run_id", run.ID), zap.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "stage": stage})
}

func (h *Handler) ListBeats(c *gin.Context)      { c.JSON(http.StatusOK, h.Catalog.Beats()) }
func (h *Handler) ListArchetypes(c *gin.Context) { c.JSON(http.StatusOK, h.Catalog.Archetypes()) }
func (h *Handler) ListBackends(c *gin.Context)   { c.JSON(http.StatusOK, h.Catalog.Backends()) }
