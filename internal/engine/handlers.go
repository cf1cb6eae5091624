package engine

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wardlabs/ward/internal/rules"
)

// Handler provides HTTP endpoints for decisions.
type Handler struct {
	engine    *Engine
	decisions DecisionStore
}

// NewHandler creates a new decision handler.
func NewHandler(engine *Engine, decisions DecisionStore) *Handler {
	return &Handler{engine: engine, decisions: decisions}
}

// RegisterRoutes sets up decision routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/decide", h.Decide)
	r.GET("/decisions", h.List)
	r.GET("/decisions/:decisionId", h.Get)
}

// decideRequest is the evaluation payload for one event.
type decideRequest struct {
	Checkpoint  rules.Checkpoint   `json:"checkpoint" binding:"required"`
	Attributes  map[string]any     `json:"attributes"`
	ModelScores map[string]float64 `json:"modelScores"`
	Datasets    map[string]bool    `json:"datasets"`
	DryRun      bool               `json:"dryRun"`
}

// Decide handles POST /v1/decide
func (h *Handler) Decide(c *gin.Context) {
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "checkpoint is required"})
		return
	}
	if !rules.ValidCheckpoint(req.Checkpoint) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "unknown checkpoint"})
		return
	}

	facts := &FactSet{
		Attributes:  req.Attributes,
		ModelScores: req.ModelScores,
		Datasets:    req.Datasets,
	}
	if facts.Attributes == nil {
		facts.Attributes = map[string]any{}
	}
	if facts.ModelScores == nil {
		facts.ModelScores = map[string]float64{}
	}
	if facts.Datasets == nil {
		facts.Datasets = map[string]bool{}
	}

	d, err := h.engine.Decide(c.Request.Context(), req.Checkpoint, facts, req.DryRun)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "evaluation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": d})
}

// List handles GET /v1/decisions?checkpoint=&action=&limit=
func (h *Handler) List(c *gin.Context) {
	q := DecisionQuery{
		Checkpoint: rules.Checkpoint(c.Query("checkpoint")),
		Action:     rules.Action(c.Query("action")),
	}
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "limit must be an integer"})
			return
		}
		q.Limit = n
	}

	list, err := h.decisions.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if list == nil {
		list = []*Decision{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": list, "count": len(list)})
}

// Get handles GET /v1/decisions/:decisionId
func (h *Handler) Get(c *gin.Context) {
	d, err := h.decisions.Get(c.Request.Context(), c.Param("decisionId"))
	if err != nil {
		if err == ErrDecisionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "decision not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": d})
}
