package simulation

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wardlabs/ward/internal/idgen"
	"github.com/wardlabs/ward/internal/rules"
)

// Handler provides HTTP endpoints for replays and corpus ingestion.
type Handler struct {
	engine *Engine
	corpus CorpusStore
}

// NewHandler creates a new simulation handler.
func NewHandler(engine *Engine, corpus CorpusStore) *Handler {
	return &Handler{engine: engine, corpus: corpus}
}

// RegisterRoutes sets up simulation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/simulations", h.Simulate)
	r.POST("/corpus/records", h.AddRecord)
	r.GET("/corpus/stats", h.Stats)
}

type simulateRequest struct {
	RuleID         string     `json:"ruleId" binding:"required"`
	ThresholdDelta float64    `json:"thresholdDelta"`
	From           *time.Time `json:"from"`
	To             *time.Time `json:"to"`
}

// Simulate handles POST /v1/simulations
func (h *Handler) Simulate(c *gin.Context) {
	var req simulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "ruleId is required"})
		return
	}

	r := Request{RuleID: req.RuleID, ThresholdDelta: req.ThresholdDelta}
	if req.From != nil {
		r.From = *req.From
	}
	if req.To != nil {
		r.To = *req.To
	}

	report, err := h.engine.Simulate(c.Request.Context(), r)
	if err != nil {
		switch {
		case errors.Is(err, ErrIncomplete):
			// Partial tallies are still useful; the caller sees complete=false.
			c.JSON(http.StatusOK, gin.H{"report": report})
		case errors.Is(err, rules.ErrRuleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "replay failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

type recordRequest struct {
	Checkpoint  rules.Checkpoint   `json:"checkpoint" binding:"required"`
	Attributes  map[string]any     `json:"attributes"`
	ModelScores map[string]float64 `json:"modelScores"`
	Datasets    map[string]bool    `json:"datasets"`
	FraudLabel  *bool              `json:"fraudLabel"`
	OccurredAt  *time.Time         `json:"occurredAt"`
}

// AddRecord handles POST /v1/corpus/records
func (h *Handler) AddRecord(c *gin.Context) {
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "checkpoint is required"})
		return
	}
	if !rules.ValidCheckpoint(req.Checkpoint) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "unknown checkpoint"})
		return
	}

	occurred := time.Now().UTC()
	if req.OccurredAt != nil {
		occurred = req.OccurredAt.UTC()
	}
	rec := &Record{
		ID:          idgen.WithPrefix("rec_"),
		Checkpoint:  req.Checkpoint,
		Attributes:  req.Attributes,
		ModelScores: req.ModelScores,
		Datasets:    req.Datasets,
		FraudLabel:  req.FraudLabel,
		OccurredAt:  occurred,
	}
	if rec.Attributes == nil {
		rec.Attributes = map[string]any{}
	}
	if rec.ModelScores == nil {
		rec.ModelScores = map[string]float64{}
	}
	if rec.Datasets == nil {
		rec.Datasets = map[string]bool{}
	}

	if err := h.corpus.Add(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to store record"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": rec})
}

// Stats handles GET /v1/corpus/stats
func (h *Handler) Stats(c *gin.Context) {
	n, err := h.corpus.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": n})
}
