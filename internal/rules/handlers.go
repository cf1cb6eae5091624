package rules

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wardlabs/ward/internal/idgen"
	"github.com/wardlabs/ward/internal/validation"
)

// Handler provides HTTP endpoints for rule CRUD.
type Handler struct {
	store Store
}

// NewHandler creates a new rule handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up rule routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/rules", h.Create)
	r.GET("/rules", h.List)
	r.GET("/rules/:ruleId", h.Get)
	r.PUT("/rules/:ruleId", h.Update)
	r.DELETE("/rules/:ruleId", h.Delete)
}

// ruleRequest is the authoring payload for create and full-replace update.
type ruleRequest struct {
	Name       string      `json:"name" binding:"required"`
	Checkpoint Checkpoint  `json:"checkpoint"`
	Type       Type        `json:"type" binding:"required"`
	Status     Status      `json:"status"`
	Priority   int         `json:"priority"`
	Action     Action      `json:"action" binding:"required"`
	Severity   Severity    `json:"severity" binding:"required"`
	Conditions []Condition `json:"conditions" binding:"required"`
}

// Create handles POST /v1/rules
func (h *Handler) Create(c *gin.Context) {
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "name, type, action, severity and conditions are required"})
		return
	}

	status := req.Status
	if status == "" {
		status = StatusInactive // new rules start inactive until promoted
	}

	now := time.Now()
	r := &Rule{
		ID:         idgen.WithPrefix("rule_"),
		Name:       validation.SanitizeString(req.Name, 200),
		Checkpoint: req.Checkpoint,
		Type:       req.Type,
		Status:     status,
		Priority:   req.Priority,
		Action:     req.Action,
		Severity:   req.Severity,
		Conditions: req.Conditions,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}

	if err := h.store.Create(c.Request.Context(), r); err != nil {
		if err == ErrNameTaken {
			c.JSON(http.StatusConflict, gin.H{"error": "name_taken", "message": "rule name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create rule"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rule": r})
}

// List handles GET /v1/rules?checkpoint=&status=&priority=
func (h *Handler) List(c *gin.Context) {
	q := Query{
		Checkpoint: Checkpoint(c.Query("checkpoint")),
		Status:     Status(c.Query("status")),
	}
	if p := c.Query("priority"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "priority must be an integer"})
			return
		}
		q.Priority = &n
	}

	list, err := h.store.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if list == nil {
		list = []*Rule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": list, "count": len(list)})
}

// Get handles GET /v1/rules/:ruleId
func (h *Handler) Get(c *gin.Context) {
	r, err := h.store.Get(c.Request.Context(), c.Param("ruleId"))
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": r})
}

// Update handles PUT /v1/rules/:ruleId (full replace of the definition;
// performance counters are never writable through the API).
func (h *Handler) Update(c *gin.Context) {
	existing, err := h.store.Get(c.Request.Context(), c.Param("ruleId"))
	if err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "name, type, action, severity and conditions are required"})
		return
	}

	status := req.Status
	if status == "" {
		status = existing.Status
	}

	r := &Rule{
		ID:         existing.ID,
		Name:       validation.SanitizeString(req.Name, 200),
		Checkpoint: req.Checkpoint,
		Type:       req.Type,
		Status:     status,
		Priority:   req.Priority,
		Action:     req.Action,
		Severity:   req.Severity,
		Conditions: req.Conditions,
		CreatedAt:  existing.CreatedAt,
		UpdatedAt:  time.Now(),
	}

	if err := r.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	}

	if err := h.store.Update(c.Request.Context(), r); err != nil {
		if err == ErrNameTaken {
			c.JSON(http.StatusConflict, gin.H{"error": "name_taken", "message": "rule name already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to update rule"})
		return
	}

	r.Performance = existing.Performance
	c.JSON(http.StatusOK, gin.H{"rule": r})
}

// Delete handles DELETE /v1/rules/:ruleId
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("ruleId")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if err == ErrRuleNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to delete rule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rule deleted", "id": id})
}
