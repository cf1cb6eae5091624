package cases

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wardlabs/ward/internal/pagination"
	"github.com/wardlabs/ward/internal/rules"
	"github.com/wardlabs/ward/internal/validation"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// Handler provides HTTP endpoints for the review queue.
type Handler struct {
	service *Service
}

// NewHandler creates a new case handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up case routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/cases", h.List)
	r.GET("/cases/:caseId", h.Get)
	r.POST("/cases/:caseId/assign", h.Assign)
	r.POST("/cases/:caseId/resolve", h.Resolve)
	r.POST("/cases/:caseId/notes", h.AddNote)
}

// List handles GET /v1/cases?status=&priority=&checkpoint=&assignee=&limit=&cursor=
func (h *Handler) List(c *gin.Context) {
	limit := defaultPageSize
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "limit must be a positive integer"})
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid cursor"})
		return
	}

	q := Query{
		Status:     Status(c.Query("status")),
		Priority:   rules.Severity(c.Query("priority")),
		Checkpoint: rules.Checkpoint(c.Query("checkpoint")),
		Assignee:   c.Query("assignee"),
		Cursor:     cursor,
		Limit:      limit + 1, // fetch one extra to detect the next page
	}

	list, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	page, next, hasMore := pagination.ComputePage(list, limit, func(cs *Case) (time.Time, string) {
		return cs.CreatedAt, cs.ID
	})
	if page == nil {
		page = []*Case{}
	}
	c.JSON(http.StatusOK, gin.H{
		"cases":       page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

// Get handles GET /v1/cases/:caseId
func (h *Handler) Get(c *gin.Context) {
	cs, err := h.service.Get(c.Request.Context(), c.Param("caseId"))
	if err != nil {
		if errors.Is(err, ErrCaseNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "case not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": cs})
}

type assignRequest struct {
	Assignee string `json:"assignee" binding:"required"`
}

// Assign handles POST /v1/cases/:caseId/assign
func (h *Handler) Assign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "assignee is required"})
		return
	}

	cs, err := h.service.Assign(c.Request.Context(), c.Param("caseId"), validation.SanitizeString(req.Assignee, 100))
	if err != nil {
		respondCaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": cs})
}

type resolveRequest struct {
	Resolution Resolution `json:"resolution" binding:"required"`
	Resolver   string     `json:"resolver"`
}

// Resolve handles POST /v1/cases/:caseId/resolve
func (h *Handler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "resolution is required"})
		return
	}
	if !ValidResolution(req.Resolution) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "unknown resolution"})
		return
	}

	cs, err := h.service.Resolve(c.Request.Context(), c.Param("caseId"), req.Resolution,
		validation.SanitizeString(req.Resolver, 100))
	if err != nil {
		respondCaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": cs})
}

type noteRequest struct {
	Author string `json:"author" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

// AddNote handles POST /v1/cases/:caseId/notes
func (h *Handler) AddNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "author and text are required"})
		return
	}

	cs, err := h.service.AddNote(c.Request.Context(), c.Param("caseId"),
		validation.SanitizeString(req.Author, 100), validation.SanitizeString(req.Text, 2000))
	if err != nil {
		respondCaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"case": cs})
}

func respondCaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrCaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "case not found"})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
