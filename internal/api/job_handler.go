package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pipeline/internal/applications"
	"pipeline/internal/jobs"
)

// JobHandler serves the public job board.
type JobHandler struct {
	catalog      *jobs.Catalog
	applications *applications.Service
}

func NewJobHandler(catalog *jobs.Catalog, apps *applications.Service) *JobHandler {
	return &JobHandler{catalog: catalog, applications: apps}
}

// List GET /api/jobs，只返回在招职位。
func (h *JobHandler) List(c *gin.Context) {
	page, err := h.catalog.List(c.Request.Context(), jobs.Query{
		Search:     c.Query("search"),
		Type:       c.Query("type"),
		Location:   c.Query("location"),
		Company:    c.Query("company"),
		ActiveOnly: true,
		Page:       queryInt(c, "page", 1),
		PageSize:   queryInt(c, "pageSize", 20),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Get GET /api/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	job, err := h.catalog.Get(c.Request.Context(), id, false)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Applied GET /api/jobs/:id/applied
func (h *JobHandler) Applied(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	applied, err := h.applications.HasApplied(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": id, "applied": applied})
}
