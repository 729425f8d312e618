package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"pipeline/internal/applications"
	"pipeline/internal/database"
)

// ApplicationHandler serves the applicant's side of the application lifecycle.
type ApplicationHandler struct {
	db           *gorm.DB
	applications *applications.Service
}

func NewApplicationHandler(db *gorm.DB, apps *applications.Service) *ApplicationHandler {
	return &ApplicationHandler{db: db, applications: apps}
}

// createApplicationRequest 中的 status/appliedAt/profileId 为兼容旧客户端而接收，服务端忽略。
type createApplicationRequest struct {
	JobID           uint                     `json:"jobId" binding:"required"`
	ProfileID       *uint                    `json:"profileId"`
	Status          string                   `json:"status"`
	AppliedAt       string                   `json:"appliedAt"`
	ApplicationData database.ApplicationData `json:"applicationData"`
}

// Create POST /api/applications
func (h *ApplicationHandler) Create(c *gin.Context) {
	var req createApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	view, err := h.applications.Apply(c.Request.Context(), userID, req.JobID, req.ApplicationData, c.GetHeader(timezoneHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// List GET /api/applications
func (h *ApplicationHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	views, err := h.applications.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": views})
}

// Get GET /api/applications/:id
func (h *ApplicationHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	actor, ok := loadActor(c, h.db)
	if !ok {
		return
	}
	view, err := h.applications.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus PATCH /api/applications/:id/status
func (h *ApplicationHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	status, err := applications.ParseStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	actor, ok := loadActor(c, h.db)
	if !ok {
		return
	}
	view, err := h.applications.UpdateStatus(c.Request.Context(), actor, id, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
