package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pipeline/internal/feedback"
	"pipeline/internal/reports"
)

// ReportHandler covers job reports and product feedback, both user and admin sides.
type ReportHandler struct {
	reports  *reports.Service
	feedback *feedback.Service
}

func NewReportHandler(reportsSvc *reports.Service, feedbackSvc *feedback.Service) *ReportHandler {
	return &ReportHandler{reports: reportsSvc, feedback: feedbackSvc}
}

type createReportRequest struct {
	JobID    uint   `json:"jobId" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
	Comments string `json:"comments" binding:"max=4000"`
}

// CreateReport POST /api/reported-jobs
func (h *ReportHandler) CreateReport(c *gin.Context) {
	var req createReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	report, err := h.reports.Create(c.Request.Context(), userID, req.JobID, req.Reason, req.Comments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// ListReports GET /api/admin/reported-jobs?status=
func (h *ReportHandler) ListReports(c *gin.Context) {
	rows, err := h.reports.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": rows})
}

// GetReport GET /api/admin/reported-jobs/:id
func (h *ReportHandler) GetReport(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	row, err := h.reports.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

type reviewReportRequest struct {
	Status     string  `json:"status"`
	AdminNotes *string `json:"adminNotes" binding:"omitempty,max=4000"`
}

// ReviewReport PATCH /api/admin/reported-jobs/:id
func (h *ReportHandler) ReviewReport(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req reviewReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	reviewer, _ := userIDFromContext(c)
	row, err := h.reports.Review(c.Request.Context(), reviewer, id, req.Status, req.AdminNotes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

// DeleteReport DELETE /api/admin/reported-jobs/:id
func (h *ReportHandler) DeleteReport(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.reports.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type submitFeedbackRequest struct {
	Rating   int    `json:"rating" binding:"required"`
	Category string `json:"category" binding:"required"`
	Comment  string `json:"comment"`
}

// SubmitFeedback POST /api/feedback
func (h *ReportHandler) SubmitFeedback(c *gin.Context) {
	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	row, err := h.feedback.Submit(c.Request.Context(), userID, req.Rating, req.Category, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, row)
}

// ListOwnFeedback GET /api/feedback
func (h *ReportHandler) ListOwnFeedback(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	rows, err := h.feedback.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": rows})
}

// ListAllFeedback GET /api/admin/feedback
func (h *ReportHandler) ListAllFeedback(c *gin.Context) {
	rows, err := h.feedback.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": rows})
}
