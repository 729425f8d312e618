package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pipeline/internal/accounts"
	"pipeline/internal/api/middleware"
	"pipeline/internal/applications"
	"pipeline/internal/ingest"
	"pipeline/internal/jobs"
	"pipeline/internal/storage"
)

// AdminHandler 提供用户、额度、职位与申请的管理接口。路由组已经过 RequireAdmin。
type AdminHandler struct {
	accounts     *accounts.Service
	catalog      *jobs.Catalog
	ingest       *ingest.Service
	applications *applications.Service
	storage      storage.ObjectStore
	logger       *slog.Logger
}

func NewAdminHandler(accountsSvc *accounts.Service, catalog *jobs.Catalog, ingestSvc *ingest.Service, apps *applications.Service, store storage.ObjectStore, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		accounts:     accountsSvc,
		catalog:      catalog,
		ingest:       ingestSvc,
		applications: apps,
		storage:      store,
		logger:       logger,
	}
}

// ListUsers GET /api/admin/users?search=&page=&pageSize=
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page := queryInt(c, "page", 1)
	size := queryInt(c, "pageSize", 20)
	users, total, err := h.accounts.List(c.Request.Context(), c.Query("search"), page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "page": page, "pageSize": size})
}

type createUserRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	IsAdmin  bool   `json:"isAdmin"`
}

// CreateUser POST /api/admin/users，新账号首次登录必须改密。
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	user, err := h.accounts.Create(c.Request.Context(), accounts.CreateInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

type updateUserRequest struct {
	Username *string `json:"username" binding:"omitempty,min=3,max=32"`
	Email    *string `json:"email" binding:"omitempty,email,max=255"`
	IsAdmin  *bool   `json:"isAdmin"`
	Timezone *string `json:"timezone" binding:"omitempty,max=64"`
}

// UpdateUser PATCH /api/admin/users/:id
func (h *AdminHandler) UpdateUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if self, _ := userIDFromContext(c); self == id && req.IsAdmin != nil && !*req.IsAdmin {
		Forbidden(c, "admins cannot revoke their own admin role")
		return
	}
	user, err := h.accounts.Update(c.Request.Context(), id, accounts.Patch{
		Username: req.Username,
		Email:    req.Email,
		IsAdmin:  req.IsAdmin,
		Timezone: req.Timezone,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// DeleteUser DELETE /api/admin/users/:id，数据库事务提交后再清理对象存储。
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if self, _ := userIDFromContext(c); self == id {
		Forbidden(c, "admins cannot delete their own account")
		return
	}
	ctx := c.Request.Context()
	keys, err := h.accounts.Delete(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.storage != nil && len(keys) > 0 {
		storage.DeleteObjects(ctx, h.storage, keys, middleware.LoggerFromContext(c))
	}
	c.Status(http.StatusNoContent)
}

type adjustCreditsRequest struct {
	Operation string `json:"operation" binding:"required,oneof=add subtract set"`
	Amount    *int   `json:"amount" binding:"required,min=0"`
}

// AdjustCredits PATCH /api/admin/users/:id/credits
func (h *AdminHandler) AdjustCredits(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req adjustCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	user, err := h.accounts.AdjustCredits(c.Request.Context(), id, req.Operation, *req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": user.ID, "bankedCredits": user.BankedCredits})
}

// ListJobs GET /api/admin/jobs，包含已归档职位，可用 active=true|false 过滤。
func (h *AdminHandler) ListJobs(c *gin.Context) {
	q := jobs.Query{
		Search:   c.Query("search"),
		Type:     c.Query("type"),
		Location: c.Query("location"),
		Company:  c.Query("company"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 20),
	}
	switch c.Query("active") {
	case "true":
		q.ActiveOnly = true
	case "false":
		q.ArchivedOnly = true
	}
	page, err := h.catalog.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// CreateJob POST /api/admin/jobs
func (h *AdminHandler) CreateJob(c *gin.Context) {
	var rec ingest.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		bindError(c, err)
		return
	}
	job, err := h.ingest.Create(c.Request.Context(), rec)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

type importJobsRequest struct {
	Jobs []ingest.Record `json:"jobs" binding:"required,min=1,max=500"`
}

// ImportJobs POST /api/admin/jobs/import，逐条导入并返回每条结果。
func (h *AdminHandler) ImportJobs(c *gin.Context) {
	var req importJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	results := h.ingest.CreateBatch(c.Request.Context(), req.Jobs)
	failed := ingest.Failed(results)
	c.JSON(http.StatusOK, gin.H{
		"created": len(results) - failed,
		"failed":  failed,
		"results": results,
	})
}

type updateJobRequest struct {
	Title        *string `json:"title" binding:"omitempty,max=255"`
	Company      *string `json:"company" binding:"omitempty,max=255"`
	Location     *string `json:"location" binding:"omitempty,max=255"`
	Salary       *string `json:"salary" binding:"omitempty,max=128"`
	Type         *string `json:"type" binding:"omitempty,max=64"`
	Description  *string `json:"description"`
	Requirements *string `json:"requirements"`
	SourceURL    *string `json:"sourceUrl" binding:"omitempty,max=1024"`
	IsActive     *bool   `json:"isActive"`
}

// UpdateJob PATCH /api/admin/jobs/:id，isActive=false 归档，true 恢复。
func (h *AdminHandler) UpdateJob(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req updateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	job, err := h.catalog.Update(c.Request.Context(), id, jobs.Patch{
		Title:        req.Title,
		Company:      req.Company,
		Location:     req.Location,
		Salary:       req.Salary,
		Type:         req.Type,
		Description:  req.Description,
		Requirements: req.Requirements,
		SourceURL:    req.SourceURL,
		IsActive:     req.IsActive,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// DeleteJob DELETE /api/admin/jobs/:id
func (h *AdminHandler) DeleteJob(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.catalog.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListApplications GET /api/admin/applications?status=&userId=&jobId=&page=&pageSize=
func (h *AdminHandler) ListApplications(c *gin.Context) {
	f := applications.Filter{
		Status:   c.Query("status"),
		UserID:   uint(max(queryInt(c, "userId", 0), 0)),
		JobID:    uint(max(queryInt(c, "jobId", 0), 0)),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "pageSize", 20),
	}
	views, total, err := h.applications.ListAll(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": views, "total": total})
}

type guidanceRequest struct {
	Notes           *string    `json:"notes" binding:"omitempty,max=8000"`
	NextStep        *string    `json:"nextStep" binding:"omitempty,max=512"`
	NextStepDueDate *time.Time `json:"nextStepDueDate"`
	ClearDueDate    bool       `json:"clearDueDate"`
}

// UpdateGuidance PATCH /api/admin/applications/:id
func (h *AdminHandler) UpdateGuidance(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req guidanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	view, err := h.applications.UpdateGuidance(c.Request.Context(), id, applications.GuidanceInput{
		Notes:           req.Notes,
		NextStep:        req.NextStep,
		NextStepDueDate: req.NextStepDueDate,
		ClearDueDate:    req.ClearDueDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type interviewRequest struct {
	ScheduledAt time.Time `json:"scheduledAt" binding:"required"`
	Details     string    `json:"details" binding:"max=512"`
}

// ScheduleInterview POST /api/admin/applications/:id/interview
func (h *AdminHandler) ScheduleInterview(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req interviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	view, err := h.applications.ScheduleInterview(c.Request.Context(), id, req.ScheduledAt, req.Details)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
